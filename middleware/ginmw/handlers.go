package ginmw

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	keycloak "github.com/urbanplatform/keycloak-go"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Login returns a handler for POST {username, password} that exchanges the
// credentials for a token pair. Rejected credentials yield 401 with a
// generic message.
func Login(client *keycloak.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "username and password are required"})
			return
		}

		pair, err := client.Provider().ExchangeCredentials(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, keycloak.ErrAuthFailed) || errors.Is(err, keycloak.ErrAccountIncomplete) {
				c.JSON(http.StatusUnauthorized, gin.H{"detail": unauthorizedMessage})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"detail": "authentication service unavailable"})
			return
		}
		c.JSON(http.StatusOK, pair)
	}
}

// Refresh returns a handler for POST {refresh_token} that renews a token
// pair. A rejected or expired refresh token yields 401.
func Refresh(client *keycloak.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "refresh_token is required"})
			return
		}

		pair, err := client.Provider().Refresh(c.Request.Context(), req.RefreshToken)
		if err != nil {
			if errors.Is(err, keycloak.ErrTokenInactive) {
				c.JSON(http.StatusUnauthorized, gin.H{"detail": unauthorizedMessage})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"detail": "authentication service unavailable"})
			return
		}
		c.JSON(http.StatusOK, pair)
	}
}
