package keycloak

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied by Config.withDefaults.
const (
	// DefaultCacheTTL is the claims-cache window: within it, repeated
	// validations of the same token string hit the cache instead of the
	// provider.
	DefaultCacheTTL = 60 * time.Second

	// DefaultTimeout bounds every provider HTTP call.
	DefaultTimeout = 10 * time.Second

	// DefaultTokenPrefix is the expected authorization scheme keyword.
	DefaultTokenPrefix = "Bearer"

	// DefaultAudience is the audience verified in decode mode. Keycloak
	// puts "account" on user access tokens.
	DefaultAudience = "account"

	// DefaultAdminRole is the role name granting staff/superuser status
	// when no explicit role is configured.
	DefaultAdminRole = "admin"
)

// Config holds the Keycloak connection and behaviour settings.
type Config struct {
	// ServerURL is the base URL of the Keycloak server as reachable by end
	// users, e.g. "https://auth.example.com".
	ServerURL string `mapstructure:"server_url"`

	// Realm is the Keycloak realm this client is registered in.
	Realm string `mapstructure:"realm"`

	// ClientID identifies this confidential client within the realm.
	ClientID string `mapstructure:"client_id"`

	// ClientSecretKey is the client's secret.
	ClientSecretKey string `mapstructure:"client_secret_key"`

	// ClientAdminRole is the client role granting staff/superuser status.
	ClientAdminRole string `mapstructure:"client_admin_role"`

	// RealmAdminRole is the realm role granting staff/superuser status.
	RealmAdminRole string `mapstructure:"realm_admin_role"`

	// ExemptURIs lists regex path patterns that bypass authentication,
	// matched against the request path with the leading slash stripped.
	ExemptURIs []string `mapstructure:"exempt_uris"`

	// InternalURL overrides ServerURL for calls from this service, for
	// deployments where the provider is reached over a private network.
	// Requests still present the public host.
	InternalURL string `mapstructure:"internal_url"`

	// BasePath is an optional provider API path prefix ("/auth" on legacy
	// Keycloak installations).
	BasePath string `mapstructure:"base_path"`

	// DecodeToken selects local decoding over remote introspection.
	DecodeToken bool `mapstructure:"decode_token"`

	// VerifyAudience enables audience verification in decode mode.
	VerifyAudience bool `mapstructure:"verify_audience"`

	// Audience is the audience expected in decode mode.
	Audience string `mapstructure:"audience"`

	// UserInfoInToken indicates the decoded token carries the full profile,
	// skipping the separate userinfo call.
	UserInfoInToken bool `mapstructure:"user_info_in_token"`

	// TokenPrefix is the expected authorization scheme keyword.
	TokenPrefix string `mapstructure:"token_prefix"`

	// CacheTTL is the claims-cache validity window.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// Timeout bounds each provider HTTP call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Validate checks the required settings, mirroring the names an operator
// configures them under.
func (c Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"SERVER_URL", c.ServerURL},
		{"REALM", c.Realm},
		{"CLIENT_ID", c.ClientID},
		{"CLIENT_SECRET_KEY", c.ClientSecretKey},
	}
	for _, r := range required {
		if r.value == "" {
			return &MissingSettingError{Setting: r.name}
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ClientAdminRole == "" {
		c.ClientAdminRole = DefaultAdminRole
	}
	if c.RealmAdminRole == "" {
		c.RealmAdminRole = DefaultAdminRole
	}
	if c.TokenPrefix == "" {
		c.TokenPrefix = DefaultTokenPrefix
	}
	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// BaseURL returns the provider URL this service should call: InternalURL
// when set, ServerURL otherwise, with BasePath appended.
func (c Config) BaseURL() string {
	base := c.ServerURL
	if c.InternalURL != "" {
		base = c.InternalURL
	}
	return strings.TrimSuffix(base, "/") + c.BasePath
}

// RealmURL returns the OIDC base for the configured realm.
func (c Config) RealmURL() string {
	return fmt.Sprintf("%s/realms/%s", c.BaseURL(), c.Realm)
}

// AdminRealmURL returns the admin API base for the configured realm.
func (c Config) AdminRealmURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.BaseURL(), c.Realm)
}

// LoadConfig reads a Config from the given file (YAML, TOML or JSON, decided
// by extension) with environment variable overrides under the KEYCLOAK_
// prefix (e.g. KEYCLOAK_CLIENT_SECRET_KEY).
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("keycloak")
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so each setting is bound
	// explicitly to its environment variable.
	for _, key := range []string{
		"server_url", "realm", "client_id", "client_secret_key",
		"client_admin_role", "realm_admin_role", "internal_url", "base_path",
		"decode_token", "verify_audience", "audience", "user_info_in_token",
		"token_prefix", "cache_ttl", "timeout",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("keycloak: read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("keycloak: unmarshal config: %w", err)
	}
	return cfg, nil
}
