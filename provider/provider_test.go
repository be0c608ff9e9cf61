package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	keycloak "github.com/urbanplatform/keycloak-go"
)

func testConfig(serverURL string) keycloak.Config {
	return keycloak.Config{
		ServerURL:       serverURL,
		Realm:           "city",
		ClientID:        "backend",
		ClientSecretKey: "s3cr3t",
	}
}

func pairJSON() string {
	return `{"access_token":"at-1","refresh_token":"rt-1","expires_in":300,"refresh_expires_in":1800}`
}

func TestExchangeCredentials(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realms/city/protocol/openid-connect/token" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(pairJSON()))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	pair, err := c.ExchangeCredentials(context.Background(), "ownerA", "PWowNerA0!")
	if err != nil {
		t.Fatalf("ExchangeCredentials: %v", err)
	}
	if pair.AccessToken != "at-1" || pair.RefreshToken != "rt-1" {
		t.Errorf("pair = %+v", pair)
	}
	if pair.ExpiresIn != 300 {
		t.Errorf("expires_in = %d, want 300", pair.ExpiresIn)
	}

	want := map[string]string{
		"grant_type":    "password",
		"client_id":     "backend",
		"client_secret": "s3cr3t",
		"username":      "ownerA",
		"password":      "PWowNerA0!",
		"scope":         "openid",
	}
	for k, v := range want {
		if gotForm[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, gotForm[k], v)
		}
	}
}

func TestExchangeCredentialsFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rejected", http.StatusUnauthorized, `{"error":"invalid_grant"}`, keycloak.ErrAuthFailed},
		{"incomplete account", http.StatusBadRequest,
			`{"error":"invalid_grant","error_description":"Account is not fully set up"}`,
			keycloak.ErrAccountIncomplete},
		{"other 400", http.StatusBadRequest, `{"error":"invalid_request"}`, keycloak.ErrAuthFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(testConfig(srv.URL)).ExchangeCredentials(context.Background(), "u", "p")
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestExchangeCredentialsServerFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).ExchangeCredentials(context.Background(), "u", "p")
	var pe *keycloak.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if pe.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", pe.Status)
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing is listening any more

	_, err := New(testConfig(srv.URL)).ExchangeCredentials(context.Background(), "u", "p")
	var pe *keycloak.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if pe.Status != 0 {
		t.Errorf("status = %d, want 0 for a transport failure", pe.Status)
	}
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token = %q", got)
		}
		_, _ = w.Write([]byte(pairJSON()))
	}))
	defer srv.Close()

	pair, err := New(testConfig(srv.URL)).Refresh(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.AccessToken != "at-1" {
		t.Errorf("access token = %q", pair.AccessToken)
	}
}

func TestRefreshRejected(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		}))

		_, err := New(testConfig(srv.URL)).Refresh(context.Background(), "rt-dead")
		if !errors.Is(err, keycloak.ErrTokenInactive) {
			t.Errorf("status %d: err = %v, want ErrTokenInactive", status, err)
		}
		srv.Close()
	}
}

func TestClientCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q", got)
		}
		_, _ = w.Write([]byte(pairJSON()))
	}))
	defer srv.Close()

	pair, err := New(testConfig(srv.URL)).ClientCredentials(context.Background())
	if err != nil {
		t.Fatalf("ClientCredentials: %v", err)
	}
	if pair.AccessToken != "at-1" {
		t.Errorf("access token = %q", pair.AccessToken)
	}
}

func TestIntrospect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/token/introspect") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("token"); got != "at-1" {
			t.Errorf("token = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"active": true,
			"sub":    "sub-1",
			"scope":  "openid profile",
		})
	}))
	defer srv.Close()

	claims, err := New(testConfig(srv.URL)).Introspect(context.Background(), "at-1")
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if !claims.Active() {
		t.Error("claims must be active")
	}
	if claims.Subject() != "sub-1" {
		t.Errorf("subject = %q", claims.Subject())
	}
}

func TestIntrospectInactiveVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"active":false}`))
	}))
	defer srv.Close()

	claims, err := New(testConfig(srv.URL)).Introspect(context.Background(), "garbage")
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if claims.Active() {
		t.Error("inactive introspection must stay inactive")
	}
}

func TestUserInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"sub":"sub-1","preferred_username":"ownerA"}`))
	}))
	defer srv.Close()

	claims, err := New(testConfig(srv.URL)).UserInfo(context.Background(), "at-1")
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if claims.Subject() != "sub-1" {
		t.Errorf("subject = %q", claims.Subject())
	}
}

func TestUserInfoExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).UserInfo(context.Background(), "expired")
	if !errors.Is(err, keycloak.ErrTokenInactive) {
		t.Errorf("err = %v, want ErrTokenInactive", err)
	}
}

func TestPublicKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realms/city" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"realm":"city","public_key":"MIIBIjAN"}`))
	}))
	defer srv.Close()

	pem, err := New(testConfig(srv.URL)).PublicKey(context.Background())
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	want := "-----BEGIN PUBLIC KEY-----\nMIIBIjAN\n-----END PUBLIC KEY-----"
	if pem != want {
		t.Errorf("pem = %q, want %q", pem, want)
	}
}

func TestInternalURLKeepsPublicHost(t *testing.T) {
	var gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		_, _ = w.Write([]byte(pairJSON()))
	}))
	defer srv.Close()

	cfg := testConfig("https://auth.example.com")
	cfg.InternalURL = srv.URL

	if _, err := New(cfg).ClientCredentials(context.Background()); err != nil {
		t.Fatalf("ClientCredentials: %v", err)
	}
	if gotHost != "auth.example.com" {
		t.Errorf("host = %q, want the public host", gotHost)
	}
}
