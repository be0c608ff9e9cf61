package keycloak_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	keycloak "github.com/urbanplatform/keycloak-go"
	"github.com/urbanplatform/keycloak-go/fake"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*keycloak.Config)
		missing string
	}{
		{"no server url", func(c *keycloak.Config) { c.ServerURL = "" }, "SERVER_URL"},
		{"no realm", func(c *keycloak.Config) { c.Realm = "" }, "REALM"},
		{"no client id", func(c *keycloak.Config) { c.ClientID = "" }, "CLIENT_ID"},
		{"no client secret", func(c *keycloak.Config) { c.ClientSecretKey = "" }, "CLIENT_SECRET_KEY"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)

			_, err := keycloak.NewClient(cfg, keycloak.WithProvider(fake.New()))
			var missing *keycloak.MissingSettingError
			if !errors.As(err, &missing) {
				t.Fatalf("error = %v, want MissingSettingError", err)
			}
			if missing.Setting != tc.missing {
				t.Errorf("missing setting = %q, want %q", missing.Setting, tc.missing)
			}
		})
	}
}

func TestNewClientRequiresProvider(t *testing.T) {
	if _, err := keycloak.NewClient(testConfig()); err == nil {
		t.Fatal("expected an error without a provider")
	}
}

func TestNewClientRequiresDecoderInDecodeMode(t *testing.T) {
	cfg := testConfig()
	cfg.DecodeToken = true
	if _, err := keycloak.NewClient(cfg, keycloak.WithProvider(fake.New())); err == nil {
		t.Fatal("expected an error in decode mode without a decoder")
	}
}

func TestConfigURLs(t *testing.T) {
	cfg := keycloak.Config{
		ServerURL: "https://auth.example.com/",
		Realm:     "city",
	}
	if got, want := cfg.RealmURL(), "https://auth.example.com/realms/city"; got != want {
		t.Errorf("RealmURL = %q, want %q", got, want)
	}
	if got, want := cfg.AdminRealmURL(), "https://auth.example.com/admin/realms/city"; got != want {
		t.Errorf("AdminRealmURL = %q, want %q", got, want)
	}

	// INTERNAL_URL redirects this service's calls; BASE_PATH covers legacy
	// installations serving under /auth.
	cfg.InternalURL = "http://keycloak.svc.cluster.local:8080"
	cfg.BasePath = "/auth"
	if got, want := cfg.RealmURL(), "http://keycloak.svc.cluster.local:8080/auth/realms/city"; got != want {
		t.Errorf("RealmURL with internal url = %q, want %q", got, want)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keycloak.yaml")
	contents := `
server_url: https://auth.example.com
realm: city
client_id: backend
client_secret_key: from-file
decode_token: true
exempt_uris:
  - healthz
  - metrics
cache_ttl: 30s
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := keycloak.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Realm != "city" {
		t.Errorf("realm = %q, want city", cfg.Realm)
	}
	if !cfg.DecodeToken {
		t.Error("decode_token not loaded")
	}
	if len(cfg.ExemptURIs) != 2 {
		t.Errorf("exempt uris = %v, want 2 entries", cfg.ExemptURIs)
	}
	if cfg.CacheTTL.Seconds() != 30 {
		t.Errorf("cache ttl = %v, want 30s", cfg.CacheTTL)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keycloak.yaml")
	contents := "server_url: https://auth.example.com\nrealm: city\nclient_id: backend\nclient_secret_key: from-file\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KEYCLOAK_CLIENT_SECRET_KEY", "from-env")

	cfg, err := keycloak.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ClientSecretKey != "from-env" {
		t.Errorf("client secret = %q, want the environment override", cfg.ClientSecretKey)
	}
}
