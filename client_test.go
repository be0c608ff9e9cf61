package keycloak_test

import (
	"context"
	"sync"
	"testing"

	keycloak "github.com/urbanplatform/keycloak-go"
)

func TestClaimsHelpers(t *testing.T) {
	claims := ownerClaims()

	if !claims.Active() {
		t.Error("Active() = false for active claims")
	}
	if claims.Subject() != testSubject {
		t.Errorf("Subject() = %q", claims.Subject())
	}
	if roles := claims.ClientRoles("backend"); len(roles) != 1 || roles[0] != "user" {
		t.Errorf("ClientRoles = %v", roles)
	}
	if roles := claims.ClientRoles("other-client"); roles != nil {
		t.Errorf("ClientRoles for an unknown client = %v, want nil", roles)
	}
	if roles := claims.RealmRoles(); len(roles) != 1 || roles[0] != "offline_access" {
		t.Errorf("RealmRoles = %v", roles)
	}
	if scopes := claims.Scopes(); len(scopes) != 3 {
		t.Errorf("Scopes = %v", scopes)
	}

	empty := keycloak.Claims{}
	if empty.Active() {
		t.Error("empty claims must be inactive")
	}
	if empty.Scopes() != nil {
		t.Error("empty claims must have no scopes")
	}
}

func TestUserInfoFromClaims(t *testing.T) {
	info := keycloak.UserInfoFromClaims(ownerClaims())
	if info.Subject != testSubject {
		t.Errorf("Subject = %q", info.Subject)
	}
	if info.PreferredUsername != testUsername {
		t.Errorf("PreferredUsername = %q", info.PreferredUsername)
	}
	if info.GivenName != "Owner" || info.FamilyName != "Arnold" {
		t.Errorf("names = %q %q", info.GivenName, info.FamilyName)
	}
	if !info.EmailVerified {
		t.Error("EmailVerified = false")
	}
}

func TestConcurrentValidationsCoalesce(t *testing.T) {
	prov := ownerProvider()
	client := newTestClient(t, testConfig(), keycloak.WithProvider(prov))
	ctx := context.Background()

	token, err := client.TokenFromAccessToken(ctx, testAccess)
	if err != nil || token == nil {
		t.Fatalf("TokenFromAccessToken: token=%v err=%v", token, err)
	}
	base := prov.IntrospectCalls.Load()

	// Hammer a fresh token string concurrently: the stampede must collapse
	// into one introspection.
	prov.SetToken("fresh-token", ownerClaims())
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.TokenFromAccessToken(ctx, "fresh-token"); err != nil {
				t.Errorf("concurrent validation: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := prov.IntrospectCalls.Load() - base; got != 1 {
		t.Errorf("introspect calls for one token under contention = %d, want 1", got)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	if keycloak.UserFromContext(ctx) != nil {
		t.Error("empty context must hold no user")
	}

	u := &keycloak.User{ID: testSubject, Username: testUsername}
	ru := &keycloak.RemoteUser{Username: testUsername}

	ctx = keycloak.WithUser(ctx, u)
	ctx = keycloak.WithRemoteUser(ctx, ru)

	if got := keycloak.UserFromContext(ctx); got != u {
		t.Error("UserFromContext did not round-trip")
	}
	if got := keycloak.RemoteUserFromContext(ctx); got != ru {
		t.Error("RemoteUserFromContext did not round-trip")
	}
	if keycloak.TokenFromContext(ctx) != nil {
		t.Error("TokenFromContext must be nil when unset")
	}
}
