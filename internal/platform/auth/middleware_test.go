package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serve(t *testing.T, handler http.Handler, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]interface{}{
				"role":  []interface{}{"Staff", "admin", "staff"},
				"email": "seller@example.com",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.RequireFirebaseAuth(RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.Email != "seller@example.com" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 2 || !identity.HasRole(RoleAdmin) || !identity.HasRole("STAFF") {
			t.Fatalf("expected deduplicated staff and admin roles, got %v", identity.Roles)
		}
		if identity.Token() == nil {
			t.Fatalf("expected token to be retained")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := serve(t, handler, "Bearer token-value")
	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected handler to run with 204, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireFirebaseAuth_MissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{})
	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without a token")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer   "} {
		rr := serve(t, handler, header)
		if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "unauthenticated" {
			t.Fatalf("header %q: expected 401 unauthenticated, got %d %s", header, rr.Code, rr.Body.String())
		}
	}
}

func TestRequireFirebaseAuth_ExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired})
	handler := authn.RequireFirebaseAuth(RoleCustomer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	rr := serve(t, handler, "Bearer expired-token")
	if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "token_expired" {
		t.Fatalf("expected 401 token_expired, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRequireFirebaseAuth_InsufficientRoleIsForbidden(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{UID: "uid-9", Claims: map[string]interface{}{"role": "customer"}},
	}
	authn := NewAuthenticator(verifier)
	handler := authn.RequireFirebaseAuth(RoleStaff, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("customer must not reach a staff route")
	}))

	rr := serve(t, handler, "Bearer customer-token")
	if rr.Code != http.StatusForbidden || errorCode(t, rr) != "insufficient_role" {
		t.Fatalf("expected 403 insufficient_role, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRequireFirebaseAuth_MissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{UID: "uid-456", Claims: map[string]interface{}{}},
	}
	authn := NewAuthenticator(verifier)

	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleCustomer {
			t.Fatalf("expected fallback role %q, got %v", RoleCustomer, identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if rr := serve(t, handler, "Bearer missing-role-token"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRolesFromClaimsMapForm(t *testing.T) {
	roles := rolesFromClaims(map[string]interface{}{
		"role": map[string]interface{}{"admin": true, "staff": false, "customer": "yes"},
	}, "role")
	if len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("expected only enabled boolean roles, got %v", roles)
	}
}
