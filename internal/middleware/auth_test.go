package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/darkden-lab/bazaar-realtime/internal/auth"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

type staticAccounts map[string]bool

func (s staticAccounts) IsActive(_ context.Context, userID string) (bool, error) {
	return s[userID], nil
}

func newValidator(t *testing.T, active ...string) (*auth.Validator, *auth.JWTService) {
	t.Helper()
	jwtSvc := auth.NewJWTService("middleware-test-secret")
	accounts := staticAccounts{}
	for _, id := range active {
		accounts[id] = true
	}
	return auth.NewValidator(jwtSvc, accounts, time.Minute), jwtSvc
}

func TestAuthMiddleware(t *testing.T) {
	validator, jwtSvc := newValidator(t, "u-1")

	good, err := jwtSvc.GenerateToken("u-1", auth.RoleSeller)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	inactive, err := jwtSvc.GenerateToken("u-2", auth.RoleSeller)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + good, http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"inactive account", "Bearer " + inactive, http.StatusUnauthorized},
		{"valid", "Bearer " + good, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen auth.Identity
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = auth.IdentityFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			AuthMiddleware(validator)(next).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("SECURITY: expected %d, got %d", tt.want, rr.Code)
			}
			if tt.want == http.StatusOK && (seen.UserID != "u-1" || seen.Role != auth.RoleSeller) {
				t.Errorf("identity not propagated, got %+v", seen)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		id   *auth.Identity
		want int
	}{
		{"no identity", nil, http.StatusUnauthorized},
		{"customer denied", &auth.Identity{UserID: "c", Role: auth.RoleCustomer}, http.StatusForbidden},
		{"seller denied", &auth.Identity{UserID: "s", Role: auth.RoleSeller}, http.StatusForbidden},
		{"admin allowed", &auth.Identity{UserID: "a", Role: auth.RoleAdmin}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.id != nil {
				req = req.WithContext(auth.ContextWithIdentity(req.Context(), *tt.id))
			}
			rr := httptest.NewRecorder()
			RequireRole(auth.RoleAdmin)(okHandler).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("SECURITY: expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}
