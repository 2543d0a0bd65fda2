package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnauthenticated wraps every credential rejection.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is what a validated credential resolves to.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// AccountChecker reports whether an identity still maps to an active account.
type AccountChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

// AllowAllAccounts treats every identity as active. Used when no account
// store is configured.
type AllowAllAccounts struct{}

func (AllowAllAccounts) IsActive(context.Context, string) (bool, error) { return true, nil }

type cachedAccount struct {
	active    bool
	expiresAt time.Time
}

// Validator resolves a token to an Identity. It fails closed: any failure
// returns a zero Identity and an error wrapping ErrUnauthenticated.
type Validator struct {
	jwt      *JWTService
	accounts AccountChecker

	mu    sync.RWMutex
	cache map[string]cachedAccount
	ttl   time.Duration
	now   func() time.Time
}

func NewValidator(jwtService *JWTService, accounts AccountChecker, ttl time.Duration) *Validator {
	if accounts == nil {
		accounts = AllowAllAccounts{}
	}
	return &Validator{
		jwt:      jwtService,
		accounts: accounts,
		cache:    make(map[string]cachedAccount),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (v *Validator) Validate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims, err := v.jwt.ValidateToken(token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	active, err := v.isActive(ctx, claims.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: account lookup failed: %v", ErrUnauthenticated, err)
	}
	if !active {
		return Identity{}, fmt.Errorf("%w: account %s is not active", ErrUnauthenticated, claims.UserID)
	}

	return Identity{UserID: claims.UserID, Role: role}, nil
}

func (v *Validator) isActive(ctx context.Context, userID string) (bool, error) {
	v.mu.RLock()
	cached, ok := v.cache[userID]
	v.mu.RUnlock()

	if ok && v.now().Before(cached.expiresAt) {
		return cached.active, nil
	}

	active, err := v.accounts.IsActive(ctx, userID)
	if err != nil {
		return false, err
	}

	if v.ttl > 0 {
		v.mu.Lock()
		v.cache[userID] = cachedAccount{active: active, expiresAt: v.now().Add(v.ttl)}
		v.mu.Unlock()
	}
	return active, nil
}

// Invalidate drops the cached account status for userID.
func (v *Validator) Invalidate(userID string) {
	v.mu.Lock()
	delete(v.cache, userID)
	v.mu.Unlock()
}
