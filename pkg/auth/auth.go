// Package auth supplies the verified caller identity: bcrypt password
// hashing, HS256 JWT issuance/verification and the HTTP middleware that
// injects the authenticated user into the request context.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// MinPasswordLength is the registration password policy.
const MinPasswordLength = 8

type contextKey string

const identityKey contextKey = "voltaudit.identity"

// Identity is the verified caller attached to authenticated requests.
type Identity struct {
	UserID uuid.UUID
	Email  string
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", models.E(models.KindInvalidInput, "AUTH_003", "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", models.Wrap(models.KindInternal, "AUTH_500", "failed to hash password", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a plaintext password against a stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// TokenIssuer issues and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewTokenIssuer builds an issuer from the signing secret and token TTL.
func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expiry: expiry}
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issue mints a signed token for the user.
func (t *TokenIssuer) Issue(userID uuid.UUID, email string) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", models.Wrap(models.KindInternal, "AUTH_500", "failed to sign token", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the caller identity.
func (t *TokenIssuer) Verify(tokenString string) (*Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, models.E(models.KindAuthentication, "AUTH_001", "unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, models.E(models.KindAuthentication, "AUTH_001", "invalid or expired token")
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, models.E(models.KindAuthentication, "AUTH_001", "invalid token subject")
	}
	return &Identity{UserID: userID, Email: c.Email}, nil
}

// Middleware rejects requests without a valid Bearer token and stores the
// identity in the request context.
func (t *TokenIssuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"error":"authentication","message":"missing bearer token","error_code":"AUTH_001"}`, http.StatusUnauthorized)
			return
		}
		identity, err := t.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, `{"error":"authentication","message":"invalid or expired token","error_code":"AUTH_001"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// WithIdentity attaches an identity to a context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom extracts the verified caller from a context.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok
}
