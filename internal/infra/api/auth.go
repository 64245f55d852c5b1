package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const adminRole = "admin"

// AdminClaims is the JWT payload accepted by the admin API.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthManager accepts either the static API key or an HS256 JWT carrying the
// admin role, both as "Authorization: Bearer <token>".
type AuthManager struct {
	apiKey    string
	jwtSecret []byte
	now       func() time.Time
}

func NewAuthManager(apiKey, jwtSecret string) *AuthManager {
	return &AuthManager{apiKey: apiKey, jwtSecret: []byte(jwtSecret), now: time.Now}
}

// Enabled reports whether any credential is configured.
func (a *AuthManager) Enabled() bool {
	return a.apiKey != "" || len(a.jwtSecret) > 0
}

// Mint signs an admin token for subject.
func (a *AuthManager) Mint(subject string, ttl time.Duration) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := a.now()
	claims := AdminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// Authenticate returns the caller's subject.
func (a *AuthManager) Authenticate(r *http.Request) (string, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return "", errMissingToken
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errMissingToken
	}
	tok := strings.TrimSpace(parts[1])

	if a.apiKey != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(a.apiKey)) == 1 {
		return "api-key", nil
	}
	if len(a.jwtSecret) == 0 {
		return "", errInvalidToken
	}
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !tkn.Valid || claims.Role != adminRole {
		return "", errInvalidToken
	}
	if claims.Subject == "" {
		return "jwt", nil
	}
	return claims.Subject, nil
}

type subjectKey struct{}

func subjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// Middleware rejects unauthenticated requests. With no credentials configured
// every request is refused.
func (a *AuthManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			writeError(w, http.StatusForbidden, "admin api credentials are not configured")
			return
		}
		subject, err := a.Authenticate(r)
		switch {
		case errors.Is(err, errMissingToken):
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		case err != nil:
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}
