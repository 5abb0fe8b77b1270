package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/models"
	"github.com/golang-jwt/jwt/v4"
)

// PrincipalResolver maps an authenticated email to its role.
type PrincipalResolver interface {
	Resolve(ctx context.Context, email string) (models.Principal, error)
}

// AuthConfig selects how session tokens are verified. When PublicKeyPEM is set the
// token must be RS256 signed (identity provider session tokens); otherwise HS256
// with HMACSecret.
type AuthConfig struct {
	HMACSecret   string
	PublicKeyPEM string
}

type sessionClaims struct {
	Email        string `json:"email"`
	PrimaryEmail string `json:"primary_email"`
	jwt.RegisteredClaims
}

func (c *sessionClaims) email() string {
	if c.Email != "" {
		return c.Email
	}
	return c.PrimaryEmail
}

type Authenticator struct {
	keyFunc  jwt.Keyfunc
	resolver PrincipalResolver
	logger   *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, resolver PrincipalResolver, logger *slog.Logger) (*Authenticator, error) {
	a := &Authenticator{resolver: resolver, logger: logger}

	switch {
	case cfg.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("invalid JWT public key: %w", err)
		}
		a.keyFunc = func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		}
	case cfg.HMACSecret != "":
		secret := []byte(cfg.HMACSecret)
		a.keyFunc = func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		}
	default:
		return nil, errors.New("either an HMAC secret or an RSA public key is required")
	}
	return a, nil
}

// tokenFromRequest reads the bearer token. Browsers cannot set headers on a
// websocket handshake, so upgrade requests may pass it as ?token=.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}

// Authenticate verifies the session token and stores the caller's principal in
// the request context. Pending accounts pass; services decide what they may do.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := &sessionClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, a.keyFunc)
		if err != nil || !token.Valid {
			a.logger.DebugContext(r.Context(), "rejected session token", slog.Any("error", err))
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		email := models.NormalizeEmail(claims.email())
		if email == "" {
			writeError(w, http.StatusUnauthorized, "token carries no email claim")
			return
		}

		principal, err := a.resolver.Resolve(r.Context(), email)
		if err != nil {
			a.logger.ErrorContext(r.Context(), "failed to resolve principal", slog.String("email", email), slog.Any("error", err))
			if errors.Is(err, db.ErrUpstreamTimeout) {
				writeError(w, http.StatusGatewayTimeout, "role lookup timed out")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to resolve user role")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireRole rejects principals whose role is not listed.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}
