package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"otcswap/observability/logging"
	"otcswap/services/synthd/api"
)

type contextKey string

const contextKeyAdmin contextKey = "synthd.admin"

// AdminConfig configures bearer token validation for admin routes.
type AdminConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// AdminAuthenticator validates HS256 bearer tokens whose subject is the admin
// identity. The engine still checks the subject against the stored admin.
type AdminAuthenticator struct {
	cfg    AdminConfig
	secret []byte
	logger *log.Logger
}

// NewAdminAuthenticator builds the admin middleware.
func NewAdminAuthenticator(cfg AdminConfig, logger *log.Logger) *AdminAuthenticator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &AdminAuthenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.Secret)), logger: logger}
}

// Middleware rejects requests without a valid admin token.
func (a *AdminAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		subject, err := a.Subject(token)
		if err != nil {
			a.logger.Printf("synthd: admin token %s rejected: %v", logging.Fingerprint(token), err)
			writeAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyAdmin, subject)))
	})
}

// Subject validates token and returns its sub claim.
func (a *AdminAuthenticator) Subject(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("admin secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("token invalid")
	}
	if a.cfg.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != a.cfg.Issuer {
			return "", errors.New("issuer mismatch")
		}
	}
	if a.cfg.Audience != "" && !audienceMatches(claims["aud"], a.cfg.Audience) {
		return "", errors.New("audience mismatch")
	}
	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("subject required")
	}
	return subject, nil
}

// AdminFromContext returns the admin identity set by Middleware.
func AdminFromContext(ctx context.Context) (string, bool) {
	admin, ok := ctx.Value(contextKeyAdmin).(string)
	return admin, ok && admin != ""
}

// IssueAdminToken signs a short lived admin token.
func IssueAdminToken(secret, issuer, audience, subject string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret required")
	}
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func audienceMatches(raw interface{}, audience string) bool {
	switch val := raw.(type) {
	case string:
		return val == audience
	case []interface{}:
		for _, entry := range val {
			if s, ok := entry.(string); ok && s == audience {
				return true
			}
		}
	}
	return false
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: msg, Codespace: "auth"})
}
