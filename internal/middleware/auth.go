package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/ocn-node/internal/errors"
	"github.com/R3E-Network/ocn-node/internal/httputil"
	"github.com/R3E-Network/ocn-node/internal/logging"
)

const (
	adminIssuer = "ocn-node"

	// DefaultAdminTokenExpiry is used when no expiry is given.
	DefaultAdminTokenExpiry = time.Hour
)

type contextKey string

const operatorKey contextKey = "operator"

// AdminClaims are the JWT claims of an admin API token.
type AdminClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// AdminAuth protects the admin API with HS256 tokens signed by the shared
// admin secret.
type AdminAuth struct {
	secret []byte
	logger *logging.Logger
}

// NewAdminAuth creates the admin middleware. An empty secret rejects every
// request.
func NewAdminAuth(secret string, logger *logging.Logger) *AdminAuth {
	return &AdminAuth{
		secret: []byte(secret),
		logger: logger,
	}
}

// Handler returns the middleware handler
func (m *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.secret) == 0 {
			m.respondError(w, r, fmt.Errorf("admin secret not configured"))
			return
		}

		scheme, tokenString, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || scheme != "Bearer" || tokenString == "" {
			m.respondError(w, r, fmt.Errorf("missing bearer token"))
			return
		}

		claims, err := m.validateToken(tokenString)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, claims.Operator)
		m.logger.WithContext(ctx).
			WithField("operator", claims.Operator).
			Debug("admin authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AdminAuth) validateToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(adminIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid admin token")
	}
	return claims, nil
}

func (m *AdminAuth) respondError(w http.ResponseWriter, r *http.Request, err error) {
	m.logger.LogSecurityEvent(r.Context(), "admin_auth_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"reason": err.Error(),
	})
	httputil.WriteError(w, errors.Authentication())
}

// GetOperator returns the operator named by the admin token.
func GetOperator(ctx context.Context) string {
	if v, ok := ctx.Value(operatorKey).(string); ok {
		return v
	}
	return ""
}

// =============================================================================
// Token generator
// =============================================================================

// AdminTokenGenerator mints admin API tokens.
type AdminTokenGenerator struct {
	secret   []byte
	operator string
	expiry   time.Duration
}

// NewAdminTokenGenerator creates a generator for one operator.
func NewAdminTokenGenerator(secret, operator string, expiry time.Duration) *AdminTokenGenerator {
	if expiry == 0 {
		expiry = DefaultAdminTokenExpiry
	}
	return &AdminTokenGenerator{
		secret:   []byte(secret),
		operator: operator,
		expiry:   expiry,
	}
}

// GenerateToken signs a new token.
func (g *AdminTokenGenerator) GenerateToken() (string, error) {
	if len(g.secret) == 0 {
		return "", fmt.Errorf("admin secret is required")
	}
	now := time.Now()
	claims := &AdminClaims{
		Operator: g.operator,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.expiry)),
			Issuer:    adminIssuer,
			Subject:   g.operator,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}
