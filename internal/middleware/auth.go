package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type contextKey string

const (
	ContextUserID contextKey = "userID"
	ContextRole   contextKey = "role"
)

type Claims struct {
	UserID string `json:"uid,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// CallerID returns uid, falling back to sub.
func (c *Claims) CallerID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
}

func NewAuthenticator(secret, issuer, audience string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, audience: audience}
}

func (a *Authenticator) ParseAndValidate(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := new(Claims)
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid || claims.CallerID() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a token for userID with role, valid for ttl.
func (a *Authenticator) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// Browsers cannot set headers on websocket upgrades.
	if q := r.URL.Query().Get("token"); q != "" {
		return q
	}
	return ""
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller in the request context.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			response.Error(w, r, http.StatusUnauthorized, "No token provided")
			return
		}
		claims, err := a.ParseAndValidate(token)
		if err != nil {
			response.Error(w, r, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		// The system role is reserved for in-process workers.
		role := usecase.RoleUser
		if claims.Role == usecase.RoleAdmin {
			role = usecase.RoleAdmin
		}
		ctx := context.WithValue(r.Context(), ContextUserID, claims.CallerID())
		ctx = context.WithValue(ctx, ContextRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ActorFromContext(r.Context()).IsAdmin() {
			response.Error(w, r, http.StatusForbidden, "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetUserID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextUserID).(string)
	return val, ok
}

// ActorFromContext returns the authenticated caller, or the zero Actor.
func ActorFromContext(ctx context.Context) usecase.Actor {
	id, _ := ctx.Value(ContextUserID).(string)
	role, _ := ctx.Value(ContextRole).(string)
	return usecase.Actor{UserID: id, Role: role}
}

// WithActor puts actor into ctx the way RequireAuth does.
func WithActor(ctx context.Context, actor usecase.Actor) context.Context {
	ctx = context.WithValue(ctx, ContextUserID, actor.UserID)
	return context.WithValue(ctx, ContextRole, actor.Role)
}
