package auth

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"dugsi-admin/core"
)

const (
	RoleAdmin = "admin"

	// ContextAdmin is the gin context key holding the authenticated admin's email.
	ContextAdmin = "admin_email"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 admin tokens. Revoked tokens are kept in memory until
// they would have expired anyway.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now, revoked: map[string]time.Time{}}
}

// Issue returns a signed token for email and its expiry.
func (i *Issuer) Issue(email string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Email: strings.ToLower(strings.TrimSpace(email)),
		Role:  RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "signing token")
	}
	return token, exp, nil
}

func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.Role != RoleAdmin {
		return nil, errors.Wrap(ErrInvalidToken, "not an admin token")
	}
	if i.isRevoked(claims.ID) {
		return nil, errors.Wrap(ErrInvalidToken, "token revoked")
	}
	return claims, nil
}

// Revoke invalidates raw until its natural expiry.
func (i *Issuer) Revoke(raw string) error {
	claims, err := i.Verify(raw)
	if err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.now()
	for id, exp := range i.revoked {
		if exp.Before(now) {
			delete(i.revoked, id)
		}
	}
	i.revoked[claims.ID] = claims.ExpiresAt.Time
	return nil
}

func (i *Issuer) isRevoked(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.revoked[id]
	return ok
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// Middleware rejects requests without a valid admin bearer token.
func (i *Issuer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, core.Fail("Authorization required"))
			return
		}
		claims, err := i.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, core.Fail("Invalid or expired session"))
			return
		}
		c.Set(ContextAdmin, claims.Email)
		c.Next()
	}
}

// LogoutHandler revokes the caller's token.
func (i *Issuer) LogoutHandler(c *gin.Context) {
	if err := i.Revoke(bearer(c)); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, core.Fail("Invalid or expired session"))
		return
	}
	core.Respond(c, core.OK(nil, "Signed out"))
}
