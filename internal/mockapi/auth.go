package mockapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload. It matches what the platform puts in its
// access tokens: subject, email, role and center.
type Claims struct {
	Email  string `json:"email"`
	Role   string `json:"role"`
	Center string `json:"center"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for acct.
func (t *TokenIssuer) Issue(acct Account) (string, error) {
	now := t.now()
	claims := Claims{
		Email:  acct.Email,
		Role:   acct.Role,
		Center: acct.Center,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies tokenString.
func (t *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// authRequired rejects requests without a valid bearer token and stores
// the claims under "claims".
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || tokenString == "" {
			abortDetail(c, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		claims, err := s.tokens.Validate(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortDetail(c, http.StatusUnauthorized, "Token has expired")
				return
			}
			abortDetail(c, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		if s.isRevoked(tokenString) {
			abortDetail(c, http.StatusUnauthorized, "Token has been revoked")
			return
		}

		c.Set("claims", claims)
		c.Set("token", tokenString)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *Claims {
	v, _ := c.Get("claims")
	claims, _ := v.(*Claims)
	return claims
}

func isAdmin(role string) bool {
	return role == "super_admin" || role == "admin_local"
}

func abortDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
