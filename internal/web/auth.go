package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glassbead/atris/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenCookie = "atris_token"

// Auth issues and checks HS256 bearer tokens for the configured users.
type Auth struct {
	secret []byte
	expiry time.Duration
	users  map[string]string // username -> bcrypt hash
}

// NewAuth creates an Auth from configuration. It returns nil, nil when no JWT
// secret is configured, which leaves the server open.
func NewAuth(cfg config.AuthConfig) (*Auth, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	expiry := cfg.Expiry()
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	a := &Auth{
		secret: []byte(cfg.JWTSecret),
		expiry: expiry,
		users:  make(map[string]string, len(cfg.Users)),
	}
	for _, u := range cfg.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("web: auth: user entries need username and password_hash")
		}
		a.users[u.Username] = u.PasswordHash
	}
	return a, nil
}

// Expiry returns the lifetime of issued tokens.
func (a *Auth) Expiry() time.Duration { return a.expiry }

// Login checks the password and returns a signed token.
func (a *Auth) Login(username, password string) (string, error) {
	hash, ok := a.users[username]
	if !ok {
		return "", fmt.Errorf("web: auth: unknown user %q", username)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", fmt.Errorf("web: auth: invalid password for %q", username)
	}
	return a.GenerateToken(username)
}

// GenerateToken signs a token for username.
func (a *Auth) GenerateToken(username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(a.expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses a token and returns its subject.
func (a *Auth) ValidateToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("web: auth: invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("web: auth: invalid token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("web: auth: missing sub claim")
	}
	return sub, nil
}

// Middleware rejects requests without a valid token in the Authorization
// header or the token cookie. The cookie lets EventSource and websocket
// connections authenticate.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := extractBearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			tok, _ = c.Cookie(tokenCookie)
		}
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		user, err := a.ValidateToken(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

func extractBearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// HashPassword returns a bcrypt hash suitable for auth.users[].password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("web: auth: password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("web: auth: hash password: %w", err)
	}
	return string(hash), nil
}
