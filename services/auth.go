package services

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const adminSubject = "admin"

// AdminAuth decides the admin capability. A request is admin when it carries
// the shared secret or a session token minted from it.
type AdminAuth struct {
	secret    string
	jwtSecret []byte
	ttl       time.Duration
	clock     Clock
}

func NewAdminAuth(secret, jwtSecret string, ttl time.Duration, clock Clock) *AdminAuth {
	if clock == nil {
		clock = SystemClock
	}
	if jwtSecret == "" {
		jwtSecret = secret
	}
	return &AdminAuth{secret: secret, jwtSecret: []byte(jwtSecret), ttl: ttl, clock: clock}
}

// CheckSecret compares token with the configured secret. A configured bcrypt
// hash is verified with bcrypt, anything else by exact constant-time equality.
func (a *AdminAuth) CheckSecret(token string) bool {
	if token == "" || a.secret == "" {
		return false
	}
	if isBcryptHash(a.secret) {
		return bcrypt.CompareHashAndPassword([]byte(a.secret), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1
}

// Authorize accepts the shared secret or a valid session token.
func (a *AdminAuth) Authorize(token string) bool {
	if a.CheckSecret(token) {
		return true
	}
	return a.validSession(token) == nil
}

type AdminSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueSession exchanges the shared secret for a signed session token.
func (a *AdminAuth) IssueSession(secret string) (*AdminSession, error) {
	if !a.CheckSecret(secret) {
		return nil, ErrUnauthorized
	}

	now := a.clock.Now()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   adminSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return nil, storageError("sign session", err)
	}
	return &AdminSession{Token: signed, ExpiresAt: expires}, nil
}

func (a *AdminAuth) validSession(tokenString string) error {
	if strings.Count(tokenString, ".") != 2 {
		return errors.New("not a session token")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	}, jwt.WithTimeFunc(a.clock.Now), jwt.WithSubject(adminSubject))
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
