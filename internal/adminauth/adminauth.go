package adminauth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultSessionTTL is the default admin session lifetime.
	DefaultSessionTTL = 12 * time.Hour
	// DefaultLeeway is clock skew tolerance for session validation.
	DefaultLeeway = 15 * time.Second

	issuer  = "voicebox"
	subject = "admin"
)

// Authenticator checks the admin password and issues/validates HS256 session
// tokens. There is a single admin identity; no user table exists.
type Authenticator struct {
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	leeway       time.Duration
}

// Options configures the authenticator. PasswordHash is a bcrypt hash of the
// admin password; Secret signs session tokens.
type Options struct {
	PasswordHash string
	Secret       string
	TTL          time.Duration
	Leeway       time.Duration
}

// New builds an authenticator.
func New(opts Options) (*Authenticator, error) {
	hash := strings.TrimSpace(opts.PasswordHash)
	if hash == "" {
		return nil, errors.New("admin password hash is required")
	}
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil, errors.New("admin session secret is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Authenticator{
		passwordHash: []byte(hash),
		secret:       []byte(secret),
		ttl:          ttl,
		leeway:       leeway,
	}, nil
}

// HashPassword produces a bcrypt hash suitable for Options.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login verifies the password and issues a session token.
func (a *Authenticator) Login(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", errors.New("invalid credentials")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate checks a session token's signature and expiry.
func (a *Authenticator) Validate(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token required")
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unsupported signing method")
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(a.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return err
	}
	if claims.Issuer != issuer || claims.Subject != subject {
		return errors.New("invalid token claims")
	}
	return nil
}

// BearerToken extracts a bearer token from a request header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
