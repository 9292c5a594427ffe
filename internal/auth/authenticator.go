// Package auth authenticates the single configured administrator and issues
// short-lived signed credentials.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/staffgate/staffgate-api/internal/config"
	"github.com/staffgate/staffgate-api/internal/model"
)

const (
	// RoleAdmin is the only role a credential can carry.
	RoleAdmin = "admin"
	// TokenType is reported to clients alongside the access token.
	TokenType = "Bearer"
)

// Credential is what a successful login hands back to the client.
type Credential struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"-"`
	ExpiresIn   int64     `json:"expires_in"`
}

// Admin is the verified identity behind a credential.
type Admin struct {
	Username  string
	TokenID   string
	ExpiresAt time.Time
}

// Claims are the JWT claims of an admin credential.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies admin credentials. It is safe for concurrent use.
type Authenticator struct {
	username     string
	password     string
	passwordHash string
	secret       []byte
	ttl          time.Duration
	issuer       string

	maxAttempts int
	failures    *gocache.Cache

	now func() time.Time
}

// NewAuthenticator builds an Authenticator from the admin section of the config.
func NewAuthenticator(cfg config.AdminConfig) (*Authenticator, error) {
	if cfg.Username == "" {
		return nil, errors.New("admin username is required")
	}
	if cfg.Password == "" && cfg.PasswordHash == "" {
		return nil, errors.New("admin password or password hash is required")
	}
	if cfg.PasswordHash != "" {
		if _, _, _, err := decodeHash(cfg.PasswordHash); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
	}
	if cfg.TokenSecret == "" {
		return nil, errors.New("token secret is required")
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	window := cfg.LockoutWindow
	if window <= 0 {
		window = 15 * time.Minute
	}

	return &Authenticator{
		username:     cfg.Username,
		password:     cfg.Password,
		passwordHash: cfg.PasswordHash,
		secret:       []byte(cfg.TokenSecret),
		ttl:          ttl,
		issuer:       cfg.Issuer,
		maxAttempts:  cfg.MaxLoginAttempts,
		failures:     gocache.New(window, window),
		now:          time.Now,
	}, nil
}

type clientAddrKey struct{}

// WithClientAddr attaches the caller's network address to ctx. Failed logins
// are counted per username and address host.
func WithClientAddr(ctx context.Context, addr string) context.Context {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return context.WithValue(ctx, clientAddrKey{}, addr)
}

func throttleKey(ctx context.Context, username string) string {
	addr, _ := ctx.Value(clientAddrKey{}).(string)
	return strings.ToLower(username) + "|" + addr
}

// Login checks username and password together and returns a signed credential.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Credential, error) {
	key := throttleKey(ctx, username)
	if a.lockedOut(key) {
		return nil, model.ErrTooManyAttempts
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK, err := a.checkPassword(password)
	if err != nil {
		return nil, err
	}
	if !userOK || !passOK {
		a.recordFailure(key)
		return nil, model.ErrInvalidCredentials
	}
	a.failures.Delete(key)

	return a.issue(username)
}

// Verify parses token and returns the admin it was issued to.
func (a *Authenticator) Verify(token string) (*Admin, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", model.ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.Role != RoleAdmin || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims: %w", model.ErrUnauthorized)
	}

	admin := &Admin{Username: claims.Subject, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		admin.ExpiresAt = claims.ExpiresAt.Time
	}
	return admin, nil
}

func (a *Authenticator) checkPassword(password string) (bool, error) {
	if a.passwordHash != "" {
		ok, err := VerifyPassword(password, a.passwordHash)
		if err != nil {
			return false, fmt.Errorf("failed to verify password: %w", err)
		}
		return ok, nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1, nil
}

func (a *Authenticator) issue(username string) (*Credential, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)

	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Credential{
		AccessToken: signed,
		TokenType:   TokenType,
		ExpiresAt:   expiresAt,
		ExpiresIn:   int64(a.ttl / time.Second),
	}, nil
}

// lockedOut reports whether key has used up its failed attempts.
// A zero limit disables throttling.
func (a *Authenticator) lockedOut(key string) bool {
	if a.maxAttempts <= 0 {
		return false
	}
	v, found := a.failures.Get(key)
	if !found {
		return false
	}
	n, ok := v.(int)
	return ok && n >= a.maxAttempts
}

// recordFailure counts a failed login. The window starts at the first failure.
func (a *Authenticator) recordFailure(key string) {
	if a.maxAttempts <= 0 {
		return
	}
	if err := a.failures.Add(key, 1, gocache.DefaultExpiration); err == nil {
		return
	}
	if _, err := a.failures.IncrementInt(key, 1); err != nil {
		// The entry expired between Add and IncrementInt.
		a.failures.Set(key, 1, gocache.DefaultExpiration)
	}
}
