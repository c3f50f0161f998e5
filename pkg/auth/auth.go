// Package auth authenticates dashboard and API users and issues short-lived
// HS256 bearer tokens. Accounts are static, configured at startup; the role
// carried in the token decides whether a caller may change the deployment
// policy.
package auth

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sentinelops/sentinel/pkg/errors"
)

// Role levels. Admins may update the deployment policy and cancel runs;
// viewers have read-only access plus manual triggers.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 8 * time.Hour

// Identity is an authenticated caller.
type Identity struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// Name returns the account name.
func (i Identity) Name() string { return i.Subject }

// IsElevated reports whether the identity may perform admin operations.
func (i Identity) IsElevated() bool { return i.Role == RoleAdmin }

// User is a configured account.
type User struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	Role     string `yaml:"role" json:"role"`
}

// Config configures the authenticator.
type Config struct {
	// Secret signs issued tokens. Required.
	Secret string `yaml:"secret" json:"-"`

	// TokenTTL is the issued token lifetime. Defaults to DefaultTokenTTL.
	TokenTTL time.Duration `yaml:"token_ttl" json:"token_ttl"`

	// Users are the configured accounts.
	Users []User `yaml:"users" json:"users"`
}

// claims carries the identity inside the signed token.
type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates credentials and issues and verifies tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  map[string]User
}

// New creates an Authenticator from the configuration.
func New(cfg *Config) (*Authenticator, error) {
	if cfg == nil || cfg.Secret == "" {
		return nil, fmt.Errorf("auth: signing secret is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	users := make(map[string]User, len(cfg.Users))
	for _, u := range cfg.Users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("auth: user %q has empty username or password", u.Username)
		}
		switch u.Role {
		case RoleAdmin, RoleViewer:
		default:
			return nil, fmt.Errorf("auth: user %q has unknown role %q", u.Username, u.Role)
		}
		users[u.Username] = u
	}

	return &Authenticator{
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		users:  users,
	}, nil
}

// Authenticate checks the credentials and returns the account identity.
// The comparison runs in constant time and does not reveal whether the
// username or the password was wrong.
func (a *Authenticator) Authenticate(username, password string) (Identity, error) {
	const op = "auth.Authenticate"

	user, ok := a.users[username]
	match := subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) == 1
	if !ok || !match {
		return Identity{}, errors.E(op, errors.KindAuthentication, "invalid credentials")
	}
	return Identity{Subject: user.Username, Role: user.Role}, nil
}

// IssueToken signs a bearer token for the identity. Returns the token and
// its expiry.
func (a *Authenticator) IssueToken(id Identity) (string, time.Time, error) {
	const op = "auth.IssueToken"

	now := time.Now().UTC()
	expiry := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, errors.E(op, errors.KindInternal, err)
	}
	return signed, expiry, nil
}

// VerifyToken validates a bearer token and returns the identity it carries.
func (a *Authenticator) VerifyToken(tokenString string) (Identity, error) {
	const op = "auth.VerifyToken"

	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, errors.E(op, errors.KindAuthentication, "invalid or expired token")
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" {
		return Identity{}, errors.E(op, errors.KindAuthentication, "malformed token claims")
	}
	return Identity{Subject: c.Subject, Role: c.Role}, nil
}
