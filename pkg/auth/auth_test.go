package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/sentinelops/sentinel/pkg/errors"
)

func testAuthenticator(t *testing.T, ttl time.Duration) *Authenticator {
	t.Helper()
	a, err := New(&Config{
		Secret:   "test-signing-secret",
		TokenTTL: ttl,
		Users: []User{
			{Username: "admin", Password: "hunter2", Role: RoleAdmin},
			{Username: "dev", Password: "letmein", Role: RoleViewer},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"missing secret", &Config{Users: []User{{Username: "a", Password: "b", Role: RoleAdmin}}}},
		{"empty password", &Config{Secret: "s", Users: []User{{Username: "a", Role: RoleAdmin}}}},
		{"unknown role", &Config{Secret: "s", Users: []User{{Username: "a", Password: "b", Role: "root"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New: expected error")
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	a := testAuthenticator(t, 0)

	id, err := a.Authenticate("admin", "hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.Subject != "admin" || !id.IsElevated() {
		t.Errorf("identity = %+v", id)
	}

	viewer, err := a.Authenticate("dev", "letmein")
	if err != nil {
		t.Fatalf("Authenticate viewer: %v", err)
	}
	if viewer.IsElevated() {
		t.Error("viewer should not be elevated")
	}

	for _, creds := range [][2]string{
		{"admin", "wrong"},
		{"ghost", "hunter2"},
		{"", ""},
	} {
		_, err := a.Authenticate(creds[0], creds[1])
		if !errors.IsAuthentication(err) {
			t.Errorf("Authenticate(%q, %q): err = %v, want authentication failure", creds[0], creds[1], err)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	a := testAuthenticator(t, time.Hour)

	id, _ := a.Authenticate("admin", "hunter2")
	token, expiry, err := a.IssueToken(id)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if until := time.Until(expiry); until < 55*time.Minute || until > time.Hour {
		t.Errorf("expiry %v not about an hour out", expiry)
	}

	got, err := a.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if got != id {
		t.Errorf("verified identity = %+v, want %+v", got, id)
	}
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	a := testAuthenticator(t, time.Hour)
	id, _ := a.Authenticate("dev", "letmein")
	token, _, _ := a.IssueToken(id)

	// A token signed under another secret must not verify.
	foreign, err := New(&Config{
		Secret: "different-secret",
		Users:  []User{{Username: "dev", Password: "letmein", Role: RoleViewer}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := foreign.VerifyToken(token); !errors.IsAuthentication(err) {
		t.Errorf("foreign secret: err = %v, want authentication failure", err)
	}

	// Corrupting the signature must not verify.
	broken := token[:len(token)-2] + "xx"
	if _, err := a.VerifyToken(broken); !errors.IsAuthentication(err) {
		t.Errorf("tampered token: err = %v, want authentication failure", err)
	}

	if _, err := a.VerifyToken("not.a.token"); !errors.IsAuthentication(err) {
		t.Errorf("garbage token: err = %v, want authentication failure", err)
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	a := testAuthenticator(t, time.Millisecond)
	id, _ := a.Authenticate("admin", "hunter2")
	token, _, _ := a.IssueToken(id)

	time.Sleep(5 * time.Millisecond)
	if _, err := a.VerifyToken(token); !errors.IsAuthentication(err) {
		t.Errorf("expired token: err = %v, want authentication failure", err)
	}
}

func TestTokenIsWellFormedJWT(t *testing.T) {
	a := testAuthenticator(t, time.Hour)
	id, _ := a.Authenticate("admin", "hunter2")
	token, _, _ := a.IssueToken(id)
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("token has %d segments, want 3", len(parts))
	}
}
