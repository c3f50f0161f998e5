package scm

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentinelops/sentinel/pkg/errors"
)

const githubPushPayload = `{
	"ref": "refs/heads/main",
	"after": "4f1c9b2d8e3a5c7b9d1f2e4a6c8b0d2f4e6a8c0b",
	"repository": {
		"full_name": "acme/payments",
		"clone_url": "https://github.com/acme/payments.git"
	},
	"pusher": {"name": "octocat"},
	"head_commit": {
		"id": "4f1c9b2d8e3a5c7b9d1f2e4a6c8b0d2f4e6a8c0b",
		"message": "harden input validation",
		"author": {"name": "Mona Lisa"}
	}
}`

func signedGitHubRequest(t *testing.T, secret, event, payload string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestGitHubParsePush(t *testing.T) {
	g := NewGitHub(&GitHubConfig{WebhookSecret: "hook-secret"})

	event, err := g.ParsePush(signedGitHubRequest(t, "hook-secret", "push", githubPushPayload))
	if err != nil {
		t.Fatalf("ParsePush: %v", err)
	}
	if event == nil {
		t.Fatal("ParsePush returned nil event")
	}
	if event.Provider != ProviderGitHub {
		t.Errorf("Provider = %q", event.Provider)
	}
	if event.RepoFullName != "acme/payments" || event.RepoURL != "https://github.com/acme/payments.git" {
		t.Errorf("repo = %q / %q", event.RepoFullName, event.RepoURL)
	}
	if event.Branch != "main" {
		t.Errorf("Branch = %q", event.Branch)
	}
	if event.CommitSHA != "4f1c9b2d8e3a5c7b9d1f2e4a6c8b0d2f4e6a8c0b" {
		t.Errorf("CommitSHA = %q", event.CommitSHA)
	}
	if event.CommitMessage != "harden input validation" {
		t.Errorf("CommitMessage = %q", event.CommitMessage)
	}
	if event.Author != "Mona Lisa" {
		t.Errorf("Author = %q", event.Author)
	}
}

func TestGitHubParsePushRejectsBadSignature(t *testing.T) {
	g := NewGitHub(&GitHubConfig{WebhookSecret: "hook-secret"})

	_, err := g.ParsePush(signedGitHubRequest(t, "wrong-secret", "push", githubPushPayload))
	if !errors.IsAuthentication(err) {
		t.Fatalf("err = %v, want authentication failure", err)
	}

	// Missing signature entirely.
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", bytes.NewBufferString(githubPushPayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	if _, err := g.ParsePush(req); !errors.IsAuthentication(err) {
		t.Fatalf("unsigned: err = %v, want authentication failure", err)
	}
}

func TestGitHubParsePushIgnoresNonPushEvents(t *testing.T) {
	g := NewGitHub(&GitHubConfig{WebhookSecret: "hook-secret"})

	event, err := g.ParsePush(signedGitHubRequest(t, "hook-secret", "ping", `{"zen": "Keep it simple."}`))
	if err != nil {
		t.Fatalf("ParsePush(ping): %v", err)
	}
	if event != nil {
		t.Errorf("ping produced event %+v", event)
	}

	// Tag pushes are valid deliveries but trigger nothing.
	tagPayload := `{"ref": "refs/tags/v1.0.0", "after": "abc", "repository": {"full_name": "acme/payments"}}`
	event, err = g.ParsePush(signedGitHubRequest(t, "hook-secret", "push", tagPayload))
	if err != nil {
		t.Fatalf("ParsePush(tag): %v", err)
	}
	if event != nil {
		t.Errorf("tag push produced event %+v", event)
	}
}

const gitlabPushPayload = `{
	"object_kind": "push",
	"ref": "refs/heads/develop",
	"after": "9e0c5d7b3a1f8e2c4b6d8a0c2e4f6b8d0a2c4e6f",
	"user_name": "Dev Eloper",
	"project": {
		"path_with_namespace": "acme/billing",
		"git_http_url": "https://gitlab.com/acme/billing.git"
	},
	"commits": [
		{
			"id": "9e0c5d7b3a1f8e2c4b6d8a0c2e4f6b8d0a2c4e6f",
			"message": "rotate signing keys",
			"author": {"name": "Dev Eloper", "email": "dev@acme.io"}
		}
	]
}`

func gitlabRequest(token, event, payload string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/gitlab", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gitlab-Event", event)
	req.Header.Set("X-Gitlab-Token", token)
	return req
}

func TestGitLabParsePush(t *testing.T) {
	g, err := NewGitLab(&GitLabConfig{WebhookToken: "hook-token"})
	if err != nil {
		t.Fatalf("NewGitLab: %v", err)
	}

	event, err := g.ParsePush(gitlabRequest("hook-token", "Push Hook", gitlabPushPayload))
	if err != nil {
		t.Fatalf("ParsePush: %v", err)
	}
	if event == nil {
		t.Fatal("ParsePush returned nil event")
	}
	if event.Provider != ProviderGitLab {
		t.Errorf("Provider = %q", event.Provider)
	}
	if event.RepoFullName != "acme/billing" || event.RepoURL != "https://gitlab.com/acme/billing.git" {
		t.Errorf("repo = %q / %q", event.RepoFullName, event.RepoURL)
	}
	if event.Branch != "develop" {
		t.Errorf("Branch = %q", event.Branch)
	}
	if event.CommitMessage != "rotate signing keys" {
		t.Errorf("CommitMessage = %q", event.CommitMessage)
	}
	if event.Author != "Dev Eloper" {
		t.Errorf("Author = %q", event.Author)
	}
}

func TestGitLabParsePushRejectsBadToken(t *testing.T) {
	g, _ := NewGitLab(&GitLabConfig{WebhookToken: "hook-token"})

	_, err := g.ParsePush(gitlabRequest("wrong", "Push Hook", gitlabPushPayload))
	if !errors.IsAuthentication(err) {
		t.Fatalf("err = %v, want authentication failure", err)
	}
}

func TestGitLabLookupWithoutToken(t *testing.T) {
	g, _ := NewGitLab(&GitLabConfig{WebhookToken: "hook-token"})
	if _, err := g.LookupCommit(context.Background(), "acme/billing", "abc"); err == nil {
		t.Fatal("LookupCommit without client: expected error")
	}
}

func TestRepoFullName(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{"https://github.com/acme/payments.git", "acme/payments"},
		{"https://github.com/acme/payments", "acme/payments"},
		{"https://gitlab.com/group/sub/billing.git", "sub/billing"},
		{"git@github.com:acme/payments.git", "acme/payments"},
		{"file:///srv/repos/acme/payments.git", "acme/payments"},
		{"https://github.com", ""},
		{"payments", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := RepoFullName(tt.url); got != tt.want {
			t.Errorf("RepoFullName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestBranchFromRef(t *testing.T) {
	tests := []struct {
		ref, want string
	}{
		{"refs/heads/main", "main"},
		{"refs/heads/feature/scoped", "feature/scoped"},
		{"refs/tags/v1.2.3", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := branchFromRef(tt.ref); got != tt.want {
			t.Errorf("branchFromRef(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}
