// Package scm integrates with source-control providers. It verifies and
// parses push webhooks from GitHub and GitLab into provider-neutral events
// that trigger pipeline runs, and backfills commit metadata for manually
// triggered runs.
package scm

import (
	"context"
	"strings"
)

// Provider identifiers.
const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// PushEvent is a provider-neutral push notification.
type PushEvent struct {
	Provider      string `json:"provider"`
	RepoFullName  string `json:"repo_full_name"`
	RepoURL       string `json:"repo_url"`
	Branch        string `json:"branch"`
	CommitSHA     string `json:"commit_sha"`
	CommitMessage string `json:"commit_message"`
	Author        string `json:"author"`
}

// Commit is commit metadata looked up from the provider.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
}

// CommitLookup backfills commit metadata for a repository revision.
type CommitLookup interface {
	LookupCommit(ctx context.Context, repoFullName, sha string) (*Commit, error)
}

// RepoFullName derives "owner/repo" from a clone URL. Handles https and
// scp-style ssh URLs; returns "" when the URL has no owner/repo tail.
func RepoFullName(repoURL string) string {
	s := strings.TrimSuffix(repoURL, "/")
	s = strings.TrimSuffix(s, ".git")
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return ""
	}
	owner, repo := parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || repo == "" {
		return ""
	}
	return owner + "/" + repo
}

// branchFromRef strips the refs/heads/ prefix. Tag pushes return "".
func branchFromRef(ref string) string {
	if strings.HasPrefix(ref, "refs/heads/") {
		return strings.TrimPrefix(ref, "refs/heads/")
	}
	return ""
}

// splitFullName splits "owner/repo" into its parts.
func splitFullName(fullName string) (owner, repo string, ok bool) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
