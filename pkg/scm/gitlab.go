package scm

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/sentinelops/sentinel/pkg/errors"
	"github.com/sentinelops/sentinel/pkg/logging"
)

// GitLabConfig configures the GitLab integration.
type GitLabConfig struct {
	// Token authenticates commit lookups. Optional.
	Token string `yaml:"token" json:"-"`

	// BaseURL points at a self-hosted instance. Empty means gitlab.com.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// WebhookToken is the shared secret carried in X-Gitlab-Token.
	// Required for webhooks.
	WebhookToken string `yaml:"webhook_token" json:"-"`

	Logger logging.Logger
}

// GitLab verifies GitLab push webhooks and looks up commits.
type GitLab struct {
	webhookToken string
	client       *gitlab.Client
	logger       logging.Logger
}

// NewGitLab creates the GitLab integration.
func NewGitLab(cfg *GitLabConfig) (*GitLab, error) {
	if cfg == nil {
		cfg = &GitLabConfig{}
	}

	var client *gitlab.Client
	if cfg.Token != "" {
		opts := []gitlab.ClientOptionFunc{}
		if cfg.BaseURL != "" {
			opts = append(opts, gitlab.WithBaseURL(cfg.BaseURL))
		}
		var err error
		client, err = gitlab.NewClient(cfg.Token, opts...)
		if err != nil {
			return nil, fmt.Errorf("create gitlab client: %w", err)
		}
	}

	return &GitLab{
		webhookToken: cfg.WebhookToken,
		client:       client,
		logger:       logging.OrNop(cfg.Logger),
	}, nil
}

// ParsePush validates the webhook token and extracts a push event.
// Returns (nil, nil) for valid deliveries that are not branch pushes.
func (g *GitLab) ParsePush(r *http.Request) (*PushEvent, error) {
	const op = "scm.GitLab.ParsePush"

	token := r.Header.Get("X-Gitlab-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.webhookToken)) != 1 {
		return nil, errors.E(op, errors.KindAuthentication, "invalid webhook token")
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.E(op, errors.KindInvalidInput, fmt.Errorf("read payload: %w", err))
	}

	eventType := gitlab.HookEventType(r)
	event, err := gitlab.ParseWebhook(eventType, payload)
	if err != nil {
		return nil, errors.E(op, errors.KindInvalidInput, fmt.Errorf("parse webhook: %w", err))
	}

	push, ok := event.(*gitlab.PushEvent)
	if !ok {
		g.logger.Debug("[scm] ignoring gitlab %s event", eventType)
		return nil, nil
	}

	branch := branchFromRef(push.Ref)
	if branch == "" {
		g.logger.Debug("[scm] ignoring gitlab push to %s", push.Ref)
		return nil, nil
	}

	out := &PushEvent{
		Provider:     ProviderGitLab,
		RepoFullName: push.Project.PathWithNamespace,
		RepoURL:      push.Project.GitHTTPURL,
		Branch:       branch,
		CommitSHA:    push.After,
		Author:       push.UserName,
	}
	for _, commit := range push.Commits {
		if commit.ID == push.After {
			out.CommitMessage = commit.Message
			if commit.Author.Name != "" {
				out.Author = commit.Author.Name
			}
		}
	}
	return out, nil
}

// LookupCommit fetches commit metadata for a project revision.
func (g *GitLab) LookupCommit(ctx context.Context, repoFullName, sha string) (*Commit, error) {
	const op = "scm.GitLab.LookupCommit"

	if g.client == nil {
		return nil, errors.E(op, errors.KindInvalidInput, "gitlab token not configured")
	}

	commit, _, err := g.client.Commits.GetCommit(repoFullName, sha, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, errors.E(op, errors.KindInternal, fmt.Errorf("get commit: %w", err))
	}

	return &Commit{
		SHA:     commit.ID,
		Message: commit.Message,
		Author:  commit.AuthorName,
	}, nil
}

var _ CommitLookup = (*GitLab)(nil)
