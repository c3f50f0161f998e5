package scm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/sentinelops/sentinel/pkg/errors"
	"github.com/sentinelops/sentinel/pkg/logging"
)

// GitHubConfig configures the GitHub integration.
type GitHubConfig struct {
	// Token authenticates commit lookups. Optional; without it lookups
	// are limited to public repositories and low rate limits.
	Token string `yaml:"token" json:"-"`

	// WebhookSecret verifies webhook signatures. Required for webhooks.
	WebhookSecret string `yaml:"webhook_secret" json:"-"`

	Logger logging.Logger
}

// GitHub verifies GitHub push webhooks and looks up commits.
type GitHub struct {
	secret []byte
	client *github.Client
	logger logging.Logger
}

// NewGitHub creates the GitHub integration.
func NewGitHub(cfg *GitHubConfig) *GitHub {
	if cfg == nil {
		cfg = &GitHubConfig{}
	}

	var client *github.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		client = github.NewClient(oauth2.NewClient(context.Background(), ts))
	} else {
		client = github.NewClient(nil)
	}

	return &GitHub{
		secret: []byte(cfg.WebhookSecret),
		client: client,
		logger: logging.OrNop(cfg.Logger),
	}
}

// ParsePush validates the webhook signature and extracts a push event.
// Returns (nil, nil) for valid deliveries that are not branch pushes, such
// as pings and tag pushes; those are acknowledged but trigger nothing.
func (g *GitHub) ParsePush(r *http.Request) (*PushEvent, error) {
	const op = "scm.GitHub.ParsePush"

	payload, err := github.ValidatePayload(r, g.secret)
	if err != nil {
		return nil, errors.E(op, errors.KindAuthentication, fmt.Errorf("invalid webhook signature: %w", err))
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		return nil, errors.E(op, errors.KindInvalidInput, fmt.Errorf("parse webhook: %w", err))
	}

	push, ok := event.(*github.PushEvent)
	if !ok {
		g.logger.Debug("[scm] ignoring github %s event", github.WebHookType(r))
		return nil, nil
	}

	branch := branchFromRef(push.GetRef())
	if branch == "" {
		g.logger.Debug("[scm] ignoring github push to %s", push.GetRef())
		return nil, nil
	}

	out := &PushEvent{
		Provider:     ProviderGitHub,
		RepoFullName: push.GetRepo().GetFullName(),
		RepoURL:      push.GetRepo().GetCloneURL(),
		Branch:       branch,
		CommitSHA:    push.GetAfter(),
		Author:       push.GetPusher().GetName(),
	}
	if head := push.GetHeadCommit(); head != nil {
		out.CommitMessage = head.GetMessage()
		if author := head.GetAuthor(); author != nil && author.GetName() != "" {
			out.Author = author.GetName()
		}
	}
	return out, nil
}

// LookupCommit fetches commit metadata for a repository revision.
func (g *GitHub) LookupCommit(ctx context.Context, repoFullName, sha string) (*Commit, error) {
	const op = "scm.GitHub.LookupCommit"

	owner, repo, ok := splitFullName(repoFullName)
	if !ok {
		return nil, errors.E(op, errors.KindInvalidInput,
			fmt.Sprintf("repository %q is not in owner/repo form", repoFullName))
	}

	commit, _, err := g.client.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, errors.E(op, errors.KindInternal, fmt.Errorf("get commit: %w", err))
	}

	out := &Commit{
		SHA:     commit.GetSHA(),
		Message: commit.GetCommit().GetMessage(),
	}
	if author := commit.GetCommit().GetAuthor(); author != nil {
		out.Author = author.GetName()
	}
	return out, nil
}

var _ CommitLookup = (*GitHub)(nil)
