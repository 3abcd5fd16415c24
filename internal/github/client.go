// Package github provides optional pull request metadata lookup for
// repositories hosted on github.com. The watcher itself never talks to
// the GitHub API; this only enriches notification text.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/user/gitnotify/internal/notifier"
)

// Client wraps the GitHub API client.
type Client struct {
	client *github.Client
}

// NewClient creates a new GitHub API client. If token is empty, an
// unauthenticated client is created (with lower rate limits).
func NewClient(token string) *Client {
	var client *github.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	return &Client{client: client}
}

// PullRequest looks up the title and HTML URL of a pull request. It
// returns nil for repositories not hosted on github.com.
func (c *Client) PullRequest(ctx context.Context, repoURL string, number int) (*notifier.PullRequest, error) {
	owner, repo, ok := ParseRepoURL(repoURL)
	if !ok {
		return nil, nil
	}

	pr, _, err := c.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request %s/%s#%d: %w", owner, repo, number, err)
	}

	return &notifier.PullRequest{
		Title: pr.GetTitle(),
		URL:   pr.GetHTMLURL(),
	}, nil
}

// ParseRepoURL extracts owner and repository name from a github.com
// URL. ok is false for other hosts or malformed URLs.
func ParseRepoURL(repoURL string) (owner, repo string, ok bool) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", false
	}

	host := strings.TrimPrefix(u.Hostname(), "www.")
	if host != "github.com" {
		return "", "", false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}

	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
