package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/gitnotify/internal/storage"
	"github.com/user/gitnotify/internal/watcher"
	"github.com/user/gitnotify/pkg/logger"
)

// PullRequest holds host metadata used to enrich pull request
// notifications.
type PullRequest struct {
	Title string
	URL   string
}

// Enricher resolves pull request metadata for hosts that support it.
// A nil result means no metadata is available for this repository.
type Enricher interface {
	PullRequest(ctx context.Context, repoURL string, number int) (*PullRequest, error)
}

// MessageBuilder renders change events into Markdown notification text.
type MessageBuilder struct {
	enricher Enricher
}

// NewMessageBuilder creates a message builder. enricher may be nil.
func NewMessageBuilder(enricher Enricher) *MessageBuilder {
	return &MessageBuilder{enricher: enricher}
}

// Build renders one event for one repository.
func (m *MessageBuilder) Build(ctx context.Context, repo storage.Repository, event watcher.Event) string {
	baseURL := strings.TrimSuffix(repo.URL, ".git")

	var b strings.Builder
	b.WriteString(headline(event))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Repository: [%s](%s)\n", shortRepoName(baseURL), baseURL)

	switch event.Kind {
	case watcher.KindNewBranch:
		name := event.ShortRef()
		fmt.Fprintf(&b, "Branch: [%s](%s/tree/%s)\n", name, baseURL, name)
		fmt.Fprintf(&b, "Commit: [%s](%s/commit/%s)", shortHash(event.NewHash), baseURL, event.NewHash)
	case watcher.KindNewTag:
		name := event.ShortRef()
		fmt.Fprintf(&b, "Tag: [%s](%s/releases/tag/%s)\n", name, baseURL, name)
		fmt.Fprintf(&b, "Commit: [%s](%s/commit/%s)", shortHash(event.NewHash), baseURL, event.NewHash)
	case watcher.KindBranchUpdated:
		name := event.ShortRef()
		fmt.Fprintf(&b, "Branch: [%s](%s/tree/%s)\n", name, baseURL, name)
		fmt.Fprintf(&b, "Changes: [compare](%s/compare/%s...%s)", baseURL, event.OldHash, event.NewHash)
	case watcher.KindNewPullRequest, watcher.KindPullRequestUpdated:
		b.WriteString(m.pullRequestDetails(ctx, repo.URL, baseURL, event))
	}

	return b.String()
}

// pullRequestDetails renders the PR line, enriched with the title from
// the host API when available.
func (m *MessageBuilder) pullRequestDetails(ctx context.Context, repoURL, baseURL string, event watcher.Event) string {
	link := fmt.Sprintf("%s/pull/%d", baseURL, event.PRNumber)

	if m.enricher != nil {
		pr, err := m.enricher.PullRequest(ctx, repoURL, event.PRNumber)
		if err != nil {
			logger.Debug().Err(err).Int("pr", event.PRNumber).Msg("Pull request enrichment failed")
		} else if pr != nil {
			if pr.URL != "" {
				link = pr.URL
			}
			return fmt.Sprintf("Pull Request: [#%d](%s)\nTitle: %s", event.PRNumber, link, pr.Title)
		}
	}

	return fmt.Sprintf("Pull Request: [#%d](%s)", event.PRNumber, link)
}

// headline returns the first line of a notification.
func headline(event watcher.Event) string {
	switch event.Kind {
	case watcher.KindNewBranch:
		return fmt.Sprintf("🌿 *New Branch: %s*", event.ShortRef())
	case watcher.KindNewTag:
		return fmt.Sprintf("🏷 *New Tag: %s*", event.ShortRef())
	case watcher.KindBranchUpdated:
		return fmt.Sprintf("🚀 *Branch Updated: %s*", event.ShortRef())
	case watcher.KindNewPullRequest:
		return fmt.Sprintf("📦 *New Pull Request: #%d*", event.PRNumber)
	case watcher.KindPullRequestUpdated:
		return fmt.Sprintf("📥 *Pull Request Updated: #%d*", event.PRNumber)
	default:
		return ""
	}
}

// shortRepoName returns the last two path segments of a repository URL,
// typically "owner/repo".
func shortRepoName(baseURL string) string {
	parts := strings.Split(strings.TrimSuffix(baseURL, "/"), "/")
	if len(parts) < 2 {
		return baseURL
	}
	return strings.Join(parts[len(parts)-2:], "/")
}

// shortHash abbreviates a commit hash for display.
func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
