// Package gitremote queries the advertised references of remote Git
// repositories. It never clones or fetches objects; the ref
// advertisement is the only remote operation used.
package gitremote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
)

var (
	// ErrRemoteUnreachable indicates a network, DNS or authentication
	// failure reaching the remote. Transient; the next poll cycle
	// retries naturally.
	ErrRemoteUnreachable = errors.New("remote unreachable")

	// ErrInvalidRepository indicates the URL does not resolve to a
	// Git-capable endpoint. Persistent until the URL or remote changes.
	ErrInvalidRepository = errors.New("invalid repository")
)

const (
	BranchPrefix = "refs/heads/"
	TagPrefix    = "refs/tags/"
	PullPrefix   = "refs/pull/"
)

// Snapshot maps full ref names to commit hashes for one repository at
// one point in time.
type Snapshot map[string]string

// Client lists remote refs. It holds no per-repository state; every
// call is an independent query.
type Client struct{}

// NewClient creates a new remote ref client.
func NewClient() *Client {
	return &Client{}
}

// ListRefs returns the refs the remote advertises for url, limited to
// branches, tags and pull request heads. The context bounds the whole
// query, including connection setup.
func (c *Client) ListRefs(ctx context.Context, url string) (Snapshot, error) {
	if _, err := transport.NewEndpoint(url); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRepository, url, err)
	}

	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return nil, classifyError(url, err)
	}

	snapshot := make(Snapshot)
	for _, ref := range refs {
		name := ref.Name().String()
		if !isTrackedRef(name) {
			continue
		}
		snapshot[name] = ref.Hash().String()
	}
	return snapshot, nil
}

// isTrackedRef reports whether a ref belongs to one of the namespaces
// the bot watches. Peeled tag entries and symbolic refs like HEAD are
// excluded.
func isTrackedRef(name string) bool {
	if strings.HasSuffix(name, "^{}") {
		return false
	}
	if strings.HasPrefix(name, BranchPrefix) || strings.HasPrefix(name, TagPrefix) {
		return true
	}
	// Only the head ref of a pull request, not the merge ref
	return strings.HasPrefix(name, PullPrefix) && strings.HasSuffix(name, "/head")
}

// classifyError maps go-git transport failures onto the two error
// conditions callers distinguish between.
func classifyError(url string, err error) error {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, transport.ErrEmptyRemoteRepository),
		errors.Is(err, transport.ErrInvalidAuthMethod):
		return fmt.Errorf("%w: %s: %v", ErrInvalidRepository, url, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrRemoteUnreachable, url, err)
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("%w: %s: %v", ErrRemoteUnreachable, url, err)
	default:
		// DNS failures, TLS errors and malformed URLs surface as
		// generic errors; a malformed URL never becomes reachable, but
		// retrying it next cycle is harmless.
		return fmt.Errorf("%w: %s: %v", ErrRemoteUnreachable, url, err)
	}
}
