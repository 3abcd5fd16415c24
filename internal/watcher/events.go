// Package watcher detects changes in remote repositories by diffing ref
// snapshots and drives the periodic poll cycle.
package watcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/user/gitnotify/internal/gitremote"
)

// EventKind identifies the type of a change event.
type EventKind int

const (
	KindNewBranch EventKind = iota
	KindNewTag
	KindBranchUpdated
	KindNewPullRequest
	KindPullRequestUpdated
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case KindNewBranch:
		return "new_branch"
	case KindNewTag:
		return "new_tag"
	case KindBranchUpdated:
		return "branch_updated"
	case KindNewPullRequest:
		return "new_pull_request"
	case KindPullRequestUpdated:
		return "pull_request_updated"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is a single detected change, scoped to one repository. OldHash
// is only set for the updated kinds, PRNumber only for the pull request
// kinds.
type Event struct {
	Kind     EventKind
	RefName  string
	PRNumber int
	OldHash  string
	NewHash  string
}

// ShortRef returns the ref name without its namespace prefix. For pull
// request refs the number is returned.
func (e Event) ShortRef() string {
	switch {
	case strings.HasPrefix(e.RefName, gitremote.BranchPrefix):
		return strings.TrimPrefix(e.RefName, gitremote.BranchPrefix)
	case strings.HasPrefix(e.RefName, gitremote.TagPrefix):
		return strings.TrimPrefix(e.RefName, gitremote.TagPrefix)
	case strings.HasPrefix(e.RefName, gitremote.PullPrefix):
		return strconv.Itoa(e.PRNumber)
	default:
		return e.RefName
	}
}

// refClass is the namespace a ref belongs to.
type refClass int

const (
	classBranch refClass = iota
	classTag
	classPull
)

// classifyRef determines the namespace of a full ref name and, for pull
// request refs, the PR number. ok is false for refs outside the watched
// namespaces or pull refs with an unparsable number.
func classifyRef(refName string) (class refClass, prNumber int, ok bool) {
	switch {
	case strings.HasPrefix(refName, gitremote.BranchPrefix):
		return classBranch, 0, true
	case strings.HasPrefix(refName, gitremote.TagPrefix):
		return classTag, 0, true
	case strings.HasPrefix(refName, gitremote.PullPrefix):
		rest := strings.TrimPrefix(refName, gitremote.PullPrefix)
		numStr, _, found := strings.Cut(rest, "/")
		if !found {
			return 0, 0, false
		}
		num, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, 0, false
		}
		return classPull, num, true
	default:
		return 0, 0, false
	}
}
