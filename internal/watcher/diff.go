package watcher

import "sort"

// Diff compares the stored ref snapshot of a repository against a fresh
// one and returns the change events plus the hashes to persist. Events
// are ordered by full ref name. Refs present only in the prior snapshot
// produce nothing; there is no delete event kind and their rows are
// left in place.
//
// The result depends only on the two snapshots, so re-running the diff
// with the same inputs yields identical output.
func Diff(prior, fresh map[string]string) ([]Event, map[string]string) {
	names := make([]string, 0, len(fresh))
	for name := range fresh {
		names = append(names, name)
	}
	sort.Strings(names)

	var events []Event
	updates := make(map[string]string)

	for _, name := range names {
		newHash := fresh[name]
		class, prNumber, ok := classifyRef(name)
		if !ok {
			continue
		}

		oldHash, known := prior[name]
		if known && oldHash == newHash {
			continue
		}

		updates[name] = newHash

		if !known {
			// First observation of this ref is always "new", whatever
			// its hash.
			switch class {
			case classBranch:
				events = append(events, Event{Kind: KindNewBranch, RefName: name, NewHash: newHash})
			case classTag:
				events = append(events, Event{Kind: KindNewTag, RefName: name, NewHash: newHash})
			case classPull:
				events = append(events, Event{Kind: KindNewPullRequest, RefName: name, PRNumber: prNumber, NewHash: newHash})
			}
			continue
		}

		switch class {
		case classBranch:
			events = append(events, Event{Kind: KindBranchUpdated, RefName: name, OldHash: oldHash, NewHash: newHash})
		case classPull:
			events = append(events, Event{Kind: KindPullRequestUpdated, RefName: name, PRNumber: prNumber, OldHash: oldHash, NewHash: newHash})
		case classTag:
			// A moved tag is not an event; the stored hash still
			// converges so it is not re-detected every cycle.
		}
	}

	return events, updates
}
