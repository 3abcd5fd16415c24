package notifier

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/gitnotify/internal/storage"
	"github.com/user/gitnotify/internal/watcher"
)

type fakeSubscriberStore struct {
	subs    []storage.Subscriber
	removed []int64
}

func (f *fakeSubscriberStore) Subscribers(repoID int64) ([]storage.Subscriber, error) {
	return f.subs, nil
}

func (f *fakeSubscriberStore) RemoveUser(userID int64) error {
	f.removed = append(f.removed, userID)
	return nil
}

type sentMessage struct {
	userID int64
	text   string
}

type fakeDelivery struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[int64]error
}

func (f *fakeDelivery) Send(ctx context.Context, userID int64, text string) error {
	if err, ok := f.failFor[userID]; ok {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{userID: userID, text: text})
	return nil
}

func (f *fakeDelivery) sentTo(userID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.userID == userID {
			out = append(out, m.text)
		}
	}
	return out
}

func allFlags() storage.Subscriber {
	return storage.Subscriber{
		NotifyNewBranch:    true,
		NotifyNewTag:       true,
		NotifyBranchUpdate: true,
		NotifyNewPR:        true,
		NotifyPRUpdate:     true,
	}
}

func TestResolveFlagMapping(t *testing.T) {
	cases := []struct {
		kind   watcher.EventKind
		enable func(*storage.Subscriber)
	}{
		{watcher.KindNewBranch, func(s *storage.Subscriber) { s.NotifyNewBranch = true }},
		{watcher.KindNewTag, func(s *storage.Subscriber) { s.NotifyNewTag = true }},
		{watcher.KindBranchUpdated, func(s *storage.Subscriber) { s.NotifyBranchUpdate = true }},
		{watcher.KindNewPullRequest, func(s *storage.Subscriber) { s.NotifyNewPR = true }},
		{watcher.KindPullRequestUpdated, func(s *storage.Subscriber) { s.NotifyPRUpdate = true }},
	}

	for _, c := range cases {
		// A subscriber with only the matching flag is resolved; one with
		// every flag except it is not.
		only := storage.Subscriber{UserID: 1}
		c.enable(&only)

		inverse := storage.Subscriber{
			UserID:             2,
			NotifyNewBranch:    !only.NotifyNewBranch,
			NotifyNewTag:       !only.NotifyNewTag,
			NotifyBranchUpdate: !only.NotifyBranchUpdate,
			NotifyNewPR:        !only.NotifyNewPR,
			NotifyPRUpdate:     !only.NotifyPRUpdate,
		}

		users := Resolve([]storage.Subscriber{only, inverse}, c.kind)
		assert.Equal(t, []int64{1}, users, c.kind.String())
	}
}

func TestResolvePreservesSubscriberOrder(t *testing.T) {
	subs := []storage.Subscriber{
		{UserID: 3, NotifyNewTag: true},
		{UserID: 1, NotifyNewTag: true},
		{UserID: 2},
	}
	users := Resolve(subs, watcher.KindNewTag)
	assert.Equal(t, []int64{3, 1}, users)
}

func TestHandleEventsFlagFiltering(t *testing.T) {
	// notify_on_new_tag=false blocks NewTag but not BranchUpdated on
	// the same repository.
	sub := allFlags()
	sub.UserID = 7
	sub.NotifyNewTag = false

	store := &fakeSubscriberStore{subs: []storage.Subscriber{sub}}
	delivery := &fakeDelivery{}
	n := NewNotifier(store, delivery, NewMessageBuilder(nil))

	repo := storage.Repository{ID: 1, URL: "https://example.com/a/b"}
	n.HandleEvents(context.Background(), repo, []watcher.Event{
		{Kind: watcher.KindBranchUpdated, RefName: "refs/heads/main", OldHash: "a1", NewHash: "b2"},
		{Kind: watcher.KindNewTag, RefName: "refs/tags/v2", NewHash: "t2"},
	})

	texts := delivery.sentTo(7)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Branch Updated")
}

func TestHandleEventsPerUserOrdering(t *testing.T) {
	subA := allFlags()
	subA.UserID = 1
	subB := allFlags()
	subB.UserID = 2

	store := &fakeSubscriberStore{subs: []storage.Subscriber{subA, subB}}
	delivery := &fakeDelivery{}
	n := NewNotifier(store, delivery, NewMessageBuilder(nil))

	repo := storage.Repository{ID: 1, URL: "https://example.com/a/b"}
	n.HandleEvents(context.Background(), repo, []watcher.Event{
		{Kind: watcher.KindBranchUpdated, RefName: "refs/heads/main", OldHash: "a1", NewHash: "b2"},
		{Kind: watcher.KindNewTag, RefName: "refs/tags/v2", NewHash: "t2"},
	})

	for _, userID := range []int64{1, 2} {
		texts := delivery.sentTo(userID)
		require.Len(t, texts, 2)
		assert.Contains(t, texts[0], "Branch Updated")
		assert.Contains(t, texts[1], "New Tag")
	}
}

func TestHandleEventsDeliveryFailureIsIsolated(t *testing.T) {
	subA := allFlags()
	subA.UserID = 1
	subB := allFlags()
	subB.UserID = 2

	store := &fakeSubscriberStore{subs: []storage.Subscriber{subA, subB}}
	delivery := &fakeDelivery{failFor: map[int64]error{1: fmt.Errorf("network down")}}
	n := NewNotifier(store, delivery, NewMessageBuilder(nil))

	repo := storage.Repository{ID: 1, URL: "https://example.com/a/b"}
	n.HandleEvents(context.Background(), repo, []watcher.Event{
		{Kind: watcher.KindNewBranch, RefName: "refs/heads/dev", NewHash: "d1"},
	})

	assert.Empty(t, delivery.sentTo(1))
	assert.Len(t, delivery.sentTo(2), 1)
	assert.Empty(t, store.removed)
}

func TestHandleEventsRemovesBlockedRecipient(t *testing.T) {
	sub := allFlags()
	sub.UserID = 9

	store := &fakeSubscriberStore{subs: []storage.Subscriber{sub}}
	delivery := &fakeDelivery{failFor: map[int64]error{
		9: fmt.Errorf("send: %w", ErrRecipientBlocked),
	}}
	n := NewNotifier(store, delivery, NewMessageBuilder(nil))

	repo := storage.Repository{ID: 1, URL: "https://example.com/a/b"}
	n.HandleEvents(context.Background(), repo, []watcher.Event{
		{Kind: watcher.KindNewBranch, RefName: "refs/heads/dev", NewHash: "d1"},
		{Kind: watcher.KindNewTag, RefName: "refs/tags/v1", NewHash: "t1"},
	})

	// Removed once, not retried for the second event
	assert.Equal(t, []int64{9}, store.removed)
}

func TestHandleEventsNoSubscribers(t *testing.T) {
	store := &fakeSubscriberStore{}
	delivery := &fakeDelivery{}
	n := NewNotifier(store, delivery, NewMessageBuilder(nil))

	repo := storage.Repository{ID: 1, URL: "https://example.com/a/b"}
	n.HandleEvents(context.Background(), repo, []watcher.Event{
		{Kind: watcher.KindNewBranch, RefName: "refs/heads/dev", NewHash: "d1"},
	})

	assert.Empty(t, delivery.sent)
}
