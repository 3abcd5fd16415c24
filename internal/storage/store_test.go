package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *Database) {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), db
}

func TestHashURL(t *testing.T) {
	a := HashURL("https://github.com/golang/go")
	b := HashURL("https://github.com/golang/go")
	c := HashURL("https://github.com/golang/tools")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestSubscribeDeduplicatesRepositories(t *testing.T) {
	store, _ := newTestStore(t)

	repo1, err := store.Subscribe(100, "alice", "https://github.com/golang/go")
	require.NoError(t, err)
	repo2, err := store.Subscribe(200, "bob", "https://github.com/golang/go")
	require.NoError(t, err)

	// Same URL from two users maps to one repository row
	assert.Equal(t, repo1.ID, repo2.ID)

	repos, err := store.AllRepositories()
	require.NoError(t, err)
	assert.Len(t, repos, 1)

	subs, err := store.Subscribers(repo1.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestSubscribeIsIdempotentAndKeepsFlags(t *testing.T) {
	store, _ := newTestStore(t)

	repo, err := store.Subscribe(100, "alice", "https://github.com/golang/go")
	require.NoError(t, err)

	sub, err := store.SubscriptionSettings(100, repo.ID)
	require.NoError(t, err)
	assert.True(t, sub.NotifyNewTag)

	sub.NotifyNewTag = false
	require.NoError(t, store.UpdateSubscriptionSettings(sub))

	// Re-subscribing must not reset the flags
	_, err = store.Subscribe(100, "alice", "https://github.com/golang/go")
	require.NoError(t, err)

	sub, err = store.SubscriptionSettings(100, repo.ID)
	require.NoError(t, err)
	assert.False(t, sub.NotifyNewTag)
	assert.True(t, sub.NotifyNewBranch)
}

func TestUnsubscribe(t *testing.T) {
	store, _ := newTestStore(t)

	repo, err := store.Subscribe(100, "alice", "https://github.com/golang/go")
	require.NoError(t, err)

	require.NoError(t, store.Unsubscribe(100, repo.ID))
	assert.ErrorIs(t, store.Unsubscribe(100, repo.ID), ErrNotFound)

	repos, err := store.UserSubscriptions(100)
	require.NoError(t, err)
	assert.Empty(t, repos)
}

func TestRepositoryByURL(t *testing.T) {
	store, _ := newTestStore(t)

	created, err := store.Subscribe(100, "alice", "https://github.com/golang/go")
	require.NoError(t, err)

	found, err := store.RepositoryByURL("https://github.com/golang/go")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = store.RepositoryByURL("https://github.com/golang/tools")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertRefsIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)

	repo, err := store.Subscribe(100, "alice", "https://github.com/golang/go")
	require.NoError(t, err)

	refs := map[string]string{
		"refs/heads/main": "a1",
		"refs/tags/v1":    "t1",
	}
	require.NoError(t, store.UpsertRefs(repo.ID, refs))
	require.NoError(t, store.UpsertRefs(repo.ID, refs))

	stored, err := store.Refs(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, refs, stored)

	// A changed hash replaces, not duplicates, the row
	require.NoError(t, store.UpsertRefs(repo.ID, map[string]string{"refs/heads/main": "b2"}))
	stored, err = store.Refs(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "b2", stored["refs/heads/main"])
	assert.Equal(t, "t1", stored["refs/tags/v1"])

	var count int
	require.NoError(t, store.db.Get(&count, `SELECT COUNT(*) FROM repository_refs WHERE repository_id = ?`, repo.ID))
	assert.Equal(t, 2, count)
}

func TestSubscribersExcludesGloballyMuted(t *testing.T) {
	store, _ := newTestStore(t)

	repo, err := store.Subscribe(100, "alice", "https://github.com/golang/go")
	require.NoError(t, err)
	_, err = store.Subscribe(200, "bob", "https://github.com/golang/go")
	require.NoError(t, err)

	// All flags stay true; the global mute alone must silence bob
	require.NoError(t, store.SetNotificationsEnabled(200, false))

	subs, err := store.Subscribers(repo.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(100), subs[0].UserID)

	require.NoError(t, store.SetNotificationsEnabled(200, true))
	subs, err = store.Subscribers(repo.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestSubscribersOrderedByUserID(t *testing.T) {
	store, _ := newTestStore(t)

	for _, id := range []int64{300, 100, 200} {
		_, err := store.Subscribe(id, "", "https://github.com/golang/go")
		require.NoError(t, err)
	}

	repo, err := store.RepositoryByURL("https://github.com/golang/go")
	require.NoError(t, err)

	subs, err := store.Subscribers(repo.ID)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, int64(100), subs[0].UserID)
	assert.Equal(t, int64(200), subs[1].UserID)
	assert.Equal(t, int64(300), subs[2].UserID)
}

func TestNotificationsEnabled(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.NotificationsEnabled(999)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.EnsureUser(100, "alice"))
	enabled, err := store.NotificationsEnabled(100)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestRemoveUserCascadesSubscriptions(t *testing.T) {
	store, _ := newTestStore(t)

	repo, err := store.Subscribe(100, "alice", "https://github.com/golang/go")
	require.NoError(t, err)
	_, err = store.Subscribe(200, "bob", "https://github.com/golang/go")
	require.NoError(t, err)

	require.NoError(t, store.RemoveUser(100))

	// Alice's subscription is gone, bob and the repository are intact
	subs, err := store.Subscribers(repo.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(200), subs[0].UserID)

	repos, err := store.AllRepositories()
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}

func TestOrphanCleanupCascadesRefs(t *testing.T) {
	store, _ := newTestStore(t)

	repo, err := store.Subscribe(100, "alice", "https://github.com/golang/go")
	require.NoError(t, err)
	keep, err := store.Subscribe(200, "bob", "https://github.com/golang/tools")
	require.NoError(t, err)

	require.NoError(t, store.UpsertRefs(repo.ID, map[string]string{"refs/heads/main": "a1"}))
	require.NoError(t, store.UpsertRefs(keep.ID, map[string]string{"refs/heads/main": "b1"}))

	require.NoError(t, store.Unsubscribe(100, repo.ID))

	removed, err := store.RemoveOrphanRepositories()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// The orphan's refs are removed by cascade, the live repo keeps its rows
	var count int
	require.NoError(t, store.db.Get(&count, `SELECT COUNT(*) FROM repository_refs WHERE repository_id = ?`, repo.ID))
	assert.Zero(t, count)

	stored, err := store.Refs(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, "b1", stored["refs/heads/main"])

	// Alice has no subscriptions left and is cleaned up too; bob stays
	removedUsers, err := store.RemoveOrphanUsers()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removedUsers)
	_, err = store.NotificationsEnabled(100)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.NotificationsEnabled(200)
	assert.NoError(t, err)
}

func TestGetStats(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Subscribe(100, "alice", "https://github.com/golang/go")
	require.NoError(t, err)
	_, err = store.Subscribe(100, "alice", "https://github.com/golang/tools")
	require.NoError(t, err)
	_, err = store.Subscribe(200, "bob", "https://github.com/golang/go")
	require.NoError(t, err)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Users)
	assert.Equal(t, int64(2), stats.Repositories)
	assert.Equal(t, int64(3), stats.Subscriptions)
}
