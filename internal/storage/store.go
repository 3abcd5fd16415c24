package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store handles all database operations for the bot.
type Store struct {
	db *Database
}

// NewStore creates a new store.
func NewStore(db *Database) *Store {
	return &Store{db: db}
}

// HashURL returns the hex-encoded sha256 of a repository URL. It is the
// deduplication key for repository rows.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// EnsureUser creates a user row if one does not exist yet.
func (s *Store) EnsureUser(userID int64, username string) error {
	query := `INSERT OR IGNORE INTO users (id, username) VALUES (?, ?)`
	_, err := s.db.Exec(query, userID, username)
	return err
}

// RemoveUser deletes a user. Their subscriptions are removed by cascade.
func (s *Store) RemoveUser(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, userID)
	return err
}

// NotificationsEnabled reports the user's global mute state.
func (s *Store) NotificationsEnabled(userID int64) (bool, error) {
	var enabled bool
	query := `SELECT notifications_enabled FROM users WHERE id = ?`
	err := s.db.Get(&enabled, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return enabled, err
}

// SetNotificationsEnabled toggles the user's global mute state.
func (s *Store) SetNotificationsEnabled(userID int64, enabled bool) error {
	query := `UPDATE users SET notifications_enabled = ? WHERE id = ?`
	_, err := s.db.Exec(query, enabled, userID)
	return err
}

// Subscribe adds a subscription for the user to the given repository URL,
// creating the user and repository rows as needed. Subscribing twice to
// the same URL is a no-op that keeps the existing flags.
func (s *Store) Subscribe(userID int64, username, url string) (*Repository, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO users (id, username) VALUES (?, ?)`, userID, username); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	urlHash := HashURL(url)
	if _, err := tx.Exec(`INSERT OR IGNORE INTO repositories (url, url_hash) VALUES (?, ?)`, url, urlHash); err != nil {
		return nil, fmt.Errorf("failed to insert repository: %w", err)
	}

	var repo Repository
	if err := tx.Get(&repo, `SELECT * FROM repositories WHERE url_hash = ?`, urlHash); err != nil {
		return nil, fmt.Errorf("failed to load repository: %w", err)
	}

	if _, err := tx.Exec(`INSERT OR IGNORE INTO subscriptions (user_id, repository_id) VALUES (?, ?)`, userID, repo.ID); err != nil {
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &repo, nil
}

// Unsubscribe removes a subscription.
func (s *Store) Unsubscribe(userID, repoID int64) error {
	query := `DELETE FROM subscriptions WHERE user_id = ? AND repository_id = ?`
	result, err := s.db.Exec(query, userID, repoID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UserSubscriptions returns the repositories a user is subscribed to.
func (s *Store) UserSubscriptions(userID int64) ([]Repository, error) {
	var repos []Repository
	query := `
		SELECT r.* FROM repositories r
		JOIN subscriptions s ON r.id = s.repository_id
		WHERE s.user_id = ?
		ORDER BY r.url
	`
	err := s.db.Select(&repos, query, userID)
	return repos, err
}

// RepositoryByID returns a repository by its id.
func (s *Store) RepositoryByID(repoID int64) (*Repository, error) {
	var repo Repository
	err := s.db.Get(&repo, `SELECT * FROM repositories WHERE id = ?`, repoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// RepositoryByURL returns a repository by its URL, matched through the
// url hash.
func (s *Store) RepositoryByURL(url string) (*Repository, error) {
	var repo Repository
	err := s.db.Get(&repo, `SELECT * FROM repositories WHERE url_hash = ?`, HashURL(url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// AllRepositories returns every known repository.
func (s *Store) AllRepositories() ([]Repository, error) {
	var repos []Repository
	err := s.db.Select(&repos, `SELECT * FROM repositories ORDER BY id`)
	return repos, err
}

// Refs returns the last known ref snapshot for a repository.
func (s *Store) Refs(repoID int64) (map[string]string, error) {
	var rows []RepositoryRef
	query := `SELECT * FROM repository_refs WHERE repository_id = ?`
	if err := s.db.Select(&rows, query, repoID); err != nil {
		return nil, err
	}
	refs := make(map[string]string, len(rows))
	for _, row := range rows {
		refs[row.RefName] = row.LastHash
	}
	return refs, nil
}

// UpsertRefs persists new hashes for a repository's refs in one
// transaction. Re-applying hashes already stored leaves the rows
// unchanged apart from last_updated.
func (s *Store) UpsertRefs(repoID int64, refs map[string]string) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO repository_refs (repository_id, ref_name, last_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(repository_id, ref_name) DO UPDATE SET
			last_hash = excluded.last_hash,
			last_updated = CURRENT_TIMESTAMP
	`
	for refName, hash := range refs {
		if _, err := tx.Exec(query, repoID, refName, hash); err != nil {
			return fmt.Errorf("failed to upsert ref %s: %w", refName, err)
		}
	}
	return tx.Commit()
}

// Subscribers returns the users subscribed to a repository whose global
// notifications are enabled, with their per-event flags, ordered by
// user id.
func (s *Store) Subscribers(repoID int64) ([]Subscriber, error) {
	var subs []Subscriber
	query := `
		SELECT
			u.id AS user_id,
			s.notify_on_new_branch,
			s.notify_on_new_tag,
			s.notify_on_branch_update,
			s.notify_on_new_pr,
			s.notify_on_pr_update
		FROM subscriptions s
		JOIN users u ON s.user_id = u.id
		WHERE s.repository_id = ? AND u.notifications_enabled = 1
		ORDER BY u.id
	`
	err := s.db.Select(&subs, query, repoID)
	return subs, err
}

// SubscriptionSettings returns the flags for one subscription.
func (s *Store) SubscriptionSettings(userID, repoID int64) (*Subscription, error) {
	var sub Subscription
	query := `SELECT * FROM subscriptions WHERE user_id = ? AND repository_id = ?`
	err := s.db.Get(&sub, query, userID, repoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateSubscriptionSettings stores the flags for one subscription.
func (s *Store) UpdateSubscriptionSettings(sub *Subscription) error {
	query := `
		UPDATE subscriptions
		SET notify_on_new_branch = ?, notify_on_new_tag = ?, notify_on_branch_update = ?,
		    notify_on_new_pr = ?, notify_on_pr_update = ?
		WHERE user_id = ? AND repository_id = ?
	`
	_, err := s.db.Exec(query,
		sub.NotifyNewBranch, sub.NotifyNewTag, sub.NotifyBranchUpdate,
		sub.NotifyNewPR, sub.NotifyPRUpdate,
		sub.UserID, sub.RepositoryID)
	return err
}

// Stats summarizes table sizes for the status endpoint.
type Stats struct {
	Users         int64
	Repositories  int64
	Subscriptions int64
}

// GetStats returns row counts for users, repositories and
// subscriptions.
func (s *Store) GetStats() (*Stats, error) {
	var stats Stats
	if err := s.db.Get(&stats.Users, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, err
	}
	if err := s.db.Get(&stats.Repositories, `SELECT COUNT(*) FROM repositories`); err != nil {
		return nil, err
	}
	if err := s.db.Get(&stats.Subscriptions, `SELECT COUNT(*) FROM subscriptions`); err != nil {
		return nil, err
	}
	return &stats, nil
}

// RemoveOrphanRepositories deletes repositories that no subscription
// references. Their refs are removed by cascade.
func (s *Store) RemoveOrphanRepositories() (int64, error) {
	query := `DELETE FROM repositories WHERE id NOT IN (SELECT DISTINCT repository_id FROM subscriptions)`
	result, err := s.db.Exec(query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RemoveOrphanUsers deletes users with no subscriptions left.
func (s *Store) RemoveOrphanUsers() (int64, error) {
	query := `DELETE FROM users WHERE id NOT IN (SELECT DISTINCT user_id FROM subscriptions)`
	result, err := s.db.Exec(query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
