// Package storage provides database operations and data models.
package storage

import "time"

// User represents a Telegram user known to the bot. NotificationsEnabled
// is the global mute toggle: when false the user receives nothing,
// regardless of per-subscription flags.
type User struct {
	ID                   int64     `db:"id"`
	Username             string    `db:"username"`
	NotificationsEnabled bool      `db:"notifications_enabled"`
	CreatedAt            time.Time `db:"created_at"`
}

// Repository represents a watched remote Git repository. URLHash is the
// sha256 of the URL and deduplicates rows when several users add the
// same repository.
type Repository struct {
	ID        int64     `db:"id"`
	URL       string    `db:"url"`
	URLHash   string    `db:"url_hash"`
	CreatedAt time.Time `db:"created_at"`
}

// Subscription joins a user to a repository with one flag per event kind.
type Subscription struct {
	UserID             int64     `db:"user_id"`
	RepositoryID       int64     `db:"repository_id"`
	NotifyNewBranch    bool      `db:"notify_on_new_branch"`
	NotifyNewTag       bool      `db:"notify_on_new_tag"`
	NotifyBranchUpdate bool      `db:"notify_on_branch_update"`
	NotifyNewPR        bool      `db:"notify_on_new_pr"`
	NotifyPRUpdate     bool      `db:"notify_on_pr_update"`
	CreatedAt          time.Time `db:"created_at"`
}

// RepositoryRef stores the last observed hash for one ref of a repository.
type RepositoryRef struct {
	ID           int64     `db:"id"`
	RepositoryID int64     `db:"repository_id"`
	RefName      string    `db:"ref_name"`
	LastHash     string    `db:"last_hash"`
	LastUpdated  time.Time `db:"last_updated"`
}

// Subscriber pairs a user id with the subscription flags used to filter
// events for that user. Only users with notifications enabled are
// returned as subscribers.
type Subscriber struct {
	UserID             int64 `db:"user_id"`
	NotifyNewBranch    bool  `db:"notify_on_new_branch"`
	NotifyNewTag       bool  `db:"notify_on_new_tag"`
	NotifyBranchUpdate bool  `db:"notify_on_branch_update"`
	NotifyNewPR        bool  `db:"notify_on_new_pr"`
	NotifyPRUpdate     bool  `db:"notify_on_pr_update"`
}
