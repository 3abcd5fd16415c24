// Package notifier fans detected change events out to subscribed users.
package notifier

import (
	"context"
	"errors"

	"github.com/user/gitnotify/internal/storage"
	"github.com/user/gitnotify/internal/watcher"
	"github.com/user/gitnotify/pkg/logger"
)

// ErrRecipientBlocked is returned by a Delivery when the recipient has
// blocked the bot. The user is removed and not retried.
var ErrRecipientBlocked = errors.New("recipient blocked the bot")

// Delivery sends a rendered notification to one user. Implementations
// report ErrRecipientBlocked when the user can never be reached again.
type Delivery interface {
	Send(ctx context.Context, userID int64, text string) error
}

// SubscriberStore supplies the subscribers of a repository and removes
// unreachable users.
type SubscriberStore interface {
	Subscribers(repoID int64) ([]storage.Subscriber, error)
	RemoveUser(userID int64) error
}

// Notifier resolves subscribers for each event and dispatches rendered
// notifications through the delivery collaborator.
type Notifier struct {
	store    SubscriberStore
	delivery Delivery
	builder  *MessageBuilder
}

// NewNotifier creates a new notifier instance.
func NewNotifier(store SubscriberStore, delivery Delivery, builder *MessageBuilder) *Notifier {
	return &Notifier{
		store:    store,
		delivery: delivery,
		builder:  builder,
	}
}

// Resolve returns the user ids among subs whose flag for the event kind
// is set, in the order the subscribers are given. Global mute is
// already applied by the store: muted users never appear in subs.
func Resolve(subs []storage.Subscriber, kind watcher.EventKind) []int64 {
	var users []int64
	for _, sub := range subs {
		var wants bool
		switch kind {
		case watcher.KindNewBranch:
			wants = sub.NotifyNewBranch
		case watcher.KindNewTag:
			wants = sub.NotifyNewTag
		case watcher.KindBranchUpdated:
			wants = sub.NotifyBranchUpdate
		case watcher.KindNewPullRequest:
			wants = sub.NotifyNewPR
		case watcher.KindPullRequestUpdated:
			wants = sub.NotifyPRUpdate
		}
		if wants {
			users = append(users, sub.UserID)
		}
	}
	return users
}

// HandleEvents dispatches one repository's events in the order the diff
// produced them. Jobs for the same user therefore go out in event
// order. A failed send is logged and never blocks other users or later
// events.
func (n *Notifier) HandleEvents(ctx context.Context, repo storage.Repository, events []watcher.Event) {
	subs, err := n.store.Subscribers(repo.ID)
	if err != nil {
		logger.Error().Err(err).Str("url", repo.URL).Msg("Failed to load subscribers")
		return
	}
	if len(subs) == 0 {
		logger.Debug().Str("url", repo.URL).Msg("No subscribers for repository")
		return
	}

	blocked := make(map[int64]bool)

	for _, event := range events {
		text := n.builder.Build(ctx, repo, event)

		for _, userID := range Resolve(subs, event.Kind) {
			if blocked[userID] {
				continue
			}
			if err := n.delivery.Send(ctx, userID, text); err != nil {
				if errors.Is(err, ErrRecipientBlocked) {
					logger.Warn().Int64("user_id", userID).Msg("User has blocked the bot, removing")
					blocked[userID] = true
					if err := n.store.RemoveUser(userID); err != nil {
						logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to remove blocked user")
					}
					continue
				}
				logger.Error().
					Err(err).
					Int64("user_id", userID).
					Str("event", event.Kind.String()).
					Msg("Failed to send notification")
			}
		}
	}
}
