package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/gitnotify/internal/gitremote"
	"github.com/user/gitnotify/internal/storage"
	"github.com/user/gitnotify/internal/watcher"
	"github.com/user/gitnotify/pkg/logger"
)

// maxRefsDisplay caps how many tracked refs the repository view lists.
const maxRefsDisplay = 10

// Handlers manages command and callback handling for the bot.
type Handlers struct {
	api          *tgbotapi.BotAPI
	store        *storage.Store
	probe        watcher.RefSource
	probeTimeout time.Duration
}

// NewHandlers creates a new handlers instance.
func NewHandlers(api *tgbotapi.BotAPI, store *storage.Store, probe watcher.RefSource, probeTimeout time.Duration) *Handlers {
	return &Handlers{
		api:          api,
		store:        store,
		probe:        probe,
		probeTimeout: probeTimeout,
	}
}

// HandleCommand routes commands to the appropriate handlers.
func (h *Handlers) HandleCommand(msg *tgbotapi.Message) {
	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	logger.Debug().
		Str("command", command).
		Int64("chat_id", msg.Chat.ID).
		Msg("Received command")

	h.trackUser(msg)

	switch command {
	case "start":
		h.handleStart(msg)
	case "help":
		h.handleHelp(msg)
	case "subscribe", "sub":
		h.handleSubscribe(msg, args)
	case "unsubscribe", "unsub":
		h.handleUnsubscribe(msg, args)
	case "list":
		h.sendSubscriptionsList(msg.Chat.ID, 0)
	case "mute":
		h.handleMute(msg)
	default:
		h.sendReply(msg.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

// HandleCallback handles inline keyboard callbacks.
func (h *Handlers) HandleCallback(callback *tgbotapi.CallbackQuery) {
	// Acknowledge the callback
	h.api.Send(tgbotapi.NewCallback(callback.ID, ""))

	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID

	parts := strings.Split(callback.Data, ":")
	switch parts[0] {
	case "list":
		h.sendSubscriptionsList(chatID, messageID)
	case "view":
		if repoID, err := parseID(parts, 1); err == nil {
			h.showRepository(chatID, messageID, repoID)
		}
	case "unsub":
		if repoID, err := parseID(parts, 1); err == nil {
			if err := h.store.Unsubscribe(chatID, repoID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				logger.Error().Err(err).Int64("repo_id", repoID).Msg("Failed to unsubscribe")
			}
			h.sendSubscriptionsList(chatID, messageID)
		}
	case "settings":
		if repoID, err := parseID(parts, 1); err == nil {
			h.showSettings(chatID, messageID, repoID)
		}
	case "flag":
		if repoID, err := parseID(parts, 1); err == nil && len(parts) == 3 {
			h.toggleFlag(chatID, messageID, repoID, parts[2])
		}
	case "mute":
		h.toggleMute(chatID, messageID)
	}
}

func parseID(parts []string, idx int) (int64, error) {
	if len(parts) <= idx {
		return 0, errors.New("missing id")
	}
	return strconv.ParseInt(parts[idx], 10, 64)
}

// trackUser makes sure the sender has a user row.
func (h *Handlers) trackUser(msg *tgbotapi.Message) {
	var username string
	if msg.From != nil {
		username = msg.From.UserName
	}
	if err := h.store.EnsureUser(msg.Chat.ID, username); err != nil {
		logger.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("Failed to track user")
	}
}

// handleStart sends a welcome message.
func (h *Handlers) handleStart(msg *tgbotapi.Message) {
	text := `👋 *Welcome to GitNotify!*

I watch remote Git repositories and notify you about:
• 🌿 New branches
• 🏷 New tags
• 🚀 Branch updates
• 📦 New pull requests
• 📥 Pull request updates

*Quick start:*
` + "`/subscribe https://github.com/golang/go`" + `

Use /help to see all commands.`

	h.sendMarkdown(msg.Chat.ID, text)
}

// handleHelp sends help information.
func (h *Handlers) handleHelp(msg *tgbotapi.Message) {
	text := `📚 *Commands*

• ` + "`/subscribe <url>`" + ` - Watch a repository (alias: /sub)
• ` + "`/unsubscribe [url]`" + ` - Stop watching (alias: /unsub)
• ` + "`/list`" + ` - Your subscriptions and per-repository settings
• ` + "`/mute`" + ` - Toggle all notifications on or off

Any public Git repository works, not just GitHub. Per-repository
event settings are in /list → repository → Settings.`

	h.sendMarkdown(msg.Chat.ID, text)
}

// handleSubscribe validates the URL against the live remote and stores
// the subscription.
func (h *Handlers) handleSubscribe(msg *tgbotapi.Message, args string) {
	if args == "" {
		h.sendMarkdown(msg.Chat.ID, "Please provide a repository URL: `/subscribe <url>`")
		return
	}
	url := args

	ctx, cancel := context.WithTimeout(context.Background(), h.probeTimeout)
	defer cancel()

	if _, err := h.probe.ListRefs(ctx, url); err != nil {
		logger.Warn().Err(err).Str("url", url).Msg("Subscribe probe failed")
		if errors.Is(err, gitremote.ErrInvalidRepository) {
			h.sendReply(msg.Chat.ID, "❌ That URL does not look like a Git repository.")
		} else {
			h.sendReply(msg.Chat.ID, "⚠️ Could not reach the repository. Check the URL and make sure it is public, then try again.")
		}
		return
	}

	var username string
	if msg.From != nil {
		username = msg.From.UserName
	}
	if _, err := h.store.Subscribe(msg.Chat.ID, username, url); err != nil {
		logger.Error().Err(err).Str("url", url).Msg("Failed to subscribe")
		h.sendReply(msg.Chat.ID, "❌ An internal error occurred while subscribing.")
		return
	}

	h.sendReply(msg.Chat.ID, "✅ Subscribed! You will be notified about changes in this repository.")
}

// handleUnsubscribe removes a subscription by URL, or shows the list
// when no URL is given.
func (h *Handlers) handleUnsubscribe(msg *tgbotapi.Message, args string) {
	if args == "" {
		h.sendSubscriptionsList(msg.Chat.ID, 0)
		return
	}

	repo, err := h.store.RepositoryByURL(args)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.sendReply(msg.Chat.ID, "You are not subscribed to that repository.")
			return
		}
		logger.Error().Err(err).Msg("Failed to look up repository")
		h.sendReply(msg.Chat.ID, "❌ An internal error occurred.")
		return
	}

	if err := h.store.Unsubscribe(msg.Chat.ID, repo.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.sendReply(msg.Chat.ID, "You are not subscribed to that repository.")
			return
		}
		logger.Error().Err(err).Msg("Failed to unsubscribe")
		h.sendReply(msg.Chat.ID, "❌ An internal error occurred.")
		return
	}

	h.sendReply(msg.Chat.ID, "✅ Unsubscribed.")
}

// handleMute shows the global notification toggle.
func (h *Handlers) handleMute(msg *tgbotapi.Message) {
	enabled, err := h.store.NotificationsEnabled(msg.Chat.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read notification status")
		h.sendReply(msg.Chat.ID, "❌ An internal error occurred.")
		return
	}

	text := "🔔 Notifications are currently *enabled*."
	if !enabled {
		text = "🔕 Notifications are currently *disabled*."
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ParseMode = tgbotapi.ModeMarkdown
	out.ReplyMarkup = muteMenu(enabled)
	h.send(out)
}

// toggleMute flips the global mute flag and refreshes the menu.
func (h *Handlers) toggleMute(chatID int64, messageID int) {
	enabled, err := h.store.NotificationsEnabled(chatID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read notification status")
		return
	}
	enabled = !enabled
	if err := h.store.SetNotificationsEnabled(chatID, enabled); err != nil {
		logger.Error().Err(err).Msg("Failed to toggle notifications")
		return
	}

	text := "✅ All notifications have been enabled."
	if !enabled {
		text = "❌ All notifications have been disabled."
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	markup := muteMenu(enabled)
	edit.ReplyMarkup = &markup
	h.send(edit)
}

// sendSubscriptionsList shows the user's subscriptions as buttons. When
// messageID is non-zero the existing menu message is edited in place.
func (h *Handlers) sendSubscriptionsList(chatID int64, messageID int) {
	repos, err := h.store.UserSubscriptions(chatID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list subscriptions")
		h.sendReply(chatID, "❌ An internal error occurred.")
		return
	}

	text := "📚 Your current subscriptions:"
	if len(repos) == 0 {
		text = "📚 You have no active subscriptions."
	}
	markup := subscriptionsMenu(repos)

	if messageID != 0 {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
		edit.ReplyMarkup = &markup
		h.send(edit)
		return
	}
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyMarkup = markup
	h.send(out)
}

// showRepository renders one repository with its tracked refs.
func (h *Handlers) showRepository(chatID int64, messageID int, repoID int64) {
	repo, err := h.store.RepositoryByID(repoID)
	if err != nil {
		logger.Error().Err(err).Int64("repo_id", repoID).Msg("Failed to load repository")
		return
	}
	refs, err := h.store.Refs(repoID)
	if err != nil {
		logger.Error().Err(err).Int64("repo_id", repoID).Msg("Failed to load refs")
		return
	}

	baseURL := strings.TrimSuffix(repo.URL, ".git")

	var b strings.Builder
	fmt.Fprintf(&b, "📦 *Repository:* [%s](%s)\n\n", shortRepoName(baseURL), baseURL)
	b.WriteString("*Tracked references:*\n")

	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		b.WriteString("  _None yet._")
	}
	for i, name := range names {
		if i >= maxRefsDisplay {
			fmt.Fprintf(&b, "  _...and %d more references._\n", len(names)-i)
			break
		}
		hash := refs[name]
		short := hash
		if len(short) > 7 {
			short = short[:7]
		}
		fmt.Fprintf(&b, "  • %s: [%s](%s/commit/%s)\n", displayRefName(name), short, baseURL, hash)
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, b.String())
	edit.ParseMode = tgbotapi.ModeMarkdown
	edit.DisableWebPagePreview = true
	markup := repositoryMenu(repoID)
	edit.ReplyMarkup = &markup
	h.send(edit)
}

// showSettings renders the per-event flag toggles for one subscription.
func (h *Handlers) showSettings(chatID int64, messageID int, repoID int64) {
	sub, err := h.store.SubscriptionSettings(chatID, repoID)
	if err != nil {
		logger.Error().Err(err).Int64("repo_id", repoID).Msg("Failed to load subscription settings")
		return
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, "⚙️ Configure notifications for this repository:")
	markup := settingsMenu(repoID, sub)
	edit.ReplyMarkup = &markup
	h.send(edit)
}

// toggleFlag flips one subscription flag and refreshes the settings
// menu.
func (h *Handlers) toggleFlag(chatID int64, messageID int, repoID int64, flag string) {
	sub, err := h.store.SubscriptionSettings(chatID, repoID)
	if err != nil {
		logger.Error().Err(err).Int64("repo_id", repoID).Msg("Failed to load subscription settings")
		return
	}

	switch flag {
	case "new_branch":
		sub.NotifyNewBranch = !sub.NotifyNewBranch
	case "new_tag":
		sub.NotifyNewTag = !sub.NotifyNewTag
	case "branch_update":
		sub.NotifyBranchUpdate = !sub.NotifyBranchUpdate
	case "new_pr":
		sub.NotifyNewPR = !sub.NotifyNewPR
	case "pr_update":
		sub.NotifyPRUpdate = !sub.NotifyPRUpdate
	default:
		logger.Warn().Str("flag", flag).Msg("Unknown subscription flag")
		return
	}

	if err := h.store.UpdateSubscriptionSettings(sub); err != nil {
		logger.Error().Err(err).Int64("repo_id", repoID).Msg("Failed to update subscription settings")
		return
	}

	h.showSettings(chatID, messageID, repoID)
}

// displayRefName strips the ref namespace for display.
func displayRefName(name string) string {
	name = strings.TrimPrefix(name, gitremote.BranchPrefix)
	name = strings.TrimPrefix(name, gitremote.TagPrefix)
	if rest, ok := strings.CutPrefix(name, gitremote.PullPrefix); ok {
		return "#" + strings.TrimSuffix(rest, "/head")
	}
	return name
}

// shortRepoName returns the trailing "owner/repo" part of a URL.
func shortRepoName(baseURL string) string {
	baseURL = strings.TrimSuffix(baseURL, ".git")
	parts := strings.Split(strings.TrimSuffix(baseURL, "/"), "/")
	if len(parts) < 2 {
		return baseURL
	}
	return strings.Join(parts[len(parts)-2:], "/")
}

func (h *Handlers) sendReply(chatID int64, text string) {
	h.send(tgbotapi.NewMessage(chatID, text))
}

func (h *Handlers) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	h.send(msg)
}

func (h *Handlers) send(c tgbotapi.Chattable) {
	if _, err := h.api.Send(c); err != nil {
		logger.Error().Err(err).Msg("Failed to send message")
	}
}
