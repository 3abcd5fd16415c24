// Package telegram provides the Telegram bot surface: the command and
// menu interface, and the delivery of notification jobs.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/gitnotify/internal/notifier"
	"github.com/user/gitnotify/internal/storage"
	"github.com/user/gitnotify/internal/watcher"
	"github.com/user/gitnotify/pkg/logger"
)

// Bot represents the Telegram bot.
type Bot struct {
	api      *tgbotapi.BotAPI
	handlers *Handlers
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	sendTimeout time.Duration
}

// NewBot creates a new Telegram bot instance. probe is used to verify
// repository URLs at subscribe time.
func NewBot(token string, debug bool, store *storage.Store, probe watcher.RefSource, probeTimeout time.Duration) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	api.Debug = debug

	logger.Info().Str("username", api.Self.UserName).Msg("Telegram bot authorized")

	ctx, cancel := context.WithCancel(context.Background())

	return &Bot{
		api:         api,
		handlers:    NewHandlers(api, store, probe, probeTimeout),
		ctx:         ctx,
		cancel:      cancel,
		sendTimeout: 10 * time.Second,
	}, nil
}

// Start begins listening for updates.
func (b *Bot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case update := <-updates:
				if update.Message != nil {
					b.handleMessage(update.Message)
				} else if update.CallbackQuery != nil {
					b.handlers.HandleCallback(update.CallbackQuery)
				}
			}
		}
	}()

	logger.Info().Msg("Telegram bot started, listening for updates")
}

// Stop gracefully stops the bot.
func (b *Bot) Stop() {
	logger.Info().Msg("Stopping Telegram bot")
	b.cancel()
	b.api.StopReceivingUpdates()
	b.wg.Wait()
}

// handleMessage processes incoming messages.
func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handlers.HandleCommand(msg)
	}
}

// Send delivers a rendered notification to one user. It implements
// notifier.Delivery; a recipient who blocked the bot is reported as
// notifier.ErrRecipientBlocked.
func (b *Bot) Send(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := b.api.Send(msg)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(b.sendTimeout):
		return fmt.Errorf("send to %d timed out", userID)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return fmt.Errorf("%w: %v", notifier.ErrRecipientBlocked, err)
	}
	if strings.Contains(err.Error(), "blocked by the user") {
		return fmt.Errorf("%w: %v", notifier.ErrRecipientBlocked, err)
	}
	return err
}
