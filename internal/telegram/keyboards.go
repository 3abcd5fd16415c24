package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/gitnotify/internal/storage"
)

// subscriptionsMenu lists the user's repositories, one button each.
func subscriptionsMenu(repos []storage.Repository) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(repos))
	for _, repo := range repos {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(shortRepoName(repo.URL), fmt.Sprintf("view:%d", repo.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// repositoryMenu offers the actions for one repository.
func repositoryMenu(repoID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⚙️ Settings", fmt.Sprintf("settings:%d", repoID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Unsubscribe", fmt.Sprintf("unsub:%d", repoID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "list"),
		),
	)
}

// settingsMenu shows one toggle per event flag with its current state.
func settingsMenu(repoID int64, sub *storage.Subscription) tgbotapi.InlineKeyboardMarkup {
	toggle := func(label string, enabled bool, flag string) tgbotapi.InlineKeyboardButton {
		mark := "❌"
		if enabled {
			mark = "✅"
		}
		return tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%s %s", mark, label),
			fmt.Sprintf("flag:%d:%s", repoID, flag),
		)
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			toggle("New branches", sub.NotifyNewBranch, "new_branch"),
		),
		tgbotapi.NewInlineKeyboardRow(
			toggle("New tags", sub.NotifyNewTag, "new_tag"),
		),
		tgbotapi.NewInlineKeyboardRow(
			toggle("Branch updates", sub.NotifyBranchUpdate, "branch_update"),
		),
		tgbotapi.NewInlineKeyboardRow(
			toggle("New pull requests", sub.NotifyNewPR, "new_pr"),
		),
		tgbotapi.NewInlineKeyboardRow(
			toggle("Pull request updates", sub.NotifyPRUpdate, "pr_update"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", fmt.Sprintf("view:%d", repoID)),
		),
	)
}

// muteMenu shows the global notification toggle.
func muteMenu(enabled bool) tgbotapi.InlineKeyboardMarkup {
	label := "🔕 Disable all notifications"
	if !enabled {
		label = "🔔 Enable all notifications"
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "mute"),
		),
	)
}
