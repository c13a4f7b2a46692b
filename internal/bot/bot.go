// Package bot is the Telegram admin interface over the read model. It is
// private: only configured admin ids get answers.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/soaska/botpulse/internal/maintenance"
	"github.com/soaska/botpulse/internal/report"
)

// Bot represents the Telegram admin bot.
type Bot struct {
	api         *tgbotapi.BotAPI
	projector   *report.Projector
	maintenance *maintenance.Service
	adminIDs    []int64
	log         zerolog.Logger
}

// NewBot creates and authorizes the bot.
func NewBot(token string, adminIDs []int64, projector *report.Projector, maint *maintenance.Service, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	_, err = api.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete webhook: %w", err)
	}

	b := &Bot{
		api:         api,
		projector:   projector,
		maintenance: maint,
		adminIDs:    adminIDs,
		log:         log,
	}

	if maint != nil {
		maint.SetNotifyCallback(b.onSweepCompleted)
	}

	log.Info().Str("account", api.Self.UserName).Msg("telegram bot authorized")
	return b, nil
}

// Start consumes updates until the context is canceled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("updates channel closed")
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			go b.handleMessage(update.Message)
		}
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !b.isAdmin(msg.From.ID) {
		if msg.IsCommand() && msg.Command() == "start" {
			reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(
				"👋 Hello! Your Telegram ID is %d.\n\nThis bot is private and only admins can use it.",
				msg.From.ID,
			))
			b.api.Send(reply)
		} else {
			b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "❌ Unauthorized. This bot is private."))
		}
		return
	}

	if !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "start", "help":
		b.handleHelp(msg)
	case "stats":
		b.handleStats(msg)
	case "health":
		b.handleHealth(msg)
	case "instances":
		b.handleInstances(msg)
	case "errors":
		b.handleErrors(msg)
	case "recent":
		b.handleRecent(msg)
	case "maintenance":
		b.handleMaintenance(msg)
	default:
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "❓ Unknown command. Use /help to see available commands."))
	}
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) {
	text := `
🤖 *Botpulse Fleet Monitor*

📊 *Statistics:*
/stats - Fleet statistics overview
/health - Fleet health and recommendations
/instances - Instance listing
/recent - Recently active instances
/errors - Recent error feed

⚡ *Actions:*
/maintenance - Trigger a maintenance sweep

ℹ️ /help - Show this message
`
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleStats(msg *tgbotapi.Message) {
	view := b.projector.Stats()

	text := fmt.Sprintf(`
📊 *Fleet Statistics*

🤖 *Instances:* %d (%d active, %d inactive)
👥 *Users:* %d (%d active)
🔗 *Connected Now:* %d (peak %d)

📈 *Counters:*
   Connections: %s
   Reconnections: %s
   Disconnections: %s
   Messages: %s
   Heartbeats: %s

⏱ *Sessions:* avg %.0fs, min %.0fs, max %.0fs
💚 *Quality:* stability %d, health %d, connection %d
`,
		view.TotalInstances, view.ActiveInstances, view.InactiveInstances,
		view.TotalUsers, view.ActiveUsers,
		view.CurrentConnections, view.PeakConnections,
		formatNumber(view.TotalConnections),
		formatNumber(view.Reconnections),
		formatNumber(view.Disconnections),
		formatNumber(view.TotalMessages),
		formatNumber(view.Heartbeats),
		view.SessionMetrics.AvgSeconds, view.SessionMetrics.MinSeconds, view.SessionMetrics.MaxSeconds,
		view.QualityMetrics.StabilityScore, view.QualityMetrics.HealthScore, view.QualityMetrics.ConnectionQuality)

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleHealth(msg *tgbotapi.Message) {
	summary := b.projector.Health()

	text := fmt.Sprintf(`
💚 *Fleet Health*

Stability: %d / 100
Health: %d / 100
Connection quality: %d / 100
Active instances: %d
Recently disconnected: %d
`,
		summary.QualityMetrics.StabilityScore,
		summary.QualityMetrics.HealthScore,
		summary.QualityMetrics.ConnectionQuality,
		summary.ActiveInstances,
		summary.RecentlyDisconnected)

	// Worst instances come first in the summary.
	shown := 0
	for _, inst := range summary.Instances {
		if inst.HealthScore >= 70 || shown >= 5 {
			break
		}
		text += fmt.Sprintf("\n⚠️ `%s` score %d (%s)", shortID(inst.ID), inst.HealthScore, strings.Join(inst.QualityIssues, ", "))
		for _, rec := range inst.Recommendations {
			text += "\n   • " + rec
		}
		shown++
	}
	if shown == 0 {
		text += "\n✅ No instances need attention."
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleInstances(msg *tgbotapi.Message) {
	view := b.projector.Instances()

	text := fmt.Sprintf("🤖 *Instances:* %d total, %d active, %d inactive\n", view.Total, view.Active, view.Inactive)
	for i, inst := range view.Instances {
		if i >= 10 {
			text += fmt.Sprintf("\n… and %d more", view.Total-10)
			break
		}
		marker := "🔴"
		if inst.Active {
			marker = "🟢"
		}
		text += fmt.Sprintf("\n%s `%s` %s, health %d, last active %s",
			marker, shortID(inst.ID), inst.Status, inst.HealthScore, inst.LastActive.Format("02 Jan 15:04"))
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleRecent(msg *tgbotapi.Message) {
	view := b.projector.Instances()

	text := "🕐 *Recently Active Instances*\n"
	for i, inst := range view.Instances {
		if i >= 10 {
			break
		}
		text += fmt.Sprintf("\n`%s` — %s (%s ago)",
			shortID(inst.ID), inst.Status, formatDuration(time.Since(inst.LastActive)))
	}
	if len(view.Instances) == 0 {
		text += "\nNo instances tracked yet."
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleErrors(msg *tgbotapi.Message) {
	view := b.projector.Errors()

	text := fmt.Sprintf("🚨 *Error Feed* (%d entries)\n", view.Total)
	for i, entry := range view.Errors {
		if i >= 10 {
			break
		}
		if entry.Timestamp != nil {
			text += fmt.Sprintf("\n%s `%s`: %s", entry.Timestamp.Format("02 Jan 15:04"), shortID(entry.InstanceID), entry.Error)
		} else {
			text += fmt.Sprintf("\n%s ×%d", entry.Error, entry.Count)
		}
	}
	if view.Total == 0 {
		text += "\n✅ No errors recorded."
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "Markdown"
	b.api.Send(reply)
}

func (b *Bot) handleMaintenance(msg *tgbotapi.Message) {
	if b.maintenance == nil {
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "Maintenance service is disabled."))
		return
	}

	b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "🔄 Running maintenance sweep..."))

	summary, err := b.maintenance.Run(context.Background())
	if err != nil {
		b.sendError(msg.Chat.ID, err.Error())
		return
	}
	// The completion notification goes out via onSweepCompleted.
	_ = summary
}

// onSweepCompleted notifies all admins after a maintenance sweep.
func (b *Bot) onSweepCompleted(summary *maintenance.Summary) {
	text := fmt.Sprintf(`
🧹 *Maintenance Sweep Complete*

🗑 Evicted instances: %d
💾 Backup: %s
♻️ Backups pruned: %d
⏱ Duration: %s
`, summary.Evicted, backupLabel(summary.BackupPath), summary.PrunedBackups, summary.Duration.Round(time.Millisecond))

	for _, adminID := range b.adminIDs {
		reply := tgbotapi.NewMessage(adminID, text)
		reply.ParseMode = "Markdown"
		b.api.Send(reply)
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.adminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) sendError(chatID int64, message string) {
	b.api.Send(tgbotapi.NewMessage(chatID, "❌ Error: "+message))
}

func backupLabel(path string) string {
	if path == "" {
		return "skipped"
	}
	return path
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteRune(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}
