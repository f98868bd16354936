package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramAlerter forwards operator-facing events (automation tripping,
// resolutions, cancellations) to a Telegram chat.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

func NewTelegramAlerter(botToken, chatID string, logger *zap.Logger) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	chatIDInt, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	return &TelegramAlerter{bot: bot, chatID: chatIDInt, logger: logger}, nil
}

// Run consumes hub events until ctx is cancelled, forwarding the ones an
// operator should see.
func (a *TelegramAlerter) Run(ctx context.Context, hub *Hub) error {
	if a == nil || hub == nil {
		return nil
	}
	events := hub.Subscribe("", 64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			text := a.format(ev)
			if text == "" {
				continue
			}
			msg := tgbotapi.NewMessage(a.chatID, text)
			if _, err := a.bot.Send(msg); err != nil && a.logger != nil {
				a.logger.Warn("telegram send failed",
					zap.String("event", ev.Type),
					zap.Error(err))
			}
		}
	}
}

func (a *TelegramAlerter) format(ev Event) string {
	switch ev.Type {
	case EventAutomationDisabled:
		reason, _ := ev.Data["reason"].(string)
		return fmt.Sprintf("⚠️ Automation disabled: %s. Re-enable it once the underlying issue is fixed.", reason)
	case EventAutomationEnabled:
		return "✅ Automation re-enabled."
	case EventCompetitionResolved:
		winner, _ := ev.Data["winner"].(string)
		if winner == "" {
			winner = "tie (all bets refunded)"
		}
		return fmt.Sprintf("🏁 Competition %s resolved, winner: %s", ev.CompetitionID, winner)
	case EventCompetitionCancelled:
		reason, _ := ev.Data["reason"].(string)
		return fmt.Sprintf("🛑 Competition %s cancelled: %s", ev.CompetitionID, reason)
	case EventCompetitionPaused:
		return fmt.Sprintf("⏸ Competition %s paused", ev.CompetitionID)
	default:
		return ""
	}
}
