package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/market"
	"github.com/updownlabs/updownbot/internal/settle"
)

// callbackPrefix namespaces stake intents in callback data, which Telegram
// caps at 64 bytes.
const callbackPrefix = "bet"

func welcomeMessage(botName string) string {
	return fmt.Sprintf(
		"👋 Welcome to @%s\\!\n\nEvery day a new UP/DOWN market opens\\. Stake on a side, and when the period closes the losing pool is shared among the winners\\.\n\nUse /status to see the current market and /help for all commands\\.",
		escapeMarkdownV2(botName),
	)
}

func helpMessage() string {
	return escapeMarkdownV2("/status - current market and your positions\n" +
		"/bet - place a stake\n" +
		"/resolve_up - settle the market on UP (admins)\n" +
		"/resolve_down - settle the market on DOWN (admins)\n" +
		"/help - this message")
}

// statusMessage renders a market snapshot plus the caller's own bets.
func statusMessage(s market.Snapshot, userBets []domain.Bet) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📊 *%s* \\(%s\\)\n", escapeMarkdownV2(s.ID), statusEmoji(s.Status))
	fmt.Fprintf(&b, "📈 UP %s%% · 📉 DOWN %s%%\n",
		escapeMarkdownV2(formatPercent(s.UpPercent)),
		escapeMarkdownV2(formatPercent(s.DownPercent)),
	)
	fmt.Fprintf(&b, "💰 Volume: %s \\(%d bets\\)\n",
		escapeMarkdownV2(s.Volume.String()), s.BetCount)

	if s.OpenPrice != nil {
		fmt.Fprintf(&b, "🔓 Open price: %s\n", escapeMarkdownV2(s.OpenPrice.String()))
	}
	if s.LastPrice != nil {
		fmt.Fprintf(&b, "💹 Last price: %s\n", escapeMarkdownV2(s.LastPrice.String()))
	}
	if s.WinningSide != nil {
		fmt.Fprintf(&b, "🏆 Winner: *%s*\n", s.WinningSide.Label())
	}

	if len(userBets) > 0 {
		b.WriteString("\n*Your positions:*\n")
		for _, bet := range userBets {
			line := fmt.Sprintf("• %s on %s", bet.Stake, bet.Side.Label())
			if bet.Payout != nil {
				line += fmt.Sprintf(" → paid %s", bet.Payout)
			}
			b.WriteString(escapeMarkdownV2(line) + "\n")
		}
	}

	return b.String()
}

func betPlacedMessage(bet domain.Bet) string {
	return fmt.Sprintf("✅ Staked *%s* on *%s*\\. Good luck\\!",
		escapeMarkdownV2(bet.Stake.String()), bet.Side.Label())
}

// settlementMessage summarizes a completed settlement.
func settlementMessage(marketID string, res settle.Result) string {
	if !res.HasWinners() {
		return fmt.Sprintf("🏁 *%s* resolved *%s*\\. No winning bets; the pool is void\\.",
			escapeMarkdownV2(marketID), res.Winning.Label())
	}
	return fmt.Sprintf(
		"🏁 *%s* resolved *%s*\\!\n💰 Pool: %s\n✖️ Multiplier: %s\n🏆 Winners paid: %d",
		escapeMarkdownV2(marketID),
		res.Winning.Label(),
		escapeMarkdownV2(res.TotalPool.String()),
		escapeMarkdownV2(res.Multiplier.Round(4).String()),
		len(res.Payouts),
	)
}

func statusEmoji(status domain.MarketStatus) string {
	switch status {
	case domain.MarketStatusOpen:
		return "🟢 open"
	case domain.MarketStatusLocked:
		return "🔒 locked"
	case domain.MarketStatusResolved:
		return "✅ resolved"
	default:
		return string(status)
	}
}

// betKeyboard builds one row per side with a button for each preset amount.
func betKeyboard(presets []float64) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, 2)
	for _, side := range []domain.Side{domain.SideUp, domain.SideDown} {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(presets))
		for _, amount := range presets {
			label := fmt.Sprintf("%s %s", sideArrow(side), formatAmount(amount))
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, betCallbackData(side, amount)))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func sideArrow(s domain.Side) string {
	if s == domain.SideUp {
		return "📈 UP"
	}
	return "📉 DOWN"
}

func betCallbackData(side domain.Side, amount float64) string {
	return fmt.Sprintf("%s:%s:%s", callbackPrefix, side.Label(), formatAmount(amount))
}

// parseBetCallback decodes "bet:UP:10" style callback data.
func parseBetCallback(data string) (domain.Side, decimal.Decimal, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return "", decimal.Decimal{}, fmt.Errorf("bot: malformed callback data %q", data)
	}

	side, err := domain.ParseSide(parts[1])
	if err != nil {
		return "", decimal.Decimal{}, fmt.Errorf("bot: callback data %q: %w", data, err)
	}

	amount, err := decimal.NewFromString(parts[2])
	if err != nil {
		return "", decimal.Decimal{}, fmt.Errorf("bot: callback data %q: %w", data, err)
	}
	return side, amount, nil
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

func formatPercent(pct float64) string {
	return strconv.FormatFloat(pct, 'f', -1, 64)
}

// escapeMarkdownV2 escapes the characters Telegram MarkdownV2 reserves.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
