// Package bot implements the interactive Telegram chat surface: market
// status, inline stake keyboards, and admin resolution commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/market"
)

// Bot long-polls the Telegram API and dispatches commands and stake
// callbacks to the market services. One Bot serves every chat it is a
// member of; per-chat state is not kept.
type Bot struct {
	api     *tgbotapi.BotAPI
	manager *market.Manager
	query   *market.Query
	users   domain.UserStore
	presets []float64
	admins  map[int64]struct{}
	timeout int
	logger  *slog.Logger
}

// Options carries the bot's policy knobs.
type Options struct {
	// StakePresets are the amounts offered on the inline keyboard.
	StakePresets []float64
	// AdminIDs may run the resolve commands.
	AdminIDs []int64
	// UpdateTimeout is the long-poll timeout in seconds.
	UpdateTimeout int
}

// New connects to the Telegram API with the given token.
func New(token string, manager *market.Manager, query *market.Query, users domain.UserStore, opts Options, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("bot: connect: %w", err)
	}

	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = 60
	}
	if len(opts.StakePresets) == 0 {
		opts.StakePresets = []float64{1, 5, 10, 50}
	}

	admins := make(map[int64]struct{}, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = struct{}{}
	}

	return &Bot{
		api:     api,
		manager: manager,
		query:   query,
		users:   users,
		presets: opts.StakePresets,
		admins:  admins,
		timeout: opts.UpdateTimeout,
		logger:  logger.With(slog.String("component", "bot")),
	}, nil
}

// Run blocks polling for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.timeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.InfoContext(ctx, "bot started", slog.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	b.rememberUser(ctx, msg.From)

	switch msg.Command() {
	case "start":
		b.reply(msg.Chat.ID, welcomeMessage(b.api.Self.UserName))
		b.sendStatus(ctx, msg.Chat.ID, msg.From.ID)
	case "status":
		b.sendStatus(ctx, msg.Chat.ID, msg.From.ID)
	case "bet":
		b.sendKeyboard(ctx, msg.Chat.ID)
	case "resolve_up":
		b.handleResolve(ctx, msg, domain.SideUp)
	case "resolve_down":
		b.handleResolve(ctx, msg, domain.SideDown)
	case "help":
		b.reply(msg.Chat.ID, helpMessage())
	}
}

// sendStatus replies with the current market snapshot and the caller's own
// positions on it.
func (b *Bot) sendStatus(ctx context.Context, chatID, userID int64) {
	snap, err := b.query.Current(ctx)
	if errors.Is(err, domain.ErrMarketNotFound) {
		b.reply(chatID, escapeMarkdownV2("No market yet. Check back after the next period opens."))
		return
	}
	if err != nil {
		b.replyError(ctx, chatID, "load the market status", err)
		return
	}

	userBets, err := b.query.UserBets(ctx, snap.ID, userID)
	if err != nil {
		b.logger.WarnContext(ctx, "load user bets", slog.String("error", err.Error()))
	}

	b.reply(chatID, statusMessage(snap, userBets))
	if snap.Status == domain.MarketStatusOpen {
		b.sendKeyboard(ctx, chatID)
	}
}

// sendKeyboard posts the stake preset keyboard for the current market.
func (b *Bot) sendKeyboard(ctx context.Context, chatID int64) {
	mk, err := b.manager.CurrentMarket(ctx)
	if errors.Is(err, domain.ErrMarketNotFound) {
		b.reply(chatID, escapeMarkdownV2("No open market right now."))
		return
	}
	if err != nil {
		b.replyError(ctx, chatID, "prepare the stake keyboard", err)
		return
	}
	if mk.Status != domain.MarketStatusOpen {
		b.reply(chatID, escapeMarkdownV2("Betting is closed for this market."))
		return
	}

	msg := tgbotapi.NewMessage(chatID, escapeMarkdownV2("Pick a side and a stake:"))
	msg.ParseMode = "MarkdownV2"
	msg.ReplyMarkup = betKeyboard(b.presets)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.WarnContext(ctx, "send keyboard", slog.String("error", err.Error()))
	}
}

// handleCallback processes an inline keyboard stake intent.
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.rememberUser(ctx, cb.From)

	side, amount, err := parseBetCallback(cb.Data)
	if err != nil {
		b.ack(cb.ID, "That button has expired.")
		return
	}

	mk, err := b.manager.CurrentMarket(ctx)
	if err != nil {
		b.ack(cb.ID, "No open market right now.")
		return
	}

	bet, err := b.manager.PlaceStake(ctx, mk.ID, cb.From.ID, side, amount)
	switch {
	case errors.Is(err, domain.ErrMarketNotOpen):
		b.ack(cb.ID, "Too late, betting just closed.")
		return
	case errors.Is(err, domain.ErrInvalidStake):
		b.ack(cb.ID, "That stake is not valid.")
		return
	case err != nil:
		b.logger.ErrorContext(ctx, "place stake", slog.String("error", err.Error()))
		b.ack(cb.ID, "Sorry, something went wrong. Please try again.")
		return
	}

	b.ack(cb.ID, fmt.Sprintf("Staked %s on %s!", bet.Stake, side.Label()))
	if cb.Message != nil {
		b.reply(cb.Message.Chat.ID, betPlacedMessage(bet))
	}
}

// handleResolve settles the latest market on the given side. Admin only.
func (b *Bot) handleResolve(ctx context.Context, msg *tgbotapi.Message, winning domain.Side) {
	if _, ok := b.admins[msg.From.ID]; !ok {
		b.reply(msg.Chat.ID, escapeMarkdownV2("Only admins can resolve markets."))
		return
	}

	mk, err := b.manager.GetLatestMarket(ctx)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, "find the market to resolve", err)
		return
	}

	result, err := b.manager.Resolve(ctx, mk.ID, winning)
	switch {
	case errors.Is(err, domain.ErrAlreadyResolved):
		b.reply(msg.Chat.ID, escapeMarkdownV2("That market is already resolved."))
		return
	case err != nil:
		b.replyError(ctx, msg.Chat.ID, "resolve the market", err)
		return
	}

	b.reply(msg.Chat.ID, settlementMessage(mk.ID, result))
}

// rememberUser refreshes the caller's user record. Failures are logged and
// ignored; identity upkeep never blocks an interaction.
func (b *Bot) rememberUser(ctx context.Context, from *tgbotapi.User) {
	if from == nil {
		return
	}
	u := domain.User{ID: from.ID, Username: from.UserName, FirstName: from.FirstName}
	if err := b.users.Upsert(ctx, u); err != nil {
		b.logger.WarnContext(ctx, "upsert user",
			slog.Int64("user_id", from.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("send message", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
	}
}

// replyError logs the failure and sends an apologetic, detail-free message.
func (b *Bot) replyError(ctx context.Context, chatID int64, action string, err error) {
	b.logger.ErrorContext(ctx, "bot "+action, slog.String("error", err.Error()))
	b.reply(chatID, escapeMarkdownV2("Sorry, I could not "+action+" right now. Please try again later."))
}

// ack answers a callback query with a toast.
func (b *Bot) ack(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.logger.Warn("answer callback", slog.String("error", err.Error()))
	}
}
