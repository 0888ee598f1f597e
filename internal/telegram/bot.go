package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/BRKME/LP/internal/metrics"
	"github.com/BRKME/LP/internal/store"
)

const (
	telegramAPI = "https://api.telegram.org/bot"

	// maxMessageLen is the Telegram limit for one text message.
	maxMessageLen = 4096
)

// RecipientStore persists chats subscribed through the bot.
type RecipientStore interface {
	AddRecipient(ctx context.Context, chatID int64, username string) (bool, error)
	RemoveRecipient(ctx context.Context, chatID int64) error
	RecipientChatIDs(ctx context.Context) ([]int64, error)
	CountRecipients(ctx context.Context) (int, error)
}

type Bot struct {
	token      string
	baseURL    string
	chats      []int64
	recipients RecipientStore
	logger     *slog.Logger
	client     *http.Client
	limiter    *rate.Limiter
	offset     int64
}

// NewBot returns a bot that delivers reports to the static chats plus every
// subscribed recipient. recipients may be nil when no database is configured.
func NewBot(token string, chats []int64, recipients RecipientStore, logger *slog.Logger) *Bot {
	return &Bot{
		token:      token,
		baseURL:    telegramAPI,
		chats:      chats,
		recipients: recipients,
		logger:     logger,
		client:     &http.Client{Timeout: 40 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(25), 1),
	}
}

func (b *Bot) Name() string { return "telegram" }

// Notify sends report to every recipient. Delivery continues past individual
// failures; all errors are returned joined.
func (b *Bot) Notify(ctx context.Context, report string) error {
	chatIDs, err := b.chatIDs(ctx)
	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("list recipients: %w", err))
	}
	if len(chatIDs) == 0 {
		b.logger.Warn("no telegram recipients configured")
		return errors.Join(errs...)
	}

	parts := splitMessage(report, maxMessageLen)
	for _, chatID := range chatIDs {
		for _, part := range parts {
			if err := b.SendMessage(ctx, chatID, part); err != nil {
				errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
				break
			}
		}
	}
	b.logger.Info("report delivered", "recipients", len(chatIDs), "parts", len(parts), "failures", len(errs))
	return errors.Join(errs...)
}

// chatIDs merges static and subscribed chats, keeping first occurrence order.
func (b *Bot) chatIDs(ctx context.Context) ([]int64, error) {
	ids := append([]int64(nil), b.chats...)
	var err error
	if b.recipients != nil {
		var subscribed []int64
		subscribed, err = b.recipients.RecipientChatIDs(ctx)
		ids = append(ids, subscribed...)
	}

	seen := make(map[int64]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, err
}

// SendMessage sends an HTML message to a Telegram chat.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+b.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode, errResp.Description)
	}
	return nil
}

// splitMessage cuts text into parts of at most limit bytes, preferring blank
// line boundaries so report sections stay intact.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	for _, block := range strings.SplitAfter(text, "\n\n") {
		for len(block) > limit {
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			cut := strings.LastIndex(block[:limit], "\n")
			if cut <= 0 {
				cut = hardCut(block, limit)
			}
			parts = append(parts, block[:cut])
			block = block[cut:]
		}
		if cur.Len()+len(block) > limit {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		cur.WriteString(block)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// hardCut returns a cut point at or before limit that lands on a rune boundary
// and outside an HTML tag. len(s) must exceed limit.
func hardCut(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if open := strings.LastIndexByte(s[:cut], '<'); open > 0 && open > strings.LastIndexByte(s[:cut], '>') {
		cut = open
	}
	if cut <= 0 {
		return limit
	}
	return cut
}

// Run starts the long-polling loop for incoming Telegram messages.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("telegram bot started")
	b.refreshRecipientGauge(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			b.poll(ctx)
		}
	}
}

func (b *Bot) poll(ctx context.Context) {
	url := fmt.Sprintf("%s%s/getUpdates?offset=%d&timeout=30", b.baseURL, b.token, b.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		b.logger.Error("create poll request", "error", err)
		return
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("poll updates", "error", err)
		sleepCtx(ctx, 5*time.Second)
		return
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool `json:"ok"`
		Result []struct {
			UpdateID int64 `json:"update_id"`
			Message  *struct {
				Chat struct {
					ID int64 `json:"id"`
				} `json:"chat"`
				From struct {
					Username string `json:"username"`
				} `json:"from"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		b.logger.Error("decode updates", "error", err)
		sleepCtx(ctx, 5*time.Second)
		return
	}

	for _, u := range result.Result {
		b.offset = u.UpdateID + 1
		if u.Message == nil {
			continue
		}
		b.handleCommand(ctx, u.Message.Chat.ID, u.Message.From.Username, u.Message.Text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, username, text string) {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/start":
		b.handleStart(ctx, chatID, username)
	case "/stop":
		b.handleStop(ctx, chatID)
	case "/help":
		b.handleHelp(ctx, chatID)
	default:
		b.reply(ctx, chatID, "Unknown command. Send /help for available commands.")
	}
}

func (b *Bot) handleStart(ctx context.Context, chatID int64, username string) {
	if b.recipients == nil {
		b.reply(ctx, chatID, "Subscriptions are not available on this instance.")
		return
	}
	created, err := b.recipients.AddRecipient(ctx, chatID, username)
	if err != nil {
		b.logger.Error("add recipient", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "❌ Could not subscribe. Please try again.")
		return
	}
	b.refreshRecipientGauge(ctx)
	if !created {
		b.reply(ctx, chatID, "✅ You are already subscribed to pool reports.")
		return
	}
	b.logger.Info("recipient subscribed", "chat_id", chatID, "username", username)
	b.reply(ctx, chatID, "👋 Subscribed! You will receive the Uniswap V3 pool report after every scan.\n\nSend /stop to unsubscribe.")
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	if b.recipients == nil {
		b.reply(ctx, chatID, "Subscriptions are not available on this instance.")
		return
	}
	err := b.recipients.RemoveRecipient(ctx, chatID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		b.reply(ctx, chatID, "You are not subscribed. Send /start to subscribe.")
	case err != nil:
		b.logger.Error("remove recipient", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "❌ Could not unsubscribe. Please try again.")
	default:
		b.refreshRecipientGauge(ctx)
		b.logger.Info("recipient unsubscribed", "chat_id", chatID)
		b.reply(ctx, chatID, "🔕 Unsubscribed. Send /start to subscribe again.")
	}
}

func (b *Bot) handleHelp(ctx context.Context, chatID int64) {
	msg := "🤖 <b>Pool Scout Bot</b>\n\n" +
		"Commands:\n" +
		"/start - Subscribe to pool reports\n" +
		"/stop - Unsubscribe\n" +
		"/help - Show this message"
	b.reply(ctx, chatID, msg)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Warn("reply failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) refreshRecipientGauge(ctx context.Context) {
	if b.recipients == nil {
		return
	}
	n, err := b.recipients.CountRecipients(ctx)
	if err != nil {
		b.logger.Warn("count recipients", "error", err)
		return
	}
	metrics.RecipientsActive.Set(float64(n))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
