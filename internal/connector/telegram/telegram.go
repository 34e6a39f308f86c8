package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/h1v3-io/relay/internal/connector"
	"github.com/h1v3-io/relay/internal/relay"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token      string  // Bot token from @BotFather
	SendRate   float64 // Outbound messages per second across all chats (0 = 25)
	WebhookURL string  // Public URL for webhook mode; empty = long polling
}

// BotAPI is the subset of *tgbotapi.BotAPI the connector uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	CopyMessage(config tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Connector receives Telegram updates and implements relay.Transport.
type Connector struct {
	bot     BotAPI
	self    tgbotapi.User
	config  Config
	limiter *rate.Limiter
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// ErrCaptionTooLong is returned by CopyContent before any request is made
// when the caption exceeds Telegram's limit.
var ErrCaptionTooLong = errors.New("caption too long")

var (
	_ connector.Connector = (*Connector)(nil)
	_ relay.Transport     = (*Connector)(nil)
)

// New authorizes the bot, retrying transient failures with exponential
// backoff. An invalid token fails immediately.
func New(ctx context.Context, cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var bot *tgbotapi.BotAPI
	op := func() error {
		b, err := tgbotapi.NewBotAPI(cfg.Token)
		if err != nil {
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
				return backoff.Permanent(err)
			}
			logger.Warn("telegram authorization failed, retrying", "error", err)
			return err
		}
		bot = b
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return newWithBot(bot, bot.Self, cfg, handler, logger), nil
}

func newWithBot(bot BotAPI, self tgbotapi.User, cfg Config, handler connector.InboundHandler, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 25
	}
	return &Connector{
		bot:     bot,
		self:    self,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), 1),
		handler: handler,
		logger:  logger,
	}
}

func (c *Connector) Name() string { return "telegram" }

// Username returns the bot's username without "@".
func (c *Connector) Username() string { return c.self.UserName }

// Start receives updates until ctx is cancelled. In webhook mode it registers
// the webhook and updates arrive through HandleUpdateJSON; otherwise it
// long-polls.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if c.config.WebhookURL != "" {
		return c.runWebhook(ctx)
	}

	// A registered webhook blocks getUpdates.
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		c.logger.Warn("delete webhook failed", "error", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.self.UserName, "mode", "polling")

	for {
		select {
		case update := <-updates:
			c.handleUpdate(ctx, update)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

func (c *Connector) runWebhook(ctx context.Context) error {
	wh, err := tgbotapi.NewWebhook(c.config.WebhookURL)
	if err != nil {
		return fmt.Errorf("telegram: webhook url: %w", err)
	}
	if _, err := c.bot.Request(wh); err != nil {
		return fmt.Errorf("telegram: set webhook: %w", err)
	}
	c.logger.Info("telegram connector started", "bot", c.self.UserName, "mode", "webhook")

	<-ctx.Done()
	c.logger.Info("telegram connector stopped")
	return ctx.Err()
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// HandleUpdateJSON decodes one webhook delivery and dispatches it.
func (c *Connector) HandleUpdateJSON(ctx context.Context, body []byte) error {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return fmt.Errorf("telegram: decode update: %w", err)
	}
	c.handleUpdate(ctx, update)
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	ev, ok := eventFromMessage(update.Message, c.self)
	if !ok {
		return
	}
	if err := c.handler(ctx, ev); err != nil {
		c.logger.Error("inbound handler error",
			"chat_id", ev.ChatID,
			"error", err,
		)
	}
}

// SendText sends text to chatID. Markdown is rendered as Telegram HTML with a
// plain-text retry if Telegram rejects the markup.
func (c *Connector) SendText(ctx context.Context, chatID, text string, opts relay.SendOptions) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}
	text = truncateUTF16(text, maxMessageLen)
	msg := tgbotapi.NewMessage(id, text)
	msg.DisableWebPagePreview = true
	if err := setReply(&msg.BaseChat, opts.ReplyTo); err != nil {
		return "", err
	}
	if opts.Format == relay.FormatMarkdown {
		msg.Text = MarkdownToTelegramHTML(text)
		msg.ParseMode = tgbotapi.ModeHTML
	}

	sent, err := c.send(ctx, msg)
	if err != nil && opts.Format == relay.FormatMarkdown {
		c.logger.Warn("HTML send failed, falling back to plain text",
			"chat_id", chatID,
			"error", err,
		)
		msg.Text = StripMarkdown(text)
		msg.ParseMode = ""
		sent, err = c.send(ctx, msg)
	}
	if err != nil {
		return "", fmt.Errorf("telegram: send to %s: %w", chatID, err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// CopyContent copies a message without the "forwarded from" header.
func (c *Connector) CopyContent(ctx context.Context, fromChatID, messageID, toChatID string, opts relay.CopyOptions) (string, error) {
	from, err := parseChatID(fromChatID)
	if err != nil {
		return "", err
	}
	to, err := parseChatID(toChatID)
	if err != nil {
		return "", err
	}
	mid, err := strconv.Atoi(messageID)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid message_id %q: %w", messageID, err)
	}

	cfg := tgbotapi.NewCopyMessage(to, from, mid)
	if err := setReply(&cfg.BaseChat, opts.ReplyTo); err != nil {
		return "", err
	}
	if opts.Caption != nil {
		visible := *opts.Caption
		if opts.Format == relay.FormatMarkdown {
			visible = StripMarkdown(visible)
		}
		if utf16Len(visible) > maxCaptionLen {
			return "", fmt.Errorf("telegram: copy %s/%s to %s: %w", fromChatID, messageID, toChatID, ErrCaptionTooLong)
		}
		cfg.Caption = *opts.Caption
		if opts.Format == relay.FormatMarkdown {
			cfg.Caption = MarkdownToTelegramHTML(*opts.Caption)
			cfg.ParseMode = tgbotapi.ModeHTML
		}
	}

	copied, err := c.copy(ctx, cfg)
	if err != nil && opts.Caption != nil && opts.Format == relay.FormatMarkdown {
		c.logger.Warn("HTML caption failed, falling back to plain text",
			"chat_id", toChatID,
			"error", err,
		)
		cfg.Caption = StripMarkdown(*opts.Caption)
		cfg.ParseMode = ""
		copied, err = c.copy(ctx, cfg)
	}
	if err != nil {
		return "", fmt.Errorf("telegram: copy %s/%s to %s: %w", fromChatID, messageID, toChatID, err)
	}
	return strconv.Itoa(copied.MessageID), nil
}

// Mention renders a link that notifies the user even without a username.
func (c *Connector) Mention(userID, name string) string {
	name = strings.NewReplacer("[", "(", "]", ")").Replace(name)
	return fmt.Sprintf("[%s](tg://user?id=%s)", name, userID)
}

func (c *Connector) send(ctx context.Context, msg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, err
	}
	return c.bot.Send(msg)
}

func (c *Connector) copy(ctx context.Context, cfg tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return tgbotapi.MessageID{}, err
	}
	return c.bot.CopyMessage(cfg)
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat_id %q: %w", s, err)
	}
	return id, nil
}

func setReply(base *tgbotapi.BaseChat, replyTo string) error {
	if replyTo == "" {
		return nil
	}
	id, err := strconv.Atoi(replyTo)
	if err != nil {
		return fmt.Errorf("telegram: invalid reply_to %q: %w", replyTo, err)
	}
	base.ReplyToMessageID = id
	base.AllowSendingWithoutReply = true
	return nil
}
