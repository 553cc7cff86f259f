// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kalyro/vigil/internal/models"
)

// maxMessageLen is Telegram's message size cap, minus headroom for escapes.
const maxMessageLen = 4000

// StatusFunc supplies the text for the /status command.
type StatusFunc func() string

// Client handles Telegram notifications. Delivery is best effort: callers
// log a returned error and move on, never aborting monitoring.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	status         StatusFunc
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SetStatusFunc installs the provider backing the /status command.
func (c *Client) SetStatusFunc(fn StatusFunc) {
	c.status = fn
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands. It returns immediately; the goroutine stops when ctx
// is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "status":
		text := "Status unavailable"
		if c.status != nil {
			text = c.status()
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, text)
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry,
// splitting at the message size cap.
func (c *Client) sendMarkdownV2(text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		msg := tgbotapi.NewMessage(c.chatID, chunk)
		msg.ParseMode = "MarkdownV2"

		var lastErr error
		sent := false
		for i := 0; i < c.maxRetries; i++ {
			if _, err := c.bot.Send(msg); err == nil {
				sent = true
				break
			} else {
				lastErr = err
			}
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
		if !sent {
			return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
		}
	}
	return nil
}

// SendAlert sends a volatility alert with its analysis text.
func (c *Client) SendAlert(alert models.Alert, analysis string) error {
	return c.sendMarkdownV2(c.formatAlert(alert, analysis))
}

// SendDailyReport sends the daily recap report.
func (c *Client) SendDailyReport(report string) error {
	text := fmt.Sprintf("📋 *Daily Market Recap*\n\n📅 %s\n\n%s",
		escapeMarkdownV2(time.Now().Format("2006-01-02 15:04")),
		escapeMarkdownV2(report),
	)
	return c.sendMarkdownV2(text)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// formatAlert formats an alert and its analysis into a MarkdownV2 message.
func (c *Client) formatAlert(alert models.Alert, analysis string) string {
	emoji := "🟢"
	if alert.Volatility < 0 {
		emoji = "🔴"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n", emoji, escapeMarkdownV2(alert.DisplayName+" price movement"))
	fmt.Fprintf(&b, "📊 Price: `%s`\n", escapeMarkdownV2(fmt.Sprintf("%.4f", alert.CurrentPrice)))
	fmt.Fprintf(&b, "📈 Move: %s\n", escapeMarkdownV2(fmt.Sprintf("%+.2f%%", alert.Volatility*100)))
	fmt.Fprintf(&b, "🔔 Level: %s\n", escapeMarkdownV2(levelLabel(alert.Level)))
	fmt.Fprintf(&b, "⏰ Time: %s\n", escapeMarkdownV2(alert.TriggeredAt.Format("15:04:05")))

	if analysis != "" {
		fmt.Fprintf(&b, "\n🤖 *Analysis*\n\n%s\n", escapeMarkdownV2(analysis))
	}

	return b.String()
}

func levelLabel(l models.Level) string {
	switch l {
	case models.LevelHigh:
		return "HIGH 🔥"
	case models.LevelMedium:
		return "MEDIUM"
	case models.LevelLow:
		return "low"
	}
	return string(l)
}

// splitMessage splits text at newline boundaries into chunks of at most n.
// When no newline is available the hard cut still respects rune boundaries
// and never separates a MarkdownV2 escape backslash from the character it
// escapes, since either would make Telegram reject the chunk.
func splitMessage(text string, n int) []string {
	if len(text) <= n {
		return []string{text}
	}
	var chunks []string
	for len(text) > n {
		cut := strings.LastIndexByte(text[:n], '\n')
		if cut <= 0 {
			cut = n
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			for cut > 0 && text[cut-1] == '\\' {
				cut--
			}
			if cut == 0 {
				cut = n
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
