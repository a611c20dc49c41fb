// Package telegram runs the long-polling bot that fronts the proxy: each
// private message becomes a chat-completions call and the assistant reply
// goes back to the chat, split over Telegram's message size limit.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/animara-ai/animara/internal/config"
)

const maxMessageLen = 4096

// Bot forwards Telegram messages to the proxy.
type Bot struct {
	bot      *telego.Bot
	proxyURL string
	ownerID  int64
	http     *http.Client

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the bot client from config. The token comes from the
// environment.
func New(cfg config.TelegramConfig) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token not set (ANIMARA_TELEGRAM_TOKEN)")
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	proxyURL := cfg.ProxyURL
	if proxyURL == "" {
		proxyURL = "http://127.0.0.1:8788"
	}
	return &Bot{
		bot:      bot,
		proxyURL: proxyURL,
		ownerID:  cfg.OwnerChatID,
		http:     &http.Client{Timeout: 180 * time.Second},
	}, nil
}

// Start long-polls until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	updates, err := b.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	slog.Info("telegram.connected", "username", b.bot.Username())

	go func() {
		defer close(b.done)
		for update := range updates {
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			msg := update.Message
			go b.handleMessage(pollCtx, msg)
		}
	}()
	return nil
}

// Stop cancels polling and waits for the update loop to drain.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}
}

// personID maps the sender to a caller: the owner's chat uses the owner
// identity, everyone else gets a tg-prefixed id.
func (b *Bot) personID(msg *telego.Message) string {
	if msg.From == nil {
		return fmt.Sprintf("tg:chat:%d", msg.Chat.ID)
	}
	if b.ownerID != 0 && msg.From.ID == b.ownerID {
		return "owner"
	}
	return fmt.Sprintf("tg:%d", msg.From.ID)
}

func (b *Bot) handleMessage(ctx context.Context, msg *telego.Message) {
	chatID := tu.ID(msg.Chat.ID)
	_ = b.bot.SendChatAction(ctx, tu.ChatAction(chatID, telego.ChatActionTyping))

	reply, err := b.askProxy(ctx, b.personID(msg), msg.Text)
	if err != nil {
		slog.Error("telegram.proxy_failed", "chat", msg.Chat.ID, "error", err)
		reply = "⚠️ Не получилось обработать сообщение, попробуй ещё раз."
	}

	for _, part := range SplitMessage(reply, maxMessageLen) {
		if _, err := b.bot.SendMessage(ctx, tu.Message(chatID, part)); err != nil {
			slog.Warn("telegram.send_failed", "chat", msg.Chat.ID, "error", err)
			return
		}
	}
}

// askProxy calls the proxy's chat-completions endpoint.
func (b *Bot) askProxy(ctx context.Context, personID, text string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"person_id": personID,
		"messages":  []map[string]string{{"role": "user", "content": text}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.proxyURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("proxy request: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("proxy returned %d: %s", resp.StatusCode, data)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode proxy response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("proxy returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// SplitMessage cuts text into Telegram-sized chunks, preferring newline
// boundaries and falling back to hard rune cuts.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return parts
}
