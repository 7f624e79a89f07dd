package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ckwarden/ckwarden/internal/bus"
	"github.com/ckwarden/ckwarden/internal/config"
)

// longPollTimeout is passed to getUpdates; the HTTP client timeout
// leaves headroom above it.
const longPollTimeout = 25

// TelegramChannel is a long-polling Telegram Bot API transport. Only
// messages from configured operators are forwarded to the router.
type TelegramChannel struct {
	BaseChannel
	config config.TelegramConfig
	client *http.Client
	cancel context.CancelFunc
	offset int64
}

func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		client:      &http.Client{Timeout: (longPollTimeout + 10) * time.Second},
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

// tgUpdate mirrors the subset of the Bot API update object we consume.
type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	From *struct {
		ID int64 `json:"id"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

func (c *TelegramChannel) apiURL(method string) string {
	base := strings.TrimRight(c.config.APIBase, "/")
	return fmt.Sprintf("%s/bot%s/%s", base, c.config.Token, method)
}

// Start launches the long-poll loop and subscribes for outbound
// replies.
func (c *TelegramChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	if c.config.Token == "" {
		return fmt.Errorf("telegram enabled without a token")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			slog.Error("telegram send failed", "chat_id", msg.ChatID, "error", err)
		}
	})
	go c.pollLoop(ctx)
	slog.Info("telegram channel started", "operators", len(c.config.AdminIDs))
	return nil
}

func (c *TelegramChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *TelegramChannel) pollLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := c.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("telegram poll failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= c.offset {
				c.offset = u.UpdateID + 1
			}
			c.handleUpdate(u)
		}
	}
}

func (c *TelegramChannel) getUpdates(ctx context.Context) ([]tgUpdate, error) {
	payload, _ := json.Marshal(map[string]any{
		"offset":  c.offset,
		"timeout": longPollTimeout,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("getUpdates"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telegram getUpdates status %d", resp.StatusCode)
	}
	var out struct {
		OK     bool       `json:"ok"`
		Result []tgUpdate `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram getUpdates not ok")
	}
	return out.Result, nil
}

// handleUpdate forwards one update to the router when the sender is a
// configured operator. Everything else is dropped silently.
func (c *TelegramChannel) handleUpdate(u tgUpdate) {
	if u.Message == nil || u.Message.From == nil || strings.TrimSpace(u.Message.Text) == "" {
		return
	}
	if !c.isOperator(u.Message.From.ID) {
		slog.Warn("telegram message from unknown sender dropped", "sender_id", u.Message.From.ID)
		return
	}
	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: strconv.FormatInt(u.Message.From.ID, 10),
		ChatID:   strconv.FormatInt(u.Message.Chat.ID, 10),
		Content:  u.Message.Text,
	})
}

func (c *TelegramChannel) isOperator(id int64) bool {
	for _, admin := range c.config.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}

// Send delivers one reply via sendMessage.
func (c *TelegramChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	payload, _ := json.Marshal(map[string]any{
		"chat_id": msg.ChatID,
		"text":    msg.Content,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("sendMessage"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram sendMessage status %d", resp.StatusCode)
	}
	return nil
}
