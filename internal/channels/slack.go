package channels

import (
	"context"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/ckwarden/ckwarden/internal/bus"
	"github.com/ckwarden/ckwarden/internal/config"
)

// SlackChannel is a Socket Mode transport. Senders outside AllowFrom
// are dropped before their command reaches the router.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
	api    *slack.Client
	socket *socketmode.Client
	cancel context.CancelFunc
}

func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	c.api = slack.New(
		c.config.BotToken,
		slack.OptionAppLevelToken(c.config.AppToken),
	)
	c.socket = socketmode.New(c.api)

	ctx, c.cancel = context.WithCancel(ctx)
	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			slog.Error("slack send failed", "chat_id", msg.ChatID, "error", err)
		}
	})

	go func() {
		if err := c.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Error("slack socket mode stopped", "error", err)
		}
	}()
	go c.eventLoop(ctx)
	slog.Info("slack channel started")
	return nil
}

func (c *SlackChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			c.socket.Ack(*evt.Request)
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || apiEvent.Type != slackevents.CallbackEvent {
				continue
			}
			msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
			if !ok {
				continue
			}
			c.handleMessage(msg)
		}
	}
}

func (c *SlackChannel) handleMessage(msg *slackevents.MessageEvent) {
	// Bot echoes and edits carry a subtype or bot id; skip them.
	if msg.BotID != "" || msg.SubType != "" || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if !c.allowed(msg.User) {
		slog.Warn("slack message from unknown sender dropped", "sender_id", msg.User)
		return
	}
	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: msg.User,
		ChatID:   msg.Channel,
		Content:  msg.Text,
	})
}

func (c *SlackChannel) allowed(userID string) bool {
	if len(c.config.AllowFrom) == 0 {
		return false
	}
	for _, id := range c.config.AllowFrom {
		if strings.EqualFold(strings.TrimSpace(id), userID) {
			return true
		}
	}
	return false
}

func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	_, _, err := c.api.PostMessageContext(ctx, msg.ChatID, slack.MsgOptionText(msg.Content, false))
	return err
}
