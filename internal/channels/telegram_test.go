package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ckwarden/ckwarden/internal/bus"
	"github.com/ckwarden/ckwarden/internal/config"
)

func tgMessageUpdate(id int64, senderID, chatID int64, text string) tgUpdate {
	var u tgUpdate
	raw := `{"update_id":` + jsonInt(id) + `,"message":{"from":{"id":` + jsonInt(senderID) + `},"chat":{"id":` + jsonInt(chatID) + `},"text":` + jsonString(text) + `}}`
	json.Unmarshal([]byte(raw), &u)
	return u
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsonString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestHandleUpdateOperatorAllowlist(t *testing.T) {
	messageBus := bus.NewMessageBus()
	c := NewTelegramChannel(config.TelegramConfig{
		Enabled:  true,
		Token:    "tok",
		AdminIDs: []int64{42},
	}, messageBus)

	c.handleUpdate(tgMessageUpdate(1, 99, 500, "/getck"))
	c.handleUpdate(tgMessageUpdate(2, 42, 500, "/getck"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := messageBus.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("no message forwarded for the operator: %v", err)
	}
	if msg.SenderID != "42" || msg.ChatID != "500" || msg.Content != "/getck" {
		t.Errorf("forwarded message = %+v", msg)
	}

	// The stranger's message must not be queued behind it.
	quick, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if extra, err := messageBus.ConsumeInbound(quick); err == nil {
		t.Errorf("unexpected forwarded message from sender %s", extra.SenderID)
	}
}

func TestHandleUpdateIgnoresEmpty(t *testing.T) {
	messageBus := bus.NewMessageBus()
	c := NewTelegramChannel(config.TelegramConfig{AdminIDs: []int64{42}}, messageBus)

	c.handleUpdate(tgUpdate{UpdateID: 1})
	c.handleUpdate(tgMessageUpdate(2, 42, 500, "   "))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := messageBus.ConsumeInbound(ctx); err == nil {
		t.Error("empty updates must not reach the router")
	}
}

func TestSendPostsToSendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
	}))
	defer srv.Close()

	c := NewTelegramChannel(config.TelegramConfig{Token: "tok", APIBase: srv.URL}, bus.NewMessageBus())
	err := c.Send(context.Background(), &bus.OutboundMessage{ChatID: "500", Content: "done"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/bottok/sendMessage") {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != "500" || gotBody["text"] != "done" {
		t.Errorf("body = %v", gotBody)
	}
}
