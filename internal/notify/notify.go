// Package notify pushes operator notifications through the Telegram
// Bot API. Delivery is best-effort: failures are logged, never raised.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ckwarden/ckwarden/internal/config"
)

// Notifier sends title+body messages to every configured operator.
type Notifier struct {
	cfg    config.TelegramConfig
	client *http.Client
}

// New creates a Notifier. A Notifier with no token or recipients is
// valid and silently drops everything.
func New(cfg config.TelegramConfig) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) apiURL(method string) string {
	base := strings.TrimRight(n.cfg.APIBase, "/")
	return fmt.Sprintf("%s/bot%s/%s", base, n.cfg.Token, method)
}

// Send pushes a message to every operator. It reports whether at least
// one delivery succeeded.
func (n *Notifier) Send(ctx context.Context, title, body string) bool {
	if n.cfg.Token == "" || len(n.cfg.AdminIDs) == 0 {
		return false
	}
	delivered := false
	for _, chatID := range n.cfg.AdminIDs {
		payload, _ := json.Marshal(map[string]any{
			"chat_id":    chatID,
			"text":       fmt.Sprintf("*%s*\n\n%s", title, body),
			"parse_mode": "Markdown",
		})
		if err := n.post(ctx, n.apiURL("sendMessage"), "application/json", bytes.NewReader(payload)); err != nil {
			slog.Error("notification delivery failed", "chat_id", chatID, "error", err)
			continue
		}
		delivered = true
	}
	return delivered
}

// SendDocument pushes a file with a caption to every operator.
func (n *Notifier) SendDocument(ctx context.Context, title, body, path string) bool {
	if n.cfg.Token == "" || len(n.cfg.AdminIDs) == 0 {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("notification document unreadable", "path", path, "error", err)
		return false
	}
	delivered := false
	for _, chatID := range n.cfg.AdminIDs {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		w.WriteField("chat_id", fmt.Sprintf("%d", chatID))
		w.WriteField("caption", fmt.Sprintf("%s\n\n%s", title, body))
		part, _ := w.CreateFormFile("document", filepath.Base(path))
		part.Write(data)
		w.Close()
		if err := n.post(ctx, n.apiURL("sendDocument"), w.FormDataContentType(), &buf); err != nil {
			slog.Error("notification document delivery failed", "chat_id", chatID, "error", err)
			continue
		}
		delivered = true
	}
	return delivered
}

func (n *Notifier) post(ctx context.Context, url, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram api status %d", resp.StatusCode)
	}
	return nil
}
