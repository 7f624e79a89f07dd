// Package ipwl keeps the proxy service's egress-IP allowlist pointed at
// this host's current public IP.
package ipwl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ckwarden/ckwarden/internal/config"
	"github.com/ckwarden/ckwarden/internal/notify"
	"github.com/ckwarden/ckwarden/internal/store"
)

// Proxy API service selectors.
const (
	serviceAdd  = "AddWhite"
	serviceDel  = "DelWhite"
	serviceList = "GetWhite"
)

// Manager wraps the proxy allowlist API and current-IP detection.
type Manager struct {
	cfg      config.ProxyConfig
	store    *store.Store
	notifier *notify.Notifier
	client   *http.Client
}

// New creates a Manager. The notifier may be nil.
func New(cfg config.ProxyConfig, st *store.Store, n *notify.Notifier) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		notifier: n,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// CurrentIP queries the IP-echo service for this host's public IP.
func (m *Manager) CurrentIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.EchoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("detect current ip: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("detect current ip: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("detect current ip: %w", err)
	}
	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return "", fmt.Errorf("detect current ip: empty response")
	}
	return ip, nil
}

// wlResponse is the proxy API envelope.
type wlResponse struct {
	Ret  int      `json:"ret"`
	Msg  string   `json:"msg"`
	Data []string `json:"data"`
}

func (m *Manager) call(ctx context.Context, service, ip string) (*wlResponse, error) {
	q := url.Values{}
	q.Set("authkey", m.cfg.AuthKey)
	q.Set("service", service)
	q.Set("format", "json")
	if ip != "" {
		q.Set("white", ip)
	}
	sep := "?"
	if strings.Contains(m.cfg.APIURL, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.APIURL+sep+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out wlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Add puts ip on the allowlist. Failures are logged, not raised:
// allowlist writes are best-effort and retried by the next scheduled
// check.
func (m *Manager) Add(ctx context.Context, ip string) bool {
	resp, err := m.call(ctx, serviceAdd, ip)
	if err != nil {
		slog.Error("whitelist add failed", "ip", ip, "error", err)
		return false
	}
	if resp.Ret != 200 {
		slog.Error("whitelist add rejected", "ip", ip, "msg", resp.Msg)
		return false
	}
	slog.Info("whitelist ip added", "ip", ip)
	return true
}

// Remove deletes ip from the allowlist.
func (m *Manager) Remove(ctx context.Context, ip string) bool {
	resp, err := m.call(ctx, serviceDel, ip)
	if err != nil {
		slog.Error("whitelist remove failed", "ip", ip, "error", err)
		return false
	}
	if resp.Ret != 200 {
		slog.Error("whitelist remove rejected", "ip", ip, "msg", resp.Msg)
		return false
	}
	slog.Info("whitelist ip removed", "ip", ip)
	return true
}

// List returns the current allowlist.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	resp, err := m.call(ctx, serviceList, "")
	if err != nil {
		return nil, err
	}
	if resp.Ret != 200 {
		return nil, fmt.Errorf("whitelist list rejected: %s", resp.Msg)
	}
	return resp.Data, nil
}

// CheckAndUpdate is the change-detection job: when the observed egress
// IP differs from the cached one, the new IP is added first and only
// then is the old one removed. A failed removal of the stale IP is
// logged but does not roll anything back, and the cache is updated
// regardless: losing proxy access costs more than one stale allowlist
// entry.
func (m *Manager) CheckAndUpdate(ctx context.Context) error {
	current, err := m.CurrentIP(ctx)
	if err != nil {
		return err
	}
	old, err := m.store.Get(store.KeyCurrentIP)
	if err != nil {
		return fmt.Errorf("read cached ip: %w", err)
	}
	if current == old {
		slog.Debug("egress ip unchanged", "ip", current)
		return nil
	}
	slog.Info("egress ip changed", "old", old, "new", current)

	if !m.Add(ctx, current) {
		return fmt.Errorf("whitelist add failed for %s, keeping old ip", current)
	}
	if old != "" && !m.Remove(ctx, old) {
		slog.Warn("stale ip removal failed, left on whitelist", "ip", old)
	}
	if err := m.store.Set(store.KeyCurrentIP, current); err != nil {
		return fmt.Errorf("cache new ip: %w", err)
	}
	if m.notifier != nil {
		oldLabel := old
		if oldLabel == "" {
			oldLabel = "(none)"
		}
		m.notifier.Send(ctx, "IP whitelist updated",
			fmt.Sprintf("Egress IP changed, whitelist updated.\nOld IP: %s\nNew IP: %s", oldLabel, current))
	}
	return nil
}
