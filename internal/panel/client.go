// Package panel is the HTTP client for Qinglong-style automation
// panels: token auth plus list/add/delete of credential env records.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ckwarden/ckwarden/internal/config"
	"github.com/ckwarden/ckwarden/internal/cookie"
)

const (
	requestTimeout = 10 * time.Second
	retryAttempts  = 2
	retryBackoff   = time.Second
)

// RemoteID is the opaque record id assigned by a panel. Newer panels
// use numeric ids, older ones Mongo-style strings; it is kept as raw
// JSON so deletes round-trip either form.
type RemoteID = json.RawMessage

// Client talks to one panel. The access token is cached for the
// client's lifetime; there is no expiry or refresh handling. Safe for
// concurrent use: command handlers and scheduled passes share one
// client per panel.
type Client struct {
	cfg  config.PanelConfig
	http *http.Client

	mu    sync.Mutex
	token string
}

// New creates a client for the given endpoint.
func New(cfg config.PanelConfig) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}
}

// Name returns the endpoint's human-readable name.
func (c *Client) Name() string { return c.cfg.Name }

// envelope is the panel's standard response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tokenData struct {
	Token string `json:"token"`
}

// envRecord is one env entry as returned by /open/envs.
type envRecord struct {
	ID       json.RawMessage `json:"id"`
	LegacyID json.RawMessage `json:"_id"`
	Name     string          `json:"name"`
	Value    string          `json:"value"`
	Remarks  string          `json:"remarks"`
	Status   int             `json:"status"` // 0 enabled, 1 disabled
}

func (r *envRecord) remoteID() RemoteID {
	if len(r.ID) > 0 && string(r.ID) != "null" {
		return r.ID
	}
	return r.LegacyID
}

// Authenticate exchanges the endpoint's client id/secret for a bearer
// token. The token is cached; repeated calls return the cached value.
// The fetch is serialized so concurrent callers never race on the
// cache or fetch duplicate tokens.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("client_secret", c.cfg.ClientSecret)
	body, err := c.do(ctx, http.MethodGet, "/open/auth/token?"+q.Encode(), nil, "")
	if err != nil {
		return "", &AuthError{Panel: c.cfg.Name, Err: err}
	}
	env, err := c.decode(body)
	if err != nil {
		return "", &AuthError{Panel: c.cfg.Name, Err: err}
	}
	var data tokenData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return "", &AuthError{Panel: c.cfg.Name, Err: &DecodeError{Panel: c.cfg.Name, Err: err}}
	}
	c.token = data.Token
	return c.token, nil
}

// ListCredentials fetches the panel's env records and returns the
// recognized, well-formed credential entries. Malformed records are
// skipped silently. When includeDisabled is false only enabled records
// are returned.
func (c *Client) ListCredentials(ctx context.Context, includeDisabled bool) ([]cookie.Credential, error) {
	body, err := c.authedDo(ctx, http.MethodGet, "/open/envs", nil)
	if err != nil {
		return nil, err
	}
	env, err := c.decode(body)
	if err != nil {
		return nil, err
	}
	var records []envRecord
	if err := json.Unmarshal(env.Data, &records); err != nil {
		return nil, &DecodeError{Panel: c.cfg.Name, Err: err}
	}

	var out []cookie.Credential
	for _, rec := range records {
		if rec.Name != cookie.FieldName {
			continue
		}
		enabled := rec.Status == 0
		if !includeDisabled && !enabled {
			continue
		}
		cred, ok := cookie.Parse(rec.Value)
		if !ok {
			continue
		}
		cred.Remarks = rec.Remarks
		cred.Enabled = enabled
		cred.RemoteID = rec.remoteID()
		out = append(out, cred)
	}
	return out, nil
}

// DeleteCredentials bulk-deletes records by remote id. An empty id set
// is a no-op success.
func (c *Client) DeleteCredentials(ctx context.Context, ids []RemoteID) error {
	if len(ids) == 0 {
		return nil
	}
	body, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	resp, err := c.authedDo(ctx, http.MethodDelete, "/open/envs", body)
	if err != nil {
		return err
	}
	_, err = c.decode(resp)
	return err
}

// AddCredentials bulk-inserts credentials, carrying each one's remarks
// verbatim. An empty set is a no-op success.
func (c *Client) AddCredentials(ctx context.Context, creds []cookie.Credential) error {
	if len(creds) == 0 {
		return nil
	}
	envs := make([]map[string]string, 0, len(creds))
	for _, cred := range creds {
		envs = append(envs, map[string]string{
			"name":    cookie.FieldName,
			"value":   cred.Value,
			"remarks": cred.Remarks,
		})
	}
	body, err := json.Marshal(envs)
	if err != nil {
		return err
	}
	resp, err := c.authedDo(ctx, http.MethodPost, "/open/envs", body)
	if err != nil {
		return err
	}
	_, err = c.decode(resp)
	return err
}

// authedDo ensures a token and executes one protected call. A client
// that cannot obtain a token fails fast instead of calling the panel
// unauthenticated.
func (c *Client) authedDo(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, method, path, body, token)
}

// decode validates the response envelope. A non-200 application code
// surfaces as APIError with the panel's message.
func (c *Client) decode(body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &DecodeError{Panel: c.cfg.Name, Err: err}
	}
	if env.Code != 200 {
		return nil, &APIError{Panel: c.cfg.Name, Code: env.Code, Message: env.Message}
	}
	return &env, nil
}

// do executes one HTTP request with bounded retries and a fixed backoff
// between attempts. Transport failures and non-2xx statuses are both
// retried; the last error wins.
func (c *Client) do(ctx context.Context, method, path string, body []byte, token string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if attempt > 1 {
			slog.Warn("panel request retrying",
				"panel", c.cfg.Name, "path", path, "attempt", attempt, "error", lastErr)
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, &NetworkError{Panel: c.cfg.Name, Err: ctx.Err()}
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, reader)
		if err != nil {
			return nil, &NetworkError{Panel: c.cfg.Name, Err: err}
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = &NetworkError{Panel: c.cfg.Name, Err: err}
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &NetworkError{Panel: c.cfg.Name, Err: err}
			continue
		}
		if resp.StatusCode >= 300 {
			lastErr = &StatusError{Panel: c.cfg.Name, Status: resp.StatusCode}
			continue
		}
		return data, nil
	}
	return nil, lastErr
}
