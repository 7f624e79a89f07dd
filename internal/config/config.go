// Package config provides configuration types and loading for ckwarden.
package config

import (
	"os"
	"path/filepath"
)

// Config is the root configuration struct.
// Top-level groups: Primary, Panels, Preserved, Proxy, Channels, Cache, Jobs.
type Config struct {
	Primary   PanelConfig    `json:"primary"`
	Panels    []PanelConfig  `json:"panels"`
	Preserved []string       `json:"preserved"`
	Proxy     ProxyConfig    `json:"proxy"`
	Channels  ChannelsConfig `json:"channels"`
	Cache     CacheConfig    `json:"cache"`
	Paths     PathsConfig    `json:"paths"`
	Jobs      JobsConfig     `json:"jobs"`
	Timezone  string         `json:"timezone" envconfig:"TIMEZONE"`
}

// PanelConfig describes one remote automation panel endpoint.
type PanelConfig struct {
	Name         string `json:"name" envconfig:"NAME"`
	URL          string `json:"url" envconfig:"URL"`
	ClientID     string `json:"clientId" envconfig:"CLIENT_ID"`
	ClientSecret string `json:"clientSecret" envconfig:"CLIENT_SECRET"`
}

// ProxyConfig configures the egress-proxy allowlist API and the
// public-IP echo service.
type ProxyConfig struct {
	AuthKey string `json:"authKey" envconfig:"AUTH_KEY"`
	APIURL  string `json:"apiUrl" envconfig:"API_URL"`
	EchoURL string `json:"echoUrl" envconfig:"ECHO_URL"`
}

// ChannelsConfig contains all chat channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
}

// TelegramConfig configures the Telegram channel. APIBase allows
// routing through a Bot API proxy. AdminIDs doubles as the sender
// allowlist and the notification recipient list.
type TelegramConfig struct {
	Enabled  bool    `json:"enabled" envconfig:"TELEGRAM_ENABLED"`
	Token    string  `json:"token" envconfig:"TELEGRAM_TOKEN"`
	APIBase  string  `json:"apiBase" envconfig:"TELEGRAM_API_BASE"`
	AdminIDs []int64 `json:"adminIds"`
}

// SlackConfig configures the Slack channel (socket mode).
type SlackConfig struct {
	Enabled   bool     `json:"enabled" envconfig:"SLACK_ENABLED"`
	BotToken  string   `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AppToken  string   `json:"appToken" envconfig:"SLACK_APP_TOKEN"`
	AllowFrom []string `json:"allowFrom"`
}

// CacheConfig locates the sqlite key-value cache.
type CacheConfig struct {
	Path string `json:"path" envconfig:"CACHE_PATH"`
}

// PathsConfig groups filesystem locations written by jobs.
type PathsConfig struct {
	CKFile string `json:"ckFile" envconfig:"CK_FILE"`
	LogDir string `json:"logDir" envconfig:"LOG_DIR"`
}

// JobsConfig holds the recurring job intervals (minutes) and the daily
// log-cleanup clock time.
type JobsConfig struct {
	CKUpdateMinutes int `json:"ckUpdateMinutes" envconfig:"CK_UPDATE_MINUTES"`
	IPUpdateMinutes int `json:"ipUpdateMinutes" envconfig:"IP_UPDATE_MINUTES"`
	CKSyncMinutes   int `json:"ckSyncMinutes" envconfig:"CK_SYNC_MINUTES"`
	CleanupHour     int `json:"cleanupHour" envconfig:"CLEANUP_HOUR"`
	CleanupMinute   int `json:"cleanupMinute" envconfig:"CLEANUP_MINUTE"`
}

// DefaultConfig returns the built-in defaults. Panel endpoints and
// credentials have no defaults and must come from the file or env.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Proxy: ProxyConfig{
			EchoURL: "https://4.ipw.cn/",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{APIBase: "https://api.telegram.org"},
		},
		Cache: CacheConfig{
			Path: filepath.Join(home, ConfigDir, "ckwarden.db"),
		},
		Paths: PathsConfig{
			CKFile: "scripts/beta/env/ck.txt",
			LogDir: "logs/scripts",
		},
		Jobs: JobsConfig{
			CKUpdateMinutes: 20,
			IPUpdateMinutes: 5,
			CKSyncMinutes:   30,
			CleanupHour:     23,
			CleanupMinute:   59,
		},
		Timezone: "Asia/Shanghai",
	}
}
