package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".ckwarden"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file. CKWARDEN_CONFIG
// overrides the default ~/.ckwarden/config.json.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("CKWARDEN_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults. ${VAR} placeholders in file
// string values are substituted from the process environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		resolved, err := resolveEnvPlaceholders(data)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(resolved, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	// If the file doesn't exist, continue with defaults.

	envconfig.Process("CKWARDEN", cfg)
	envconfig.Process("CKWARDEN_PRIMARY", &cfg.Primary)
	envconfig.Process("CKWARDEN_PROXY", &cfg.Proxy)
	envconfig.Process("CKWARDEN_CHANNELS", &cfg.Channels.Telegram)
	envconfig.Process("CKWARDEN_CHANNELS", &cfg.Channels.Slack)
	envconfig.Process("CKWARDEN_CACHE", &cfg.Cache)
	envconfig.Process("CKWARDEN_PATHS", &cfg.Paths)
	envconfig.Process("CKWARDEN_JOBS", &cfg.Jobs)

	expandHome := func(p *string) {
		if strings.HasPrefix(*p, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[1:])
			}
		}
	}
	expandHome(&cfg.Cache.Path)
	expandHome(&cfg.Paths.CKFile)
	expandHome(&cfg.Paths.LogDir)

	if cfg.Primary.Name == "" {
		cfg.Primary.Name = "primary"
	}
	for i := range cfg.Panels {
		if cfg.Panels[i].Name == "" {
			cfg.Panels[i].Name = cfg.Panels[i].URL
		}
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Shanghai"
	}

	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// resolveEnvPlaceholders substitutes ${VAR} in every string value of
// the raw JSON document. Unset variables are left as-is.
func resolveEnvPlaceholders(data []byte) ([]byte, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	return json.Marshal(substituteEnvValues(root))
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
