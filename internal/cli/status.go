package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ckwarden/ckwarden/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ ckwarden Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 ckwarden Status")
		fmt.Printf("Version: %s\n", version)

		configPath, _ := config.ConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Println("Config:  ✓ Found (" + configPath + ")")
		} else {
			fmt.Println("Config:  ✗ Not found (" + configPath + ")")
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config:  ? Unable to load (%v)\n", err)
			return
		}

		if cfg.Primary.URL != "" {
			fmt.Printf("Primary: ✓ %s (%s)\n", cfg.Primary.Name, cfg.Primary.URL)
		} else {
			fmt.Println("Primary: ✗ Not configured")
		}
		fmt.Printf("Panels:  %d secondaries, %d preserved pins\n", len(cfg.Panels), len(cfg.Preserved))

		if cfg.Proxy.AuthKey != "" {
			fmt.Println("Proxy:   ✓ Allowlist API configured")
		} else {
			fmt.Println("Proxy:   ✗ Not configured")
		}

		if cfg.Channels.Telegram.Enabled {
			fmt.Printf("Telegram: ✓ Enabled (%d operators)\n", len(cfg.Channels.Telegram.AdminIDs))
		} else {
			fmt.Println("Telegram: ✗ Disabled")
		}
		if cfg.Channels.Slack.Enabled {
			fmt.Println("Slack:    ✓ Enabled")
		} else {
			fmt.Println("Slack:    ✗ Disabled")
		}

		if _, err := os.Stat(cfg.Paths.CKFile); err == nil {
			fmt.Println("CK file: ✓ " + cfg.Paths.CKFile)
		} else {
			fmt.Println("CK file: ✗ Not fetched yet (" + cfg.Paths.CKFile + ")")
		}
	},
}
