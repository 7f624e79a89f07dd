package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ckwarden/ckwarden/internal/config"
	"github.com/ckwarden/ckwarden/internal/notify"
	"github.com/ckwarden/ckwarden/internal/panel"
	"github.com/ckwarden/ckwarden/internal/store"
	"github.com/ckwarden/ckwarden/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one cookie sync pass and exit",
	Run:   runSync,
}

func runSync(cmd *cobra.Command, args []string) {
	printHeader("🔄 ckwarden Sync")
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Primary.URL == "" {
		fmt.Println("Config error: primary panel URL is not set")
		os.Exit(1)
	}
	if len(cfg.Panels) == 0 {
		fmt.Println("Config error: no secondary panels configured")
		os.Exit(1)
	}

	st, err := store.Open(cfg.Cache.Path)
	if err != nil {
		fmt.Printf("Cache error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	primary := panel.New(cfg.Primary)
	secondaries := make([]syncer.PanelAPI, 0, len(cfg.Panels))
	for _, pc := range cfg.Panels {
		secondaries = append(secondaries, panel.New(pc))
	}
	s := syncer.New(primary, secondaries, cfg.Preserved, st, notify.New(cfg.Channels.Telegram), cfg.Paths.CKFile)

	ctx := context.Background()
	n, err := s.FetchPrimary(ctx)
	if err != nil {
		fmt.Printf("Fetch error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Fetched %d cookies from %s\n", n, cfg.Primary.Name)

	sum, err := s.Run(ctx)
	if err != nil {
		fmt.Printf("Sync error: %v\n", err)
		os.Exit(1)
	}
	for i, clean := range sum.CleanPhase {
		add := sum.AddPhase[i]
		switch {
		case clean.OK && add.OK:
			color.Green("  %s: ok (%d deleted, %d added)", clean.Panel, clean.Deleted, sum.Cookies)
		case !clean.OK:
			color.Red("  %s: clean failed (%s)", clean.Panel, clean.Message)
		default:
			color.Red("  %s: add failed (%s)", add.Panel, add.Message)
		}
	}
	if sum.Failed() {
		os.Exit(1)
	}
	color.Green("Sync pass %s complete.", sum.PassID)
}
