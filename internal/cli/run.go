package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ckwarden/ckwarden/internal/bus"
	"github.com/ckwarden/ckwarden/internal/channels"
	"github.com/ckwarden/ckwarden/internal/command"
	"github.com/ckwarden/ckwarden/internal/config"
	"github.com/ckwarden/ckwarden/internal/ipwl"
	"github.com/ckwarden/ckwarden/internal/logclean"
	"github.com/ckwarden/ckwarden/internal/notify"
	"github.com/ckwarden/ckwarden/internal/panel"
	"github.com/ckwarden/ckwarden/internal/scheduler"
	"github.com/ckwarden/ckwarden/internal/store"
	"github.com/ckwarden/ckwarden/internal/syncer"
)

var runDebug bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the warden daemon (jobs + chat channels)",
	Run:   runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging")
}

func setupLogging() {
	level := slog.LevelInfo
	if runDebug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runDaemon(cmd *cobra.Command, args []string) {
	printHeader("🛡️ ckwarden Daemon")
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

	st, err := store.Open(cfg.Cache.Path)
	if err != nil {
		fmt.Printf("Cache error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	notifier := notify.New(cfg.Channels.Telegram)
	primary := panel.New(cfg.Primary)
	secondaries := make([]syncer.PanelAPI, 0, len(cfg.Panels))
	for _, pc := range cfg.Panels {
		secondaries = append(secondaries, panel.New(pc))
	}
	sync := syncer.New(primary, secondaries, cfg.Preserved, st, notifier, cfg.Paths.CKFile)
	ipManager := ipwl.New(cfg.Proxy, st, notifier)

	messageBus := bus.NewMessageBus()
	router := command.New(messageBus, sync, ipManager, cfg.Paths.CKFile, cfg.Paths.LogDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	active := []channels.Channel{
		channels.NewTelegramChannel(cfg.Channels.Telegram, messageBus),
		channels.NewSlackChannel(cfg.Channels.Slack, messageBus),
	}
	for _, ch := range active {
		if err := ch.Start(ctx); err != nil {
			fmt.Printf("Channel %s error: %v\n", ch.Name(), err)
			os.Exit(1)
		}
		defer ch.Stop()
	}

	go messageBus.DispatchOutbound(ctx)
	go router.Run(ctx)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Warn("timezone unavailable, using local time", "timezone", cfg.Timezone, "error", err)
		loc = time.Local
	}

	startInterval := func(name string, minutes int, deferFirst bool, job scheduler.Job) {
		if minutes <= 0 {
			slog.Warn("job disabled by config", "job", name)
			return
		}
		go scheduler.Every(ctx, name, time.Duration(minutes)*time.Minute, deferFirst, job)
	}
	startInterval("ck-update", cfg.Jobs.CKUpdateMinutes, false, func(ctx context.Context) error {
		_, err := sync.FetchPrimary(ctx)
		return err
	})
	startInterval("ip-check", cfg.Jobs.IPUpdateMinutes, false, ipManager.CheckAndUpdate)
	startInterval("ck-sync", cfg.Jobs.CKSyncMinutes, true, sync.RefreshIfChanged)
	go scheduler.DailyAt(ctx, "log-cleanup", cfg.Jobs.CleanupHour, cfg.Jobs.CleanupMinute, loc, func(context.Context) error {
		return logclean.Wipe(cfg.Paths.LogDir)
	})

	slog.Info("daemon started",
		"panels", len(secondaries),
		"preserved", len(cfg.Preserved),
		"cache", cfg.Cache.Path)
	fmt.Println("Daemon running. Press Ctrl+C to stop.")

	<-ctx.Done()
	fmt.Println("\nShutting down...")
}
