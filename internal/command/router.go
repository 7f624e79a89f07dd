// Package command routes chat commands from the bus to the sync,
// allowlist and housekeeping services and replies on the sender's
// channel.
package command

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ckwarden/ckwarden/internal/bus"
	"github.com/ckwarden/ckwarden/internal/ipwl"
	"github.com/ckwarden/ckwarden/internal/logclean"
	"github.com/ckwarden/ckwarden/internal/syncer"
	"github.com/ckwarden/ckwarden/internal/sysinfo"
)

// SyncService is the slice of the syncer the router needs.
type SyncService interface {
	Run(ctx context.Context) (*syncer.Summary, error)
	FetchPrimary(ctx context.Context) (int, error)
	Report(ctx context.Context) []syncer.PanelStatus
	CleanSecondaries(ctx context.Context) []syncer.Outcome
}

// IPService is the slice of the allowlist manager the router needs.
type IPService interface {
	CurrentIP(ctx context.Context) (string, error)
	Add(ctx context.Context, ip string) bool
	Remove(ctx context.Context, ip string) bool
	List(ctx context.Context) ([]string, error)
}

var _ SyncService = (*syncer.Syncer)(nil)
var _ IPService = (*ipwl.Manager)(nil)

const helpText = `Commands:
/getck - fetch cookies from the primary panel
/ckstatus - cookie file status
/syncck - replicate cookies to all panels
/ql list - per-panel cookie inventory
/ql clean - delete non-preserved cookies from secondaries
/ip current - show the current egress IP
/ip list - show the proxy allowlist
/ip add <ip> - add an IP to the allowlist
/ip del <ip> - remove an IP from the allowlist
/zt - host status
/cleanlogs - wipe the scripts log directory`

// Router consumes inbound commands and executes them.
type Router struct {
	bus    *bus.MessageBus
	sync   SyncService
	ip     IPService
	ckFile string
	logDir string
}

// New creates a Router.
func New(messageBus *bus.MessageBus, sync SyncService, ip IPService, ckFile, logDir string) *Router {
	return &Router{
		bus:    messageBus,
		sync:   sync,
		ip:     ip,
		ckFile: ckFile,
		logDir: logDir,
	}
}

// Run consumes commands until ctx is cancelled. Each command runs in
// its own goroutine so a slow sync pass never blocks quick queries.
func (r *Router) Run(ctx context.Context) error {
	for {
		msg, err := r.bus.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		go r.handle(ctx, msg)
	}
}

func (r *Router) handle(ctx context.Context, msg *bus.InboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("command handler panicked", "content", msg.Content, "panic", rec)
			r.reply(msg, fmt.Sprintf("Internal error handling %q.", msg.Content))
		}
	}()

	fields := strings.Fields(strings.TrimSpace(msg.Content))
	if len(fields) == 0 {
		return
	}
	// "/getck@mybot" from group chats.
	cmd := strings.ToLower(fields[0])
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	slog.Info("command received", "command", cmd, "channel", msg.Channel, "sender_id", msg.SenderID, "trace_id", msg.TraceID)

	switch cmd {
	case "/start", "/help":
		r.reply(msg, helpText)
	case "/getck":
		r.reply(msg, r.getCK(ctx))
	case "/ckstatus":
		r.reply(msg, r.ckStatus())
	case "/syncck":
		r.reply(msg, r.syncCK(ctx))
	case "/ql":
		r.reply(msg, r.panels(ctx, args))
	case "/ip":
		r.reply(msg, r.ipCommand(ctx, args))
	case "/zt", "/status":
		r.reply(msg, sysinfo.Report())
	case "/cleanlogs":
		r.reply(msg, r.cleanLogs())
	default:
		r.reply(msg, fmt.Sprintf("Unknown command %s. Try /help.", cmd))
	}
}

func (r *Router) reply(msg *bus.InboundMessage, content string) {
	r.bus.PublishOutbound(&bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		TraceID: msg.TraceID,
		Content: content,
	})
}

func (r *Router) getCK(ctx context.Context) string {
	n, err := r.sync.FetchPrimary(ctx)
	if err != nil {
		return fmt.Sprintf("Fetch failed: %v", err)
	}
	return fmt.Sprintf("Fetched %d cookies to %s.", n, r.ckFile)
}

func (r *Router) ckStatus() string {
	info, err := os.Stat(r.ckFile)
	if err != nil {
		return fmt.Sprintf("Cookie file %s not found. Run /getck first.", r.ckFile)
	}
	f, err := os.Open(r.ckFile)
	if err != nil {
		return fmt.Sprintf("Cookie file unreadable: %v", err)
	}
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			lines++
		}
	}
	return fmt.Sprintf("Cookie file: %s\nCookies: %d\nUpdated: %s",
		r.ckFile, lines, info.ModTime().Format("2006-01-02 15:04:05"))
}

func (r *Router) syncCK(ctx context.Context) string {
	sum, err := r.sync.Run(ctx)
	if err != nil {
		return fmt.Sprintf("Sync aborted: %v", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sync pass %s: %d cookies, %d stale entries deleted.\n", sum.PassID, sum.Cookies, sum.Deleted)
	for i, clean := range sum.CleanPhase {
		add := sum.AddPhase[i]
		switch {
		case clean.OK && add.OK:
			fmt.Fprintf(&b, "%s: ok (%d deleted)\n", clean.Panel, clean.Deleted)
		case !clean.OK:
			fmt.Fprintf(&b, "%s: clean FAILED (%s)\n", clean.Panel, clean.Message)
		default:
			fmt.Fprintf(&b, "%s: add FAILED (%s)\n", add.Panel, add.Message)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) panels(ctx context.Context, args []string) string {
	sub := "list"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	switch sub {
	case "list":
		var b strings.Builder
		for _, st := range r.sync.Report(ctx) {
			if !st.OK {
				fmt.Fprintf(&b, "%s: UNREACHABLE (%s)\n", st.Panel, st.Err)
				continue
			}
			fmt.Fprintf(&b, "%s: %d cookies (%d enabled, %d disabled, %d preserved)\n",
				st.Panel, st.Total, st.Enabled, st.Disabled, st.Preserved)
		}
		return strings.TrimRight(b.String(), "\n")
	case "clean":
		var b strings.Builder
		for _, o := range r.sync.CleanSecondaries(ctx) {
			if o.OK {
				fmt.Fprintf(&b, "%s: %d deleted\n", o.Panel, o.Deleted)
			} else {
				fmt.Fprintf(&b, "%s: FAILED (%s)\n", o.Panel, o.Message)
			}
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return "Usage: /ql list | /ql clean"
	}
}

func (r *Router) ipCommand(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /ip current | list | add <ip> | del <ip>"
	}
	switch strings.ToLower(args[0]) {
	case "current":
		ip, err := r.ip.CurrentIP(ctx)
		if err != nil {
			return fmt.Sprintf("IP detection failed: %v", err)
		}
		return fmt.Sprintf("Current egress IP: %s", ip)
	case "list":
		ips, err := r.ip.List(ctx)
		if err != nil {
			return fmt.Sprintf("Allowlist query failed: %v", err)
		}
		if len(ips) == 0 {
			return "Allowlist is empty."
		}
		return "Allowlist:\n" + strings.Join(ips, "\n")
	case "add":
		if len(args) < 2 {
			return "Usage: /ip add <ip>"
		}
		if !r.ip.Add(ctx, args[1]) {
			return fmt.Sprintf("Failed to add %s.", args[1])
		}
		return fmt.Sprintf("Added %s to the allowlist.", args[1])
	case "del":
		if len(args) < 2 {
			return "Usage: /ip del <ip>"
		}
		if !r.ip.Remove(ctx, args[1]) {
			return fmt.Sprintf("Failed to remove %s.", args[1])
		}
		return fmt.Sprintf("Removed %s from the allowlist.", args[1])
	default:
		return "Usage: /ip current | list | add <ip> | del <ip>"
	}
}

func (r *Router) cleanLogs() string {
	if err := logclean.Wipe(r.logDir); err != nil {
		return fmt.Sprintf("Log cleanup failed: %v", err)
	}
	return fmt.Sprintf("Log directory %s wiped.", r.logDir)
}
