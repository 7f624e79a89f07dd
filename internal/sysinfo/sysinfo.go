// Package sysinfo renders a host status snapshot for the status
// command.
package sysinfo

import (
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// Report returns a human-readable host snapshot. Individual probes
// that fail are skipped rather than failing the whole report.
func Report() string {
	var b strings.Builder

	if info, err := host.Info(); err == nil {
		up := time.Duration(info.Uptime) * time.Second
		fmt.Fprintf(&b, "Host: %s (%s %s, %s)\n", info.Hostname, info.Platform, info.PlatformVersion, info.KernelArch)
		fmt.Fprintf(&b, "Uptime: %s\n", formatUptime(up))
	}

	if percents, err := cpu.Percent(time.Second, false); err == nil && len(percents) > 0 {
		fmt.Fprintf(&b, "CPU: %.1f%%\n", percents[0])
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(&b, "Memory: %s / %s (%.1f%%)\n",
			formatBytes(vm.Used), formatBytes(vm.Total), vm.UsedPercent)
	}

	if sw, err := mem.SwapMemory(); err == nil && sw.Total > 0 {
		fmt.Fprintf(&b, "Swap: %s / %s (%.1f%%)\n",
			formatBytes(sw.Used), formatBytes(sw.Total), sw.UsedPercent)
	}

	if du, err := disk.Usage("/"); err == nil {
		fmt.Fprintf(&b, "Disk /: %s / %s (%.1f%%)\n",
			formatBytes(du.Used), formatBytes(du.Total), du.UsedPercent)
	}

	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		fmt.Fprintf(&b, "Net: sent %s, recv %s\n",
			formatBytes(counters[0].BytesSent), formatBytes(counters[0].BytesRecv))
	}

	if b.Len() == 0 {
		return "no host metrics available"
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
