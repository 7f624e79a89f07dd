package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/ckwarden/ckwarden/internal/cli.version=1.2.3"
	version = "1.4.0"
	logo    = "\n" +
		"       _                         _\n" +
		"   ___| | ____      ____ _ _ __ __| | ___ _ __\n" +
		"  / __| |/ /\\ \\ /\\ / / _` | '__/ _` |/ _ \\ '_ \\\n" +
		" | (__|   <  \\ V  V / (_| | | | (_| |  __/ | | |\n" +
		"  \\___|_|\\_\\  \\_/\\_/ \\__,_|_|  \\__,_|\\___|_| |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "ckwarden",
	Short: "ckwarden - session cookie warden for automation panels",
	Long:  color.CyanString(logo) + "\nKeeps session cookies replicated across automation panels and the\nproxy allowlist pointed at the current egress IP.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
}
