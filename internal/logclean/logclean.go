// Package logclean wipes the scripts log directory.
package logclean

import (
	"fmt"
	"log/slog"
	"os"
)

// Wipe removes every entry under dir and recreates it empty. A missing
// directory is an error: wiping a path that never existed usually
// means the config points at the wrong place.
func Wipe(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wipe log dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recreate log dir: %w", err)
	}
	slog.Info("log directory wiped", "dir", dir)
	return nil
}
