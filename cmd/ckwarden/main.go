// Package main is the entry point for the ckwarden CLI.
package main

import (
	"os"

	"github.com/ckwarden/ckwarden/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
