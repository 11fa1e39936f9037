// Package main is the entry point for the catalog sync server.
package main

import (
	"log/slog"
	"os"

	"github.com/cartfeed/catalog-sync-server/cmd/catalog-syncd/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
