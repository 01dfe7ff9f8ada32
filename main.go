package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/signalgraph/cmd"
	"github.com/tphakala/signalgraph/internal/buildinfo"
)

// Injected at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(buildinfo.New(version, buildDate))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
