package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-booksync/cmd"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.NewRootCmd().ExecuteContext(ctx); err != nil {
		plog.Error("Fatal error", "error", err)
		stop()
		os.Exit(1)
	}
}
