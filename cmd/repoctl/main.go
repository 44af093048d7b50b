package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alvesdmateus/repo-provisioner/internal/cli/commands"
)

func main() {
	// Cancel in-flight registry calls on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := commands.Execute(ctx)
	stop()
	os.Exit(code)
}
