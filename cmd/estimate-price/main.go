package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/raine/ewaste-quote/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.RunEstimatePrice(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
