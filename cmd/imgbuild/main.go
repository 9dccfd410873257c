package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := execute(ctx, defaultDeps(), os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
