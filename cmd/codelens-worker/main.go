package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/codelens-dev/codelens/internal/worker"
)

func main() {
	dimension := flag.Int("dimension", worker.DefaultDimension, "embedding vector dimension")
	flag.Parse()

	// Log to stderr: stdout carries the wire protocol.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	model := worker.NewHashModel(*dimension)

	if err := worker.Serve(ctx, os.Stdin, os.Stdout, model, logger); err != nil && ctx.Err() == nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}
