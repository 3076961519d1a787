package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tonearm/internal/api"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "tonearm:", err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode separates rejected input (2) from operational failures (1) so
// scripts can decide whether resubmitting makes sense.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, api.ErrInvalidSubmission), errors.Is(err, api.ErrNotFound):
		return 2
	default:
		return 1
	}
}
