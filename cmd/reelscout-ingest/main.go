// Command reelscout-ingest loads a YAML title catalog into the reelscout
// PostgreSQL catalog. Each title's dialogue is chunked, embedded with the
// configured embeddings provider and written alongside its record and cast.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "reelscout-ingest:", err)
		}
		stop()
		os.Exit(1)
	}
}
