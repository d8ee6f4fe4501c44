package mcp

import (
	"context"
	"os"
	"time"

	"extractkit/internal/logging"
)

// WatchParent cancels the server context once the parent process is gone,
// so an orphaned stdio server does not linger. It polls the parent PID and
// never reads stdin, which belongs to the stdio transport.
func WatchParent(ctx context.Context, interval time.Duration, cancel context.CancelFunc) {
	ppid := os.Getppid()
	logger := logging.New("mcp")
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if os.Getppid() != ppid {
					logger.Warn("parent process exited, shutting down", "parent_pid", ppid)
					cancel()
					return
				}
			}
		}
	}()
}
