package progress

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/logger"
)

// WatchCancellation returns a context derived from ctx that is cancelled
// with cause ErrCancelled once the tracker reports docID as cancelled. The
// flag is polled every interval. Call stop to release the watcher.
func WatchCancellation(
	ctx context.Context,
	tracker Tracker,
	docID string,
	interval time.Duration,
) (context.Context, context.CancelFunc) {
	if interval <= 0 {
		interval = time.Second
	}
	watched, cancel := context.WithCancelCause(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-watched.Done():
				return
			case <-ticker.C:
				cancelled, err := tracker.IsCancelled(watched, docID)
				if err != nil {
					logger.Warn("[Progress] Cancellation check failed", "doc", docID, "err", err)
					continue
				}
				if cancelled {
					logger.Info("[Progress] Cancellation requested", "doc", docID)
					cancel(ErrCancelled)
					return
				}
			}
		}
	}()

	return watched, func() { cancel(context.Canceled) }
}
