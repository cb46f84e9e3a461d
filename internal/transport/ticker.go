package transport

import (
	"context"
	"time"

	"github.com/zhamlin/speakez/internal/server"
)

// DefaultTickInterval is the reducer tick cadence.
const DefaultTickInterval = 100 * time.Millisecond

// RunTicker feeds Tick inputs at the given cadence until the context is
// cancelled.
func RunTicker(ctx context.Context, interval time.Duration, inputs chan<- ActorMessage) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}

		select {
		case inputs <- ActorMessage{Input: server.Tick{}}:
		case <-ctx.Done():
			return
		}
	}
}
