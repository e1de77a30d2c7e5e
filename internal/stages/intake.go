package stages

import (
	"context"

	"loom/internal/queue"
)

// handleProcessVideo is pipeline intake: it moves the queued asset into
// processing and kicks off the first stage.
func (d *Deps) handleProcessVideo(ctx context.Context, env queue.Envelope) error {
	return d.Coordinator.StartProcessing(ctx, env.AssetID)
}
