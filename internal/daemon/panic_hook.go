package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"loom/internal/catalog"
	"loom/internal/dispatch"
	"loom/internal/encoding"
	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/queue"
)

// panicFailureHook charges a handler panic against the job it was running,
// so the stage retries within its attempt budget and fails the asset at
// exhaustion instead of leaving the job in progress forever. Variant encode
// panics are recorded as failed variant results so the fan-in accountancy
// stays correct; the manifest job belongs to the encoding stage.
func panicFailureHook(coord *pipeline.Coordinator, orch *encoding.Orchestrator, logger *slog.Logger) dispatch.PanicHook {
	logger = logging.NewComponentLogger(logger, "daemon")
	return func(ctx context.Context, env queue.Envelope, recovered any) {
		cause := fmt.Errorf("handler panic: %v", recovered)
		var err error
		switch env.Kind {
		case queue.KindEncodeVariant:
			err = orch.RecordVariantResult(ctx, env.AssetID, env.VariantID, encoding.VariantResult{Err: cause})
		case queue.KindGenerateManifest:
			err = coord.FailStage(ctx, env.AssetID, catalog.StageEncoding, cause)
		default:
			stage, ok := pipeline.StageForKind(env.Kind)
			if !ok {
				return
			}
			err = coord.FailStage(ctx, env.AssetID, stage, cause)
		}
		if err != nil {
			logger.Error("record handler panic",
				logging.String(logging.FieldAssetID, env.AssetID),
				logging.String(logging.FieldJobKind, string(env.Kind)),
				logging.Error(err))
		}
	}
}
