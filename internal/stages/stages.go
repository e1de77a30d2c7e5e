// Package stages contains the queue handlers that execute each pipeline
// stage. Handlers claim their stage through the coordinator, call the
// external service that does the actual media work, persist the outcome,
// and report completion or failure back to the coordinator.
package stages

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"loom/internal/blob"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/dispatch"
	"loom/internal/encoding"
	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/queue"
	"loom/internal/services/encoder"
	"loom/internal/services/highlighter"
	"loom/internal/services/indexer"
	"loom/internal/services/moderator"
	"loom/internal/services/scanner"
	"loom/internal/services/transcriber"
	"loom/internal/services/translator"
)

// Blob containers used by the stage handlers.
const (
	metaContainer      = "meta"
	thumbnailContainer = "thumbnails"
	streamContainer    = "streams"
)

// Deps bundles everything the stage handlers need.
type Deps struct {
	Store        *catalog.Store
	Coordinator  *pipeline.Coordinator
	Orchestrator *encoding.Orchestrator
	Blobs        blob.Adapter
	Config       *config.Config

	Scanner     *scanner.Client
	Moderator   *moderator.Client
	Transcriber *transcriber.Client
	Translator  *translator.Client
	Highlighter *highlighter.Client
	Encoder     *encoder.Client
	Indexer     *indexer.Client

	Logger *slog.Logger
}

// NewDeps builds the handler dependency set, constructing one client per
// configured service endpoint. Empty endpoints select the clients' built-in
// stand-ins.
func NewDeps(cfg *config.Config, store *catalog.Store, coord *pipeline.Coordinator, orch *encoding.Orchestrator, blobs blob.Adapter, logger *slog.Logger) *Deps {
	timeout := time.Duration(cfg.Services.RequestTimeoutSeconds) * time.Second
	poll := time.Duration(cfg.Services.PollIntervalMillis) * time.Millisecond
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Deps{
		Store:        store,
		Coordinator:  coord,
		Orchestrator: orch,
		Blobs:        blobs,
		Config:       cfg,
		Scanner:      scanner.New(cfg.Services.ScannerURL, timeout, poll),
		Moderator:    moderator.New(cfg.Services.ModeratorURL, timeout, poll),
		Transcriber:  transcriber.New(cfg.Services.TranscriberURL, timeout, poll),
		Translator:   translator.New(cfg.Services.TranslatorURL, timeout, poll),
		Highlighter:  highlighter.New(cfg.Services.HighlighterURL, timeout, poll),
		Encoder:      encoder.New(cfg.Services.EncoderURL, timeout, poll),
		Indexer:      indexer.New(cfg.Services.IndexerURL, timeout, poll),
		Logger:       logging.NewComponentLogger(logger, "stages"),
	}
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return logging.NewNop()
	}
	return d.Logger
}

// Register wires every job kind to its handler.
func Register(dispatcher *dispatch.Dispatcher, deps *Deps) error {
	handlers := map[queue.Kind]dispatch.Handler{
		queue.KindProcessVideo:      dispatch.HandlerFunc(deps.handleProcessVideo),
		queue.KindScanVideo:         dispatch.HandlerFunc(deps.handleScanVideo),
		queue.KindModerateContent:   dispatch.HandlerFunc(deps.handleModerateContent),
		queue.KindTranscribeVideo:   dispatch.HandlerFunc(deps.handleTranscribeVideo),
		queue.KindGenerateThumbnail: dispatch.HandlerFunc(deps.handleGenerateThumbnail),
		queue.KindExtractHighlights: dispatch.HandlerFunc(deps.handleExtractHighlights),
		queue.KindEncodeVideo:       dispatch.HandlerFunc(deps.handleEncodeVideo),
		queue.KindEncodeVariant:     dispatch.HandlerFunc(deps.handleEncodeVariant),
		queue.KindGenerateManifest:  dispatch.HandlerFunc(deps.handleGenerateManifest),
		queue.KindIndexVideo:        dispatch.HandlerFunc(deps.handleIndexVideo),
	}
	for kind, handler := range handlers {
		if err := dispatcher.Register(kind, handler); err != nil {
			return err
		}
	}
	return nil
}

// claimStage begins a stage and tells the caller whether to proceed. A claim
// rejected because of duplicate delivery or a terminal asset is logged and
// dropped rather than surfaced as a handler failure.
func (d *Deps) claimStage(ctx context.Context, assetID string, stage catalog.Stage) (bool, error) {
	_, err := d.Coordinator.BeginStage(ctx, assetID, stage)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pipeline.ErrStageNotPending) ||
		errors.Is(err, pipeline.ErrStageNotReady) ||
		errors.Is(err, pipeline.ErrAssetTerminal) {
		d.logger().Debug("stage claim dropped",
			logging.String(logging.FieldAssetID, assetID),
			logging.String(logging.FieldStage, string(stage)),
			logging.Error(err))
		return false, nil
	}
	return false, err
}

// finishStage reports the handler outcome to the coordinator.
func (d *Deps) finishStage(ctx context.Context, assetID string, stage catalog.Stage, cause error) error {
	if cause != nil {
		return d.Coordinator.FailStage(ctx, assetID, stage, cause)
	}
	err := d.Coordinator.CompleteStage(ctx, assetID, stage)
	if errors.Is(err, pipeline.ErrAssetTerminal) {
		// The asset was quarantined or failed while this stage ran.
		return nil
	}
	return err
}
