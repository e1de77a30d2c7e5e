package notifications

import (
	"context"
	"log/slog"

	"loom/internal/catalog"
	"loom/internal/logging"
)

// Notifier adapts Service to the callback interfaces consumed by the upload
// manager and the pipeline coordinator. Delivery failures are logged and
// swallowed; notifications never affect pipeline outcomes.
type Notifier struct {
	service Service
	store   *catalog.Store
	logger  *slog.Logger
}

// NewNotifier builds the adapter. The store is used to count renditions for
// publish notifications and may be nil.
func NewNotifier(service Service, store *catalog.Store, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Notifier{service: service, store: store, logger: logger}
}

// UploadReceived implements the upload manager callback.
func (n *Notifier) UploadReceived(ctx context.Context, asset *catalog.VideoAsset) {
	if err := n.service.NotifyUploadReceived(ctx, asset.Title); err != nil {
		n.logFailure("upload received", asset.ID, err)
	}
}

// AssetPublished implements the pipeline coordinator callback.
func (n *Notifier) AssetPublished(ctx context.Context, asset *catalog.VideoAsset) {
	variants := 0
	if n.store != nil {
		if list, err := n.store.VariantsForAsset(ctx, asset.ID); err == nil {
			for _, variant := range list {
				if variant.Status == catalog.VariantCompleted {
					variants++
				}
			}
		}
	}
	if err := n.service.NotifyAssetPublished(ctx, asset.Title, variants); err != nil {
		n.logFailure("asset published", asset.ID, err)
	}
}

// AssetQuarantined implements the pipeline coordinator callback.
func (n *Notifier) AssetQuarantined(ctx context.Context, asset *catalog.VideoAsset, reasons []string) {
	if err := n.service.NotifyAssetQuarantined(ctx, asset.Title, reasons); err != nil {
		n.logFailure("asset quarantined", asset.ID, err)
	}
}

// AssetFailed implements the pipeline coordinator callback.
func (n *Notifier) AssetFailed(ctx context.Context, asset *catalog.VideoAsset, stage catalog.Stage, message string) {
	if err := n.service.NotifyAssetFailed(ctx, asset.Title, string(stage), message); err != nil {
		n.logFailure("asset failed", asset.ID, err)
	}
}

func (n *Notifier) logFailure(event, assetID string, err error) {
	n.logger.Warn("notification delivery failed",
		logging.String(logging.FieldEventType, event),
		logging.String(logging.FieldAssetID, assetID),
		logging.Error(err))
}
