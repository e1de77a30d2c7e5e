// Package pipeline owns per-asset stage progression. The Coordinator is the
// only writer of stage job and asset status transitions: it serializes all
// logical updates for one asset behind a per-asset lock, enqueues follow-on
// stages when their prerequisites complete, applies the retry policy on
// failure, and routes assets to their terminal statuses.
package pipeline
