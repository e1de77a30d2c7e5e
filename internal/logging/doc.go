// Package logging configures slog for the daemon and CLI and centralizes
// the structured field names used across the pipeline. Handlers, stage
// code, and the status API all log through loggers built here so asset,
// stage, and job identifiers appear under consistent keys.
package logging
