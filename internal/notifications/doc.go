// Package notifications delivers pipeline lifecycle events via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and gracefully degrades to a no-op when no topic is set.
// Per-event toggles let operators mute upload chatter while keeping
// quarantine and failure alerts on. The Notifier adapter bridges the
// Service onto the callback interfaces the upload manager and pipeline
// coordinator consume, so neither blocks on delivery failures.
package notifications
