// Package services defines shared utilities consumed by the stage handlers
// and the external collaborator clients.
//
// Key responsibilities:
//   - Context helpers that stamp asset IDs, stage names, and job identifiers
//     for logging and correlation.
//   - Structured error markers plus the Wrap helper that classify failures
//     into retryable, terminal, and content-policy outcomes.
//
// The concrete collaborator clients (scanner, moderator, transcriber,
// encoder, translator, highlighter) live in subpackages and share the
// submit-and-poll contract implemented by the asyncjob subpackage.
package services
