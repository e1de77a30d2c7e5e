// Package catalog persists the pipeline's authoritative records: upload
// sessions, video assets, per-stage processing jobs, encode variants, and
// moderation results, all backed by a single SQLite database.
//
// The package defines the closed status and stage enums and the legality
// table for asset status transitions, but it never decides transitions on
// its own; the pipeline coordinator owns every status mutation and calls
// into the store under a per-asset serialization discipline.
package catalog
