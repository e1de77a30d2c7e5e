// Package daemon wires the catalog store, job queue, dispatcher, stage
// handlers, and HTTP API into a single background process. A flock-based
// lock file enforces single-instance execution per data directory.
package daemon
