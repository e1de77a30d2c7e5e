// Command loom is the operator CLI for the loom daemon. It talks to the
// daemon's HTTP API to inspect pipeline state and drive chunked uploads.
package main
