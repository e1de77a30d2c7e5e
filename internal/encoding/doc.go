// Package encoding coordinates the multi-bitrate encoding fan-out.
//
// One video asset fans out into one variant per configured quality profile.
// Variant results are recorded independently; the call that moves the last
// variant to a terminal status triggers the master playlist job exactly
// once. Encoding succeeds when at least one variant completes.
package encoding
