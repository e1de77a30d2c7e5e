// Package config loads, validates, and normalizes the TOML configuration
// shared by the daemon and the CLI.
package config
