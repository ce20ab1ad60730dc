// Package config loads, normalizes, and validates the TOML configuration
// shared by the daemon and CLI.
//
// Defaults live in defaults.go; an annotated sample is embedded and written
// by 'revoice config init'. All path fields are tilde-expanded and absolute
// after Load.
package config
