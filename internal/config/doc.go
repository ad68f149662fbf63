// Package config handles configuration loading for dialog-relay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Empty fields receive defaults and the result is validated before use.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from DIALOG_RELAY_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/dialog-relay/config.yaml
//
// `dialog-relay init` writes Sample to the chosen path.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${DIALOG_RELAY_JWT_SECRET}"
//
// DIALOG_RELAY_DB_PATH, when set, replaces database.path after parsing.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	dialog:
//	  persist_timeout: "5s"
package config
