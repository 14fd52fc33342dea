// Package config loads tandem's configuration.
//
// Settings are layered: built-in defaults, then a TOML or YAML file chosen
// by extension, then TANDEM_* environment variables. A Watcher reloads the
// file when it changes and hands the new configuration to its handlers.
package config
