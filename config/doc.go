// Package config loads the service configuration.
//
// Values merge in priority order: built-in defaults, then an optional YAML
// file, then NEOCORE_* environment variables resolved from the env struct
// tags. Backend credentials never appear in files; each backend entry names
// the environment variable that holds its key.
package config
