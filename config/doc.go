// Package config loads and validates the botflow configuration.
//
// Configuration precedence: defaults, then a YAML file, then
// environment variable overrides. Everything is validated once at
// startup; malformed values fail loading instead of being silently
// coerced at runtime.
package config
