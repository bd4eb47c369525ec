// Package config loads, normalizes, and validates facemosaic configuration.
//
// Values start from Default, are overlaid by a TOML file and then by
// environment variables (FACEMOSAIC_DB_URL, the POSTGRES_* family,
// FACEMOSAIC_LOG_LEVEL). Paths are expanded, including tilde shortcuts, before
// Validate runs.
package config
