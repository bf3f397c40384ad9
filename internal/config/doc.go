// Package config loads, normalizes, and validates shelver configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads .env files, and honours environment
// fallbacks such as TMDB_API_KEY and SHELVER_DATABASE_DSN. The Config type
// centralizes every knob the daemon and CLI need, including the destination
// libraries, their routing mappings, and their custom rules.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical media types, and clear validation errors.
package config
