// Package config loads, normalizes, and validates tonearm configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks such as TONEARM_API_TOKEN, AWS_ACCESS_KEY_ID, and
// REDIS_URL. The Config type centralizes every knob the daemon and CLI need so
// scratch directories, storage credentials, and retry budgets are discovered
// in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
