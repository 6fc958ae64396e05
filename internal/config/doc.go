// Package config loads, normalizes, and validates docflow's TOML
// configuration. Validation failures are fatal configuration errors surfaced
// at startup; downstream packages can assume a validated Config.
package config
