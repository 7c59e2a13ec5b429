// Package config loads the TaskPilot runtime configuration from a JSON or
// YAML file, applies environment overrides for the model provider, and
// fills defaults for every optional backend.
package config
