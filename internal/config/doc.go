// Package config provides configuration loading and validation for the
// transcription session service. It handles YAML-based configuration with
// struct validation and environment overrides for secrets.
package config
