// Package config loads adlens settings from an optional YAML file and
// ADLENS_-prefixed environment variables, applies defaults and validates
// the result before any component is constructed.
package config
