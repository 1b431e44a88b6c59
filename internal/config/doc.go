// Package config loads the YAML runtime configuration, layers .env files and
// environment overrides on top of it, and watches files for hot reload.
package config
