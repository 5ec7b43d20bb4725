// Package config provides centralized configuration management for the
// ChainFlow daemon. Configuration is loaded once at startup from a YAML
// file; malformed or incomplete configuration aborts the process before
// the scheduler ever runs.
package config
