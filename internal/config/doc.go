// Package config loads the daemon configuration from a JSON file and fills
// in defaults so a bare config starts a fully in-memory deployment.
package config
