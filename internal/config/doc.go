// Package config loads the node configuration and watches it for changes.
//
// YAML files are coerced to JSON and decoded strictly, so unknown keys are
// rejected on both the initial load and every hot reload.
package config
