// Package tasks provides task bodies: the compiled-in static set and the
// built-in actions that config-declared tasks are built from.
package tasks
