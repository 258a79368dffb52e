// Package scron is a small cron-like task registry for a duty-cycled node.
//
// It holds the compiled-in (static) tasks and the runtime (dynamic) ones,
// computes each task's next occurrence from its last run, and saves and
// restores the last runs through a HistoryStore.
package scron
