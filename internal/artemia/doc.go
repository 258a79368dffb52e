// Package artemia drives a scron registry: given the supply voltage and the
// current time it picks and runs at most one task per call, and reports when
// the node should wake up next.
package artemia
