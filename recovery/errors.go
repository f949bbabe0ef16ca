// Package recovery implements the cross-replica recovery engine: a
// coordinator that diffs replicas across hash rings and within a ring,
// then transfers missing or stale objects to restore replica invariants.
package recovery

import "errors"

// Sentinel errors for the recovery engine's two-tier propagation model
// (spec §7): Transient failures are logged per work unit and the run
// continues; Fatal failures abort before any state mutation.
var (
	// ErrTransient marks an RPC timeout or unreachable remote node. The
	// affected work unit is marked FAILED; the overall run continues.
	ErrTransient = errors.New("recovery: transient failure")

	// ErrFatal marks a condition that must abort the run before any
	// state mutation: an unwritable tmp dir, lock contention, or
	// unparseable CLI input.
	ErrFatal = errors.New("recovery: fatal error")

	// ErrLockContention is returned by Context setup when the advisory
	// lockfile is already held by another invocation.
	ErrLockContention = errors.New("recovery: lockfile held by another run")

	// ErrUnknownMode is returned when the positional CLI argument is
	// neither "merge" nor "dc".
	ErrUnknownMode = errors.New("recovery: mode must be \"merge\" or \"dc\"")
)
