package ports

import "context"

// Mutual exclusion for maturity sweeps across processes.
type SweepLock interface {
	// Acquire returns ok=false without error when another holder has the lock.
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}
