package ports

import "time"

// Metrics receives operational measurements from the position service.
type Metrics interface {
	// MutationRecorded is called once per mutating call with its outcome (nil on success).
	MutationRecorded(op string, err error)
	// LockWaited reports how long a mutation waited for its aggregate lock.
	LockWaited(op string, d time.Duration)
}
