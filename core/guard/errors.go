package guard

import (
	"errors"

	"github.com/cordum/stocklock/core/infra/locks"
)

var (
	// ErrAcquisitionExhausted means every attempt in the budget found the
	// lock held. The critical section did not run.
	ErrAcquisitionExhausted = errors.New("lock acquisition exhausted")
	// ErrStoreUnavailable is re-exported so callers need only this package.
	ErrStoreUnavailable = locks.ErrStoreUnavailable
)

// Outcome classifies how a guarded run ended.
type Outcome string

const (
	OutcomeExecuted    Outcome = "executed"
	OutcomeFailed      Outcome = "failed"
	OutcomeExhausted   Outcome = "exhausted"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeUnavailable Outcome = "unavailable"
)
