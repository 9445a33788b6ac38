package node

import (
	"errors"
	"fmt"
)

// Transaction-creation error kinds (§7).
var (
	ErrInvalidValue            = errors.New("node: value must be greater than zero")
	ErrSourceEqualsDestination = errors.New("node: recipient equals sender")
	ErrUnverifiedTransaction   = errors.New("node: a signed input failed local verification")
	// ErrBlockAlreadyMined is returned by MineBlock when the tip moved
	// while the proof-of-work search was running (§4.8b step 5).
	ErrBlockAlreadyMined = errors.New("node: tip advanced while mining, discarding stale block")
)

// InsufficientBalanceError carries the shortfall amount (§7).
type InsufficientBalanceError struct {
	Requested uint64
	Available uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("node: insufficient balance: requested %d, available %d (overdraft %d)",
		e.Requested, e.Available, e.Requested-e.Available)
}

// Overdraft returns how much the requested spend exceeds the
// available balance.
func (e *InsufficientBalanceError) Overdraft() uint64 {
	return e.Requested - e.Available
}
