package regalloc

import "github.com/pkg/errors"

var (
	// ErrBailout is returned when an interval needs a register at a position where none can be made free.
	// The compilation of the function must be abandoned or retried with another strategy.
	ErrBailout = errors.New("linear scan: no register found")
	// ErrInvalidAllocation is returned when the verification of an allocated function fails.
	ErrInvalidAllocation = errors.New("linear scan: invalid allocation")
)
