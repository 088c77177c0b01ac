package lsraapi

// These consts are used in the register allocator and its driver. They live in one place so that a debugging
// session only flips switches here.

// ----- Debug logging -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	// RegAllocLoggingEnabled prints the intervals before and after the walk to stdout.
	RegAllocLoggingEnabled = false
	// PrintAllocatedFunction prints every function after locations are assigned.
	PrintAllocatedFunction = false
)

// ----- Validations -----
// These consts must be enabled by default until the allocator survives long fuzzing sessions without them.

const (
	// RegAllocValidationEnabled enables the internal consistency checks of the walker which are not free.
	RegAllocValidationEnabled = true
)
