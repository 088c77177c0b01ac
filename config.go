package maxine

import (
	"io"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/acticloud/Maxine-VM/internal/isa"
	"github.com/acticloud/Maxine-VM/internal/isa/amd64"
	"github.com/acticloud/Maxine-VM/internal/isa/arm64"
	"github.com/acticloud/Maxine-VM/internal/lsraapi"
)

// AllocatorConfig controls the register allocation, with the default implementation as NewAllocatorConfig.
// It is immutable: every With method returns a modified copy.
type AllocatorConfig struct {
	arch        string
	traceLevel  int
	logger      *logrus.Logger
	validation  bool
	parallelism int
}

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &AllocatorConfig{
	arch:       defaultArchitecture,
	logger:     discardLogger(),
	validation: lsraapi.RegAllocValidationEnabled,
}

// clone ensures all fields are copied even if nil.
func (c *AllocatorConfig) clone() *AllocatorConfig {
	return &AllocatorConfig{
		arch:        c.arch,
		traceLevel:  c.traceLevel,
		logger:      c.logger,
		validation:  c.validation,
		parallelism: c.parallelism,
	}
}

// NewAllocatorConfig returns the default configuration: the register file of the host architecture, or amd64 on
// other hosts, no trace, and verification of every allocated function.
func NewAllocatorConfig() *AllocatorConfig {
	return defaultConfig.clone()
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// WithArchitecture selects the register file by GOARCH name: "amd64" or "arm64". Other names make Allocate fail
// with ErrUnsupportedArchitecture.
func (c *AllocatorConfig) WithArchitecture(arch string) *AllocatorConfig {
	ret := c.clone()
	ret.arch = arch
	return ret
}

// WithTraceLevel sets the verbosity of the allocation trace written to the logger at debug level:
//   - 0 disables it.
//   - 1 traces the phases of every function.
//   - 2 traces the decision taken for every interval.
//   - 4 traces the register states and the split positions.
func (c *AllocatorConfig) WithTraceLevel(level int) *AllocatorConfig {
	ret := c.clone()
	ret.traceLevel = level
	return ret
}

// WithLogger sets the logger receiving the trace and the verification failures. Every entry has the field
// "func" with the name of the allocated function. Defaults to a logger discarding everything if nil.
func (c *AllocatorConfig) WithLogger(logger *logrus.Logger) *AllocatorConfig {
	if logger == nil {
		logger = discardLogger()
	}
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithValidation enables the verification of every allocated function. A failed verification makes Allocate
// return an error wrapping ErrInvalidAllocation.
func (c *AllocatorConfig) WithValidation(enabled bool) *AllocatorConfig {
	ret := c.clone()
	ret.validation = enabled
	return ret
}

// WithParallelism limits the number of functions AllocateAll allocates at the same time. Values below one use
// runtime.GOMAXPROCS.
func (c *AllocatorConfig) WithParallelism(n int) *AllocatorConfig {
	ret := c.clone()
	ret.parallelism = n
	return ret
}

func (c *AllocatorConfig) isa() (isa.ISA, error) {
	switch c.arch {
	case amd64.Name:
		return amd64.ISA{}, nil
	case arm64.Name:
		return arm64.ISA{}, nil
	default:
		return nil, unsupportedArchitecture(c.arch)
	}
}

func (c *AllocatorConfig) maxParallelism() int {
	if c.parallelism < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return c.parallelism
}
