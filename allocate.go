// Package maxine allocates registers for functions in the low-level IR of the lir package with a linear scan.
//
// Every value of a function gets either a register or a stack slot at each of its uses. Values are split into
// pieces living in different locations when registers run out, and the moves between the pieces are inserted
// into the function:
//
//	res, err := maxine.Allocate(maxine.NewAllocatorConfig(), fn)
//	if errors.Is(err, maxine.ErrBailout) {
//		// Fall back to another compiler.
//	}
package maxine

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/acticloud/Maxine-VM/internal/asm"
	"github.com/acticloud/Maxine-VM/internal/isa"
	"github.com/acticloud/Maxine-VM/internal/regalloc"
	"github.com/acticloud/Maxine-VM/lir"
)

var (
	// ErrBailout is returned when a value needs a register at a position where none can be made free, e.g.
	// because an instruction reads more values in registers than the register file has.
	ErrBailout = regalloc.ErrBailout
	// ErrInvalidAllocation is returned when the verification of an allocated function fails.
	ErrInvalidAllocation = regalloc.ErrInvalidAllocation
	// ErrUnsupportedArchitecture is returned for architectures without a register file.
	ErrUnsupportedArchitecture = asm.ErrUnsupportedArchitecture
)

func unsupportedArchitecture(arch string) error {
	return errors.Wrapf(ErrUnsupportedArchitecture, "%q", arch)
}

// Stats are the counters of one allocation.
type Stats = regalloc.Stats

// Move is a move inserted by the allocator, between two locations of a value.
type Move = isa.Move

// Result is an allocated function.
type Result struct {
	// Function is the allocated function: every variable operand has a location, and the inserted moves have
	// the id -1.
	Function *lir.Function
	// SpillSlots is the number of stack slots used for spilling, after the incoming parameters.
	SpillSlots int
	Stats      Stats

	isa isa.ISA
}

// Moves returns the moves inserted into the function, in block order.
func (r *Result) Moves() []Move {
	return isa.InsertedMoves(r.Function, r.isa.RegisterInfo())
}

// AssembleMoves encodes the inserted moves as machine code of the configured architecture, one instruction per
// move in the order of Moves. Stack slot n is addressed at 8*n from the stack pointer.
func (r *Result) AssembleMoves() ([]byte, error) {
	code, err := isa.AssembleMoves(r.isa, r.Moves())
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", r.Function.Name)
	}
	return code, nil
}

// String returns the allocated function with the register names of the architecture.
func (r *Result) String() string {
	info := r.isa.RegisterInfo()
	return r.Function.Format(func(reg int) string { return info.RealRegName(regalloc.RealReg(reg)) })
}

// Allocate assigns locations to the variables of fn in place. Blocks of fn must be in linear-scan order, with
// loop headers before loop bodies, and control flow edges which need moves must not be critical.
//
// The returned error wraps ErrBailout when fn cannot be allocated, ErrInvalidAllocation when the verification
// fails and ErrUnsupportedArchitecture for an unknown architecture. fn must not be used after an error.
func Allocate(cfg *AllocatorConfig, fn *lir.Function) (*Result, error) {
	machine, err := cfg.isa()
	if err != nil {
		return nil, err
	}
	log := cfg.logger.WithField("func", fn.Name)
	ls := regalloc.NewLinearScan(fn, machine.RegisterInfo(), regalloc.Options{
		TraceLevel: cfg.traceLevel,
		Logger:     log,
		Validate:   cfg.validation,
	})
	if err := ls.Allocate(); err != nil {
		return nil, err
	}
	return &Result{Function: fn, SpillSlots: ls.SpillSlots(), Stats: ls.Stats(), isa: machine}, nil
}

// AllocateAll allocates fns concurrently, at most cfg's parallelism at a time. The results are in the order of
// fns. The first error cancels the allocations which have not started yet, and is returned.
func AllocateAll(ctx context.Context, cfg *AllocatorConfig, fns ...*lir.Function) ([]*Result, error) {
	if _, err := cfg.isa(); err != nil {
		return nil, err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.maxParallelism())
	results := make([]*Result, len(fns))
	for k, fn := range fns {
		k, fn := k, fn
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := Allocate(cfg, fn)
			if err != nil {
				return err
			}
			results[k] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
