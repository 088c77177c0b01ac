package regalloc

import (
	"github.com/pkg/errors"

	"github.com/acticloud/Maxine-VM/lir"
)

// verify checks the result of the allocation: no register holds two values at the same position, every
// use requiring a register gets one, and every variable operand has a location.
func (ls *LinearScan) verify() error {
	var errs []error
	report := func(err error) {
		errs = append(errs, err)
		if ls.log != nil {
			ls.log.WithError(err).Error("verification failed")
		}
	}

	var byReg [RealRegsNumMax][]*Interval
	for id := 0; id < ls.intervals.Len(); id++ {
		i := ls.interval(IntervalID(id))
		if i.isEmpty() {
			continue
		}
		if !i.location.IsSet() {
			report(errors.Wrapf(ErrInvalidAllocation, "%s has no location", i))
			continue
		}
		if i.location.IsRegister() {
			r := i.location.Register()
			byReg[r] = append(byReg[r], i)
		}
		for _, u := range i.uses {
			if u.kind == MustHaveRegister && !i.location.IsRegister() {
				report(errors.Wrapf(ErrInvalidAllocation, "%s is not in a register at its use at %d", i, u.pos))
			}
		}
	}

	for r, list := range byReg {
		for a := 0; a < len(list); a++ {
			for b := a + 1; b < len(list); b++ {
				if pos := list[a].intersectsAt(list[b]); pos != -1 {
					report(errors.Wrapf(ErrInvalidAllocation, "%s and %s both hold %s at %d",
						list[a], list[b], ls.regInfo.regName(r), pos))
				}
			}
		}
	}

	for _, blk := range ls.fn.Blocks() {
		for _, instr := range blk.Instrs() {
			for _, ops := range [3][]lir.Operand{instr.Inputs, instr.Temps, instr.Outputs} {
				for _, o := range ops {
					if o.IsVariable() && !o.Location.IsSet() {
						report(errors.Wrapf(ErrInvalidAllocation, "operand %s of instruction %d has no location", o, instr.ID))
					}
				}
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	if len(errs) > 1 {
		return errors.Wrapf(errs[0], "and %d more violations", len(errs)-1)
	}
	return errs[0]
}
