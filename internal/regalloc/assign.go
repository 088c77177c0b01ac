package regalloc

import (
	"github.com/acticloud/Maxine-VM/lir"
)

// assignLocations rewrites the variable operands of every instruction with the location of the split child
// live at the instruction, then removes the moves which became no-ops.
func (ls *LinearScan) assignLocations() {
	for _, blk := range ls.fn.Blocks() {
		for _, instr := range blk.Instrs() {
			if instr.ID < 0 {
				// Inserted by the allocator with concrete locations.
				continue
			}
			ls.assignOperands(instr.Inputs, instr.ID, inputMode)
			ls.assignOperands(instr.Temps, instr.ID, outputMode)
			ls.assignOperands(instr.Outputs, instr.ID, outputMode)
		}
		ls.stats.RemovedMoves += blk.RemoveIf(isNopMove)
	}

	for id := 0; id < ls.intervals.Len(); id++ {
		i := ls.interval(IntervalID(id))
		if !i.IsFixed() && !i.isEmpty() && i.location.IsStackSlot() {
			ls.stats.SpilledIntervals++
		}
	}
}

func (ls *LinearScan) assignOperands(ops []lir.Operand, opID int, mode operandMode) {
	for k := range ops {
		o := &ops[k]
		if !o.IsVariable() {
			continue
		}
		parent := ls.varInterval(o.Variable())
		o.Location = ls.childAtOpID(parent, opID, mode).location
	}
}

func isNopMove(instr *lir.Instr) bool {
	if !instr.IsMove() {
		return false
	}
	in, out := instr.Inputs[0].Location, instr.Outputs[0].Location
	return in.IsSet() && in == out
}
