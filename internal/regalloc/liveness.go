package regalloc

import (
	"fmt"

	"github.com/acticloud/Maxine-VM/internal/lsraapi"
	"github.com/acticloud/Maxine-VM/lir"
)

// blockInfo holds the sets of variables of one block used by the liveness analysis.
type blockInfo struct {
	// gen are the variables used before they are defined in the block, kill the ones defined in the block.
	gen, kill       bitset
	liveIn, liveOut bitset
}

// computeLocalLiveSets computes gen and kill of every block, and the variables referenced in every loop.
func (ls *LinearScan) computeLocalLiveSets() {
	n := ls.fn.BlockCount()
	if cap(ls.blockInfos) < n {
		ls.blockInfos = make([]blockInfo, n)
	} else {
		ls.blockInfos = ls.blockInfos[:n]
	}
	numVars := ls.fn.NumVariables()
	for _, loopVars := range ls.loopVars {
		if loopVars != nil {
			loopVars.reset(numVars)
		}
	}
	ls.firstSpillSlot = 0

	for _, blk := range ls.fn.Blocks() {
		info := &ls.blockInfos[blk.Index()]
		info.gen.reset(numVars)
		info.kill.reset(numVars)
		info.liveIn.reset(numVars)
		info.liveOut.reset(numVars)

		var loopVars *bitset
		if blk.LoopIndex >= 0 {
			for len(ls.loopVars) <= blk.LoopIndex {
				ls.loopVars = append(ls.loopVars, nil)
			}
			if ls.loopVars[blk.LoopIndex] == nil {
				ls.loopVars[blk.LoopIndex] = &bitset{}
				ls.loopVars[blk.LoopIndex].reset(numVars)
			}
			loopVars = ls.loopVars[blk.LoopIndex]
		}

		for _, instr := range blk.Instrs() {
			for _, in := range instr.Inputs {
				ls.noteStackSlot(in)
				if !in.IsVariable() {
					continue
				}
				v := uint(in.Index)
				if !info.kill.has(v) {
					info.gen.set(v)
				}
				if loopVars != nil {
					loopVars.set(v)
				}
			}
			for _, defs := range [2][]lir.Operand{instr.Temps, instr.Outputs} {
				for _, def := range defs {
					ls.noteStackSlot(def)
					if !def.IsVariable() {
						continue
					}
					info.kill.set(uint(def.Index))
					if loopVars != nil {
						loopVars.set(uint(def.Index))
					}
				}
			}
		}

		if lsraapi.RegAllocLoggingEnabled {
			fmt.Printf("block %d: gen %d variables, kill %d variables\n", blk.Index(), info.gen.count(), info.kill.count())
		}
	}
	ls.nextSpillSlot = ls.firstSpillSlot
}

// noteStackSlot reserves the fixed stack slots used by the function, i.e. the incoming parameters.
func (ls *LinearScan) noteStackSlot(o lir.Operand) {
	if o.IsStackSlot() && o.Index >= ls.firstSpillSlot {
		ls.firstSpillSlot = o.Index + 1
	}
}

// computeGlobalLiveSets computes liveIn and liveOut of every block: each upward exposed use is marked live
// through the predecessors until a block defining the variable is reached.
func (ls *LinearScan) computeGlobalLiveSets() {
	for _, blk := range ls.fn.Blocks() {
		info := &ls.blockInfos[blk.Index()]
		info.gen.scan(func(v uint) {
			ls.markLiveIn(blk, v)
		})
	}
}

// markLiveIn marks v live at the start of b, and live through the predecessors of b which do not define it.
func (ls *LinearScan) markLiveIn(b *lir.Block, v uint) {
	stack := append(ls.blockStack[:0], b)
	for len(stack) > 0 {
		blk := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		info := &ls.blockInfos[blk.Index()]
		if info.liveIn.has(v) {
			continue // Already visited, e.g. through a sibling block.
		}
		info.liveIn.set(v)
		preds := blk.Preds()
		if len(preds) == 0 {
			panic(fmt.Sprintf("BUG: v%d is used in block %d without being defined", v, blk.Index()))
		}
		for _, pred := range preds {
			predInfo := &ls.blockInfos[pred.Index()]
			predInfo.liveOut.set(v)
			if !predInfo.kill.has(v) {
				stack = append(stack, pred)
			}
		}
	}
	ls.blockStack = stack
}

// buildIntervals creates the intervals of the variables and the fixed registers by walking the blocks and
// their instructions backwards.
func (ls *LinearScan) buildIntervals() {
	blocks := ls.fn.Blocks()
	for k := len(blocks) - 1; k >= 0; k-- {
		blk := blocks[k]
		info := &ls.blockInfos[blk.Index()]
		blockFrom, blockTo := blk.FirstID(), blk.LastID()

		// Variables live at the end of the block are live in the whole block, until a definition shortens it.
		var loopVars *bitset
		if blk.LoopEnd && blk.LoopIndex >= 0 && blk.LoopIndex < len(ls.loopVars) {
			loopVars = ls.loopVars[blk.LoopIndex]
		}
		info.liveOut.scan(func(v uint) {
			i := ls.varInterval(lir.Variable(v))
			i.addRange(blockFrom, blockTo+2)
			if loopVars != nil && loopVars.has(v) {
				i.addUsePos(blockTo+1, LoopEndMarker)
			}
		})

		instrs := blk.Instrs()
		for n := len(instrs) - 1; n >= 0; n-- {
			instr := instrs[n]
			opID := instr.ID

			if instr.IsCall() {
				ls.regInfo.CallerSavedRegisters.Range(func(r RealReg) {
					if fixed := ls.fixedInterval(r); fixed != nil {
						fixed.addRange(opID, opID+1)
					}
				})
			}
			for _, out := range instr.Outputs {
				ls.addDef(out, opID, ls.useKindOfOutput(instr, out))
			}
			for _, temp := range instr.Temps {
				ls.addTemp(temp, opID, MustHaveRegister)
			}
			for _, in := range instr.Inputs {
				ls.addUse(in, blockFrom, opID, ls.useKindOfInput(instr, in))
			}

			if instr.IsMove() {
				ls.handleMethodArgument(instr)
				ls.addLocationHint(instr)
			}
		}
	}

	// Every fixed interval is active at 0 and inactive afterwards, so that the walker knows all of them.
	for _, id := range ls.fixedIntervals {
		if id != noInterval {
			ls.interval(id).addRange(0, 1)
		}
	}
}

// intervalOf returns the interval of a variable or an allocatable register, or nil.
func (ls *LinearScan) intervalOf(o lir.Operand) *Interval {
	switch o.Kind {
	case lir.OperandVariable:
		return ls.varInterval(o.Variable())
	case lir.OperandRegister:
		return ls.fixedInterval(RealReg(o.Index))
	default:
		return nil
	}
}

func (ls *LinearScan) addDef(o lir.Operand, defPos int, kind UseKind) {
	i := ls.intervalOf(o)
	if i == nil {
		return
	}
	if !i.isEmpty() && i.from() <= defPos {
		// The range starts at the beginning of the block when created by a use.
		i.setFrom(defPos)
	} else {
		// Dead value.
		i.addRange(defPos, defPos+1)
	}
	i.addUsePos(defPos, kind)

	if o.IsVariable() {
		ls.changeSpillDefinitionPos(i, defPos)
		if kind == NoUse && i.spillState < SpillNoOptimization {
			i.spillState = SpillStartInMemory
		}
	}
}

func (ls *LinearScan) addTemp(o lir.Operand, tempPos int, kind UseKind) {
	if i := ls.intervalOf(o); i != nil {
		i.addRange(tempPos, tempPos+1)
		i.addUsePos(tempPos, kind)
	}
}

func (ls *LinearScan) addUse(o lir.Operand, from, to int, kind UseKind) {
	if i := ls.intervalOf(o); i != nil {
		i.addRange(from, to)
		i.addUsePos(to, kind)
	}
}

func (ls *LinearScan) mustStartInMemory(o lir.Operand) bool {
	return o.IsVariable() && ls.fn.VariableFlags(o.Variable())&lir.MustStartInMemory != 0
}

func (ls *LinearScan) useKindOfOutput(instr *lir.Instr, out lir.Operand) UseKind {
	switch {
	case ls.mustStartInMemory(out):
		// Stored at the definition, which prevents loading it right away.
		return NoUse
	case instr.IsMove() && instr.Inputs[0].IsStackSlot():
		// Incoming parameter.
		return NoUse
	default:
		return MustHaveRegister
	}
}

func (ls *LinearScan) useKindOfInput(instr *lir.Instr, in lir.Operand) UseKind {
	if instr.IsMove() {
		out := instr.Outputs[0]
		if ls.mustStartInMemory(out) || out.IsStackSlot() {
			// Moves between stack slots do not exist.
			return MustHaveRegister
		}
		return ShouldHaveRegister
	}
	if in.StackAllowed {
		return ShouldHaveRegister
	}
	return MustHaveRegister
}

// handleMethodArgument gives the variable defined by a move from an incoming parameter the stack slot of
// the parameter. The interval is split before its first use when activated.
func (ls *LinearScan) handleMethodArgument(instr *lir.Instr) {
	in, out := instr.Inputs[0], instr.Outputs[0]
	if !in.IsStackSlot() || !out.IsVariable() {
		return
	}
	i := ls.varInterval(out.Variable())
	i.canonicalSpillSlot = in.Location
	i.location = in.Location
}

// addLocationHint makes the destination of a move prefer the location of its source.
func (ls *LinearScan) addLocationHint(instr *lir.Instr) {
	in, out := instr.Inputs[0], instr.Outputs[0]
	if !out.IsVariable() {
		return
	}
	if from := ls.intervalOf(in); from != nil {
		ls.varInterval(out.Variable()).locationHint = from.id
	}
}
