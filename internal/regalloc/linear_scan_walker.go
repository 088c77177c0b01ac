package regalloc

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/acticloud/Maxine-VM/internal/lsraapi"
	"github.com/acticloud/Maxine-VM/lir"
)

// This file is the allocation core: it decides the location of the current interval when it is activated.
//
// usePos[r] is the position from which the register r is used by another interval, and blockPos[r] the
// position from which r is taken by a fixed interval and cannot be freed by spilling. Both are rebuilt for
// every decision over the registers of the RegClass of the current interval.

func (ls *LinearScan) initUseLists(onlyProcessUsePos bool) {
	for _, r := range ls.availableRegs {
		ls.usePos[r] = maxPosition
		if !onlyProcessUsePos {
			ls.blockPos[r] = maxPosition
			ls.spillIntervals[r] = ls.spillIntervals[r][:0]
		}
	}
}

func (ls *LinearScan) excludeFromUse(i *Interval) {
	r := RealReg(i.location.Register())
	if ls.availableSet.has(r) {
		ls.usePos[r] = 0
	}
}

// setUsePos lowers usePos of the register of i to pos. With onlyProcessUsePos unset, i becomes a candidate
// for spilling if the register is chosen. A pos of -1 is ignored.
func (ls *LinearScan) setUsePos(i *Interval, pos int, onlyProcessUsePos bool) {
	if pos == -1 {
		return
	}
	r := RealReg(i.location.Register())
	if !ls.availableSet.has(r) {
		return
	}
	if ls.usePos[r] > pos {
		ls.usePos[r] = pos
	}
	if !onlyProcessUsePos {
		ls.spillIntervals[r] = append(ls.spillIntervals[r], i.id)
	}
}

// setBlockPos lowers blockPos, and usePos with it, of the register of i to pos. A pos of -1 is ignored.
func (ls *LinearScan) setBlockPos(i *Interval, pos int) {
	if pos == -1 {
		return
	}
	r := RealReg(i.location.Register())
	if !ls.availableSet.has(r) {
		return
	}
	if ls.blockPos[r] > pos {
		ls.blockPos[r] = pos
	}
	if ls.usePos[r] > pos {
		ls.usePos[r] = pos
	}
}

func (ls *LinearScan) freeExcludeActive(kind intervalKind) {
	for _, id := range ls.active[kind] {
		ls.excludeFromUse(ls.interval(id))
	}
}

func (ls *LinearScan) freeCollectInactiveFixed(cur *Interval) {
	for _, id := range ls.inactive[fixedKind] {
		i := ls.interval(id)
		if cur.to() <= i.currentFrom() {
			ls.setUsePos(i, i.currentFrom(), true)
		} else {
			ls.setUsePos(i, i.currentIntersectsAt(cur), true)
		}
	}
}

func (ls *LinearScan) freeCollectInactiveAny(cur *Interval) {
	for _, id := range ls.inactive[anyKind] {
		i := ls.interval(id)
		ls.setUsePos(i, i.currentIntersectsAt(cur), true)
	}
}

func (ls *LinearScan) freeCollectUnhandledFixed(cur *Interval) {
	for _, id := range ls.unhandled[fixedKind] {
		i := ls.interval(id)
		ls.setUsePos(i, i.intersectsAt(cur), true)
		if cur.to() <= i.from() {
			ls.setUsePos(i, i.from(), true)
		}
	}
}

func (ls *LinearScan) spillExcludeActiveFixed() {
	for _, id := range ls.active[fixedKind] {
		ls.excludeFromUse(ls.interval(id))
	}
}

func (ls *LinearScan) spillBlockUnhandledFixed(cur *Interval) {
	for _, id := range ls.unhandled[fixedKind] {
		i := ls.interval(id)
		ls.setBlockPos(i, i.intersectsAt(cur))
	}
}

func (ls *LinearScan) spillBlockInactiveFixed(cur *Interval) {
	for _, id := range ls.inactive[fixedKind] {
		i := ls.interval(id)
		if cur.to() > i.currentFrom() {
			ls.setBlockPos(i, i.currentIntersectsAt(cur))
		}
	}
}

func (ls *LinearScan) spillCollectActiveAny() {
	for _, id := range ls.active[anyKind] {
		i := ls.interval(id)
		ls.setUsePos(i, min(i.nextUsage(LoopEndMarker, ls.currentPosition), i.to()), false)
	}
}

func (ls *LinearScan) spillCollectInactiveAny(cur *Interval) {
	for _, id := range ls.inactive[anyKind] {
		i := ls.interval(id)
		if i.currentIntersects(cur) {
			ls.setUsePos(i, min(i.nextUsage(LoopEndMarker, ls.currentPosition), i.to()), false)
		}
	}
}

// insertMove requests a move from src to dst before the instruction following opID.
func (ls *LinearScan) insertMove(opID int, src, dst *Interval) {
	opID = (opID + 1) &^ 1
	blk := ls.fn.BlockForID(opID)
	if lsraapi.RegAllocValidationEnabled {
		if opID <= 0 || ls.fn.BlockForID(opID-2) != blk {
			panic(fmt.Sprintf("BUG: cannot insert a move at the block boundary %d", opID))
		}
		if src == dst {
			panic(fmt.Sprintf("BUG: move from %s to itself", src))
		}
	}

	// Moves are only queued during the walk, so the index follows from the numbering.
	instrs := blk.Instrs()
	index := (opID - blk.FirstID()) >> 1
	for instrs[index].ID != opID {
		index++
	}
	ls.moves.moveInsertPosition(blk, index)
	ls.moves.addMapping(src, dst)
}

// findOptimalSplitPosBetween returns the end of the block between minBlock and maxBlock with the lowest loop
// depth, preferring the latest one.
func (ls *LinearScan) findOptimalSplitPosBetween(minBlock, maxBlock *lir.Block, maxSplitPos int) int {
	// Try to split at the end of maxBlock, or at its begin if that is too late.
	optimal := maxBlock.LastID() + 2
	if optimal > maxSplitPos {
		optimal = maxBlock.FirstID()
	}
	minLoopDepth := maxBlock.LoopDepth
	for index := maxBlock.Index() - 1; index >= minBlock.Index(); index-- {
		if cur := ls.fn.BlockAt(index); cur.LoopDepth < minLoopDepth {
			minLoopDepth = cur.LoopDepth
			optimal = cur.LastID() + 2
		}
	}
	return optimal
}

// findOptimalSplitPos returns the position in [minSplitPos, maxSplitPos] where i should be split. Block
// boundaries are preferred, outside of loops if possible.
func (ls *LinearScan) findOptimalSplitPos(i *Interval, minSplitPos, maxSplitPos int, doLoopOptimization bool) int {
	if minSplitPos == maxSplitPos {
		return minSplitPos
	}

	// With minSplitPos at a block begin, the block before is minBlock, so that minSplitPos is a candidate.
	minBlock := ls.fn.BlockForID(minSplitPos - 1)
	// maxSplitPos can be the end of the last block.
	maxBlock := ls.fn.BlockForID(maxSplitPos - 1)
	if minBlock == maxBlock {
		if ls.traceEnabled(traceDetails) {
			ls.log.Debugf("  min and max split positions in block %d, splitting at %d", minBlock.Index(), maxSplitPos)
		}
		return maxSplitPos
	}

	// Values with several definitions have a hole before each one, and only need the register from there on.
	if i.hasHoleBetween(maxSplitPos-1, maxSplitPos) && !ls.fn.IsBlockBegin(maxSplitPos) {
		if ls.traceEnabled(traceDetails) {
			ls.log.Debugf("  hole before %d, splitting there", maxSplitPos)
		}
		return maxSplitPos
	}

	optimal := -1
	if doLoopOptimization {
		// With a loop end between both positions, split before that loop so that the reload is outside of it.
		loopEndPos := i.nextUsageExact(LoopEndMarker, minBlock.LastID()+2)
		if loopEndPos < maxSplitPos {
			loopBlock := ls.fn.BlockForID(loopEndPos)
			optimal = ls.findOptimalSplitPosBetween(minBlock, loopBlock, loopBlock.LastID()+2)
			if optimal == loopBlock.LastID()+2 {
				optimal = -1
			}
			if ls.traceEnabled(traceDetails) {
				ls.log.Debugf("  loop ending in block %d, optimized split position %d", loopBlock.Index(), optimal)
			}
		}
	}
	if optimal == -1 {
		optimal = ls.findOptimalSplitPosBetween(minBlock, maxBlock, maxSplitPos)
	}
	if ls.traceEnabled(traceDetails) {
		ls.log.Debugf("  optimal split position between %d and %d: %d", minSplitPos, maxSplitPos, optimal)
	}
	return optimal
}

// splitBeforeUsage splits i between minSplitPos and maxSplitPos. The left part keeps its location and the right
// part goes back to the unhandled intervals.
func (ls *LinearScan) splitBeforeUsage(i *Interval, minSplitPos, maxSplitPos int) {
	if lsraapi.RegAllocValidationEnabled {
		if i.from() >= minSplitPos || ls.currentPosition >= minSplitPos || minSplitPos > maxSplitPos || maxSplitPos > i.to() {
			panic(fmt.Sprintf("BUG: cannot split %s between %d and %d at %d", i, minSplitPos, maxSplitPos, ls.currentPosition))
		}
	}

	optimal := ls.findOptimalSplitPos(i, minSplitPos, maxSplitPos, true)
	if optimal == i.to() && i.nextUsage(MustHaveRegister, minSplitPos) == maxPosition {
		// Splitting at the end is no split at all.
		return
	}

	// Computed before the position moves to the odd id before the instruction.
	moveNecessary := !ls.fn.IsBlockBegin(optimal) && !i.hasHoleBetween(optimal-1, optimal)
	if !ls.fn.IsBlockBegin(optimal) {
		optimal = (optimal - 1) | 1
	}

	child := ls.split(i, optimal)
	child.insertMoveWhenActivated = moveNecessary
	ls.appendToUnhandled(child)
	if ls.traceEnabled(traceDecisions) {
		ls.log.Debugf("  split at %d (move: %v): %s | %s", optimal, moveNecessary, i, child)
	}
}

// splitForSpilling spills i from the last position it should have a register at until the current position.
// The part in memory is not processed any further.
func (ls *LinearScan) splitForSpilling(i *Interval) {
	maxSplitPos := ls.currentPosition
	minSplitPos := min(i.previousUsage(ShouldHaveRegister, maxSplitPos)+1, maxSplitPos)
	minSplitPos = max(minSplitPos, i.from())
	if lsraapi.RegAllocValidationEnabled && (i.state != StateActive || maxSplitPos >= i.to()) {
		panic(fmt.Sprintf("BUG: spilling %s interval %s at %d", i.state, i, maxSplitPos))
	}

	if minSplitPos == i.from() {
		// Never used until now: the whole interval goes to memory.
		ls.assignSpillSlot(i)
		ls.changeSpillState(i, minSplitPos)
		if ls.traceEnabled(traceDecisions) {
			ls.log.Debugf("  spilled %s entirely", i)
		}

		// Also move the preceding pieces without use to memory, instead of loading them for nothing.
		parent := i
		for parent != nil && parent.isSplitChild() {
			parent = ls.childBeforeOpID(parent, parent.from())
			if parent.location.IsRegister() {
				if parent.firstUsage(ShouldHaveRegister) == maxPosition {
					ls.assignSpillSlot(parent)
					if ls.traceEnabled(traceDetails) {
						ls.log.Debugf("  spilled unused %s", parent)
					}
				} else {
					parent = nil
				}
			}
		}
		return
	}

	optimal := ls.findOptimalSplitPos(i, minSplitPos, maxSplitPos, false)
	if !ls.fn.IsBlockBegin(optimal) {
		optimal = (optimal - 1) | 1
	}

	spilled := ls.split(i, optimal)
	spilled.state = StateHandled
	ls.assignSpillSlot(spilled)
	ls.changeSpillState(spilled, optimal)
	if !ls.fn.IsBlockBegin(optimal) {
		ls.insertMove(optimal, i, spilled)
	}
	// Needed when the next piece is loaded back.
	ls.makeCurrentSplitChild(spilled)
	if ls.traceEnabled(traceDecisions) {
		ls.log.Debugf("  spilled at %d: %s | %s", optimal, i, spilled)
	}
}

// splitStackInterval splits an interval in memory before its first use.
func (ls *LinearScan) splitStackInterval(i *Interval) {
	minSplitPos := ls.currentPosition + 1
	maxSplitPos := min(i.firstUsage(ShouldHaveRegister), i.to())
	ls.splitBeforeUsage(i, minSplitPos, maxSplitPos)
}

// splitWhenPartialRegisterAvailable splits i, which has a register until registerAvailableUntil.
func (ls *LinearScan) splitWhenPartialRegisterAvailable(i *Interval, registerAvailableUntil int) {
	minSplitPos := max(i.previousUsage(ShouldHaveRegister, registerAvailableUntil), i.from()+1)
	ls.splitBeforeUsage(i, minSplitPos, registerAvailableUntil)
}

// splitAndSpillInterval frees the register of i from the current position on.
func (ls *LinearScan) splitAndSpillInterval(i *Interval) {
	cur := ls.currentPosition
	if i.state == StateInactive {
		// i is in a hole, so its next piece has a new chance to get a register.
		ls.splitBeforeUsage(i, cur+1, cur+1)
		return
	}
	if i.state != StateActive {
		panic(fmt.Sprintf("BUG: splitting and spilling %s interval %s", i.state, i))
	}

	// The next piece starts before the next use needing a register, and is allocated when activated.
	minSplitPos := cur + 1
	maxSplitPos := min(i.nextUsage(MustHaveRegister, minSplitPos), i.to())
	ls.splitBeforeUsage(i, minSplitPos, maxSplitPos)
	ls.splitForSpilling(i)
}

// allocFreeRegister assigns a register which is not used by any other interval at the start of cur, if any.
// It returns false if there is none.
func (ls *LinearScan) allocFreeRegister(cur *Interval) bool {
	ls.initUseLists(true)
	ls.freeExcludeActive(fixedKind)
	ls.freeExcludeActive(anyKind)
	ls.freeCollectInactiveFixed(cur)
	ls.freeCollectInactiveAny(cur)
	ls.freeCollectUnhandledFixed(cur)
	ls.traceRegisterState("free registers", false)

	hint := RealRegInvalid
	if h := ls.locationHintOf(cur, true); h != nil {
		hint = RealReg(h.location.Register())
	}

	regNeededUntil := cur.from() + 1
	intervalTo := cur.to()
	minFullReg, maxPartialReg := RealRegInvalid, RealRegInvalid
	for _, r := range ls.availableRegs {
		usePos := ls.usePos[r]
		if usePos >= intervalTo {
			// Free for the whole interval: keep the registers free the longest for later intervals.
			if minFullReg == RealRegInvalid || r == hint || (usePos < ls.usePos[minFullReg] && minFullReg != hint) {
				minFullReg = r
			}
		} else if usePos > regNeededUntil {
			// Free for a part of the interval: take the longest part.
			if maxPartialReg == RealRegInvalid || r == hint || (usePos > ls.usePos[maxPartialReg] && maxPartialReg != hint) {
				maxPartialReg = r
			}
		}
	}

	var reg RealReg
	needSplit := false
	switch {
	case minFullReg != RealRegInvalid:
		reg = minFullReg
	case maxPartialReg != RealRegInvalid:
		reg, needSplit = maxPartialReg, true
	default:
		return false
	}

	cur.location = reg.location()
	if ls.traceEnabled(traceDecisions) {
		ls.log.Debugf("  free register %s for %s (hint %s, split: %v)", ls.regInfo.regName(int(reg)), cur, hint, needSplit)
	}
	if needSplit {
		ls.splitWhenPartialRegisterAvailable(cur, ls.usePos[reg])
	}
	return true
}

// allocLockedRegister takes the register whose next use is the farthest from the intervals using it, which
// are split and spilled. If the first use of cur is farther, cur is spilled instead.
func (ls *LinearScan) allocLockedRegister(cur *Interval) error {
	ls.initUseLists(false)
	ls.spillExcludeActiveFixed()
	ls.spillBlockUnhandledFixed(cur)
	ls.spillBlockInactiveFixed(cur)
	ls.spillCollectActiveAny()
	ls.spillCollectInactiveAny(cur)
	ls.traceRegisterState("locked registers", true)

	firstUsage := cur.firstUsage(MustHaveRegister)
	regNeededUntil := min(firstUsage, cur.from()+1)
	intervalTo := cur.to()

	ignore := RealRegInvalid
	if cur.location.IsRegister() {
		ignore = RealReg(cur.location.Register())
	}
	reg := RealRegInvalid
	for _, r := range ls.availableRegs {
		if r == ignore {
			continue
		}
		if ls.usePos[r] > regNeededUntil && (reg == RealRegInvalid || ls.usePos[r] > ls.usePos[reg]) {
			reg = r
		}
	}

	if reg == RealRegInvalid || ls.usePos[reg] <= firstUsage {
		// The first use of cur comes before the registers are needed elsewhere: spill cur.
		if firstUsage <= cur.from()+1 {
			// No room to load cur before it is used.
			ls.assignSpillSlot(cur)
			return errors.Wrapf(ErrBailout, "%s: %s needs a register at %d", ls.fn.Name, cur, firstUsage)
		}
		if ls.traceEnabled(traceDecisions) {
			ls.log.Debugf("  no register worth spilling for %s", cur)
		}
		ls.splitAndSpillInterval(cur)
		return nil
	}

	blockPos := ls.blockPos[reg]
	cur.location = reg.location()
	if ls.traceEnabled(traceDecisions) {
		ls.log.Debugf("  locked register %s for %s (blocked at %s)", ls.regInfo.regName(int(reg)), cur, formatPosition(blockPos))
	}
	if blockPos <= intervalTo {
		ls.splitWhenPartialRegisterAvailable(cur, blockPos)
	}
	ls.splitAndSpillIntersectingIntervals(reg)
	return nil
}

func (ls *LinearScan) splitAndSpillIntersectingIntervals(reg RealReg) {
	for _, id := range ls.spillIntervals[reg] {
		i := ls.interval(id)
		ls.removeFromList(i)
		ls.splitAndSpillInterval(i)
	}
}

// noAllocationPossible returns true if cur starts right before a call clobbering every register.
func (ls *LinearScan) noAllocationPossible(cur *Interval) bool {
	if !ls.regInfo.CallsClobberAllRegisters {
		return false
	}
	pos := cur.from()
	return pos&1 == 1 && pos < ls.fn.MaxOpID() && ls.fn.HasCall(pos+1) && cur.to() > pos+1
}

func (ls *LinearScan) initVarsForAlloc(cur *Interval) {
	class := cur.regClass()
	ls.availableRegs = ls.regInfo.AllocatableRegisters[class]
	ls.availableSet = ls.classSets[class]
}

// isMove returns true if instr is a move from the value of from to the value of to.
func isMove(instr *lir.Instr, from, to *Interval) bool {
	if !instr.IsMove() {
		return false
	}
	in, out := instr.Inputs[0], instr.Outputs[0]
	return in.IsVariable() && out.IsVariable() && in.Index == from.operand.Index && out.Index == to.operand.Index
}

// combineSpilledIntervals gives cur the spill slot of its hint when both only exchange their value through a
// move at each end of cur, and the hint is in memory at the first one. This is typical of values flowing
// around a loop.
func (ls *LinearScan) combineSpilledIntervals(cur *Interval) {
	if cur.isSplitChild() {
		return
	}
	hint := ls.locationHintOf(cur, false)
	if hint == nil || hint.IsFixed() {
		return
	}
	if ls.spillState(cur) != SpillNoOptimization || ls.spillState(hint) != SpillNoOptimization {
		return
	}

	beginPos, endPos := cur.from(), cur.to()
	if endPos > ls.fn.MaxOpID() || beginPos&1 != 0 || endPos&1 != 0 {
		return
	}
	if !isMove(ls.fn.InstrForID(beginPos), hint, cur) || !isMove(ls.fn.InstrForID(endPos), cur, hint) {
		return
	}

	beginHint := ls.childAtOpID(hint, beginPos, inputMode)
	endHint := ls.childAtOpID(hint, endPos, outputMode)
	if beginHint == endHint || beginHint.to() != beginPos || endHint.from() != endPos {
		// The hint must be split at both moves.
		return
	}
	if beginHint.location.IsRegister() || !ls.canonicalSpillSlot(hint).IsSet() {
		return
	}
	if len(cur.uses) == 0 || cur.uses[0].pos != beginPos || len(endHint.uses) == 0 || endHint.uses[0].pos != endPos {
		return
	}
	// The slot is shared, so both values must never be live at the same time.
	children := hint.splitChildren
	if len(children) == 0 {
		children = []IntervalID{hint.id}
	}
	for _, id := range children {
		if ls.interval(id).intersectsAt(cur) != -1 {
			return
		}
	}

	ls.setCanonicalSpillSlot(cur, ls.canonicalSpillSlot(hint))
	cur.removeFirstUsePos()
	endHint.removeFirstUsePos()
	if ls.traceEnabled(traceDecisions) {
		ls.log.Debugf("  combined the spill slot of %s with %s", cur, hint)
	}
}

// activateCurrent decides the location of the current interval. It returns true if the interval has a
// register and belongs to the active intervals.
func (ls *LinearScan) activateCurrent() (bool, error) {
	cur := ls.current
	if ls.traceEnabled(traceDecisions) {
		ls.log.Debugf("activating %s at %d", cur, ls.currentPosition)
	}

	listed := true
	switch {
	case cur.location.IsStackSlot():
		// Incoming parameters: load before the first use.
		ls.splitStackInterval(cur)
		listed = false
	case cur.isSplitParent() && cur.operand.IsVariable() && ls.fn.VariableFlags(cur.operand.Variable())&lir.MustStartInMemory != 0:
		// Stored at the definition, maybe loaded later.
		ls.assignSpillSlot(cur)
		ls.splitStackInterval(cur)
		listed = false
	case !cur.location.IsSet():
		ls.combineSpilledIntervals(cur)
		ls.initVarsForAlloc(cur)
		if ls.noAllocationPossible(cur) || !ls.allocFreeRegister(cur) {
			if err := ls.allocLockedRegister(cur); err != nil {
				return false, err
			}
		}
		if !cur.location.IsRegister() {
			listed = false
		}
	}

	// Load values coming back from memory.
	if cur.insertMoveWhenActivated {
		ls.insertMove(cur.from(), ls.currentSplitChild(cur), cur)
	}
	ls.makeCurrentSplitChild(cur)
	return listed, nil
}
