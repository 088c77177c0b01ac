// Package regalloc performs linear scan register allocation on lir.Function.
//
// Every value gets an Interval made of live ranges and use positions. The intervals are walked in order of
// their start position: each one gets a free register, or a register taken from intervals which are split
// and spilled, or a stack slot. Moves between the pieces of split intervals are resolved once at the end.
package regalloc

// References:
// * Wimmer, Mössenböck: Optimized Interval Splitting in a Linear Scan Register Allocator (VEE 2005).
// * Wimmer, Franz: Linear Scan Register Allocation on SSA Form (CGO 2010), for the data flow resolution.

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/acticloud/Maxine-VM/internal/lsraapi"
	"github.com/acticloud/Maxine-VM/lir"
)

// Options configures a LinearScan.
type Options struct {
	// TraceLevel is the verbosity of the trace written to Logger: 0 disables it, 1 traces the phases,
	// 2 the decision taken for every interval, 4 the register states and the split positions.
	TraceLevel int
	// Logger receives the trace at debug level. Nil disables the trace.
	Logger *logrus.Entry
	// Validate runs the verification of the allocated function.
	Validate bool
}

// Stats are counters of one allocation.
type Stats struct {
	// Intervals is the number of intervals built from the function, fixed ones included.
	Intervals int
	// SplitChildren is the number of intervals created by splitting.
	SplitChildren int
	// SpilledIntervals is the number of intervals, split children included, living in a stack slot.
	SpilledIntervals int
	// InsertedMoves is the number of moves inserted by the allocator.
	InsertedMoves int
	// RemovedMoves is the number of moves removed because their input and output got the same location.
	RemovedMoves int
}

// LinearScan is the allocation context of one function. It is not safe for concurrent use.
type LinearScan struct {
	fn         *lir.Function
	regInfo    *RegisterInfo
	log        *logrus.Entry
	traceLevel int
	validate   bool

	intervals lsraapi.Arena[Interval]
	// fixedIntervals is indexed by RealReg. Only allocatable registers have a fixed interval.
	fixedIntervals [RealRegsNumMax]IntervalID
	// varIntervals is indexed by lir.Variable.
	varIntervals []IntervalID
	// allocatable is the union of the allocatable registers of every RegClass.
	allocatable RegSet
	classSets   [NumRegClass]RegSet

	blockInfos []blockInfo
	// loopVars is indexed by loop index: the variables referenced in the loop.
	loopVars   []*bitset
	blockStack []*lir.Block

	// Stack slots below firstSpillSlot are the incoming parameters.
	firstSpillSlot, nextSpillSlot int

	// Walker state. See walker.go.
	unhandled, active, inactive [numIntervalKinds][]IntervalID
	current                     *Interval
	currentKind                 intervalKind
	currentPosition             int
	movedScratch                []IntervalID

	// Register state of the current decision. See linear_scan_walker.go.
	availableRegs    []RealReg
	availableSet     RegSet
	usePos, blockPos [RealRegsNumMax]int
	spillIntervals   [RealRegsNumMax][]IntervalID

	moves moveResolver
	stats Stats
}

// NewLinearScan returns a LinearScan allocating the registers of fn.
func NewLinearScan(fn *lir.Function, info *RegisterInfo, opts Options) *LinearScan {
	ls := &LinearScan{
		fn:         fn,
		regInfo:    info,
		log:        opts.Logger,
		traceLevel: opts.TraceLevel,
		validate:   opts.Validate,
	}
	if ls.log == nil {
		ls.traceLevel = 0
	}
	for class, regs := range info.AllocatableRegisters {
		ls.classSets[class] = NewRegSet(regs...)
		ls.allocatable |= ls.classSets[class]
	}
	ls.moves.ls = ls
	return ls
}

// Stats returns the counters of the last allocation.
func (ls *LinearScan) Stats() Stats { return ls.stats }

// SpillSlots returns the number of stack slots allocated for spilling, not counting incoming parameters.
func (ls *LinearScan) SpillSlots() int { return ls.nextSpillSlot - ls.firstSpillSlot }

// Allocate assigns a location to every variable operand of the function and inserts the moves between
// locations. The returned error wraps ErrBailout if the function cannot be allocated, and
// ErrInvalidAllocation if the verification fails.
func (ls *LinearScan) Allocate() error {
	ls.reset()
	ls.fn.Number()
	ls.tracePhase("numbered %d blocks, max op id %d", ls.fn.BlockCount(), ls.fn.MaxOpID())

	ls.computeLocalLiveSets()
	ls.computeGlobalLiveSets()
	ls.buildIntervals()
	ls.tracePhase("built %d intervals", ls.stats.Intervals)
	if lsraapi.RegAllocLoggingEnabled {
		fmt.Printf("intervals of %s before the walk:\n%s\n", ls.fn.Name, ls.formatIntervals())
	}

	ls.createUnhandledLists()
	if err := ls.walk(); err != nil {
		return err
	}
	ls.finishAllocation()
	ls.tracePhase("walked: %d split children, %d spill slots", ls.stats.SplitChildren, ls.SpillSlots())
	if lsraapi.RegAllocLoggingEnabled {
		fmt.Printf("intervals of %s after the walk:\n%s\n", ls.fn.Name, ls.formatIntervals())
	}

	ls.resolveDataFlow()
	ls.assignLocations()
	ls.tracePhase("assigned locations: %d moves inserted, %d removed", ls.stats.InsertedMoves, ls.stats.RemovedMoves)
	if lsraapi.PrintAllocatedFunction {
		fmt.Println(ls.fn.Format(ls.regInfo.regName))
	}

	if ls.validate {
		return ls.verify()
	}
	return nil
}

func (ls *LinearScan) reset() {
	ls.intervals.Reset()
	for i := range ls.fixedIntervals {
		ls.fixedIntervals[i] = noInterval
	}
	ls.varIntervals = ls.varIntervals[:0]
	for i := 0; i < ls.fn.NumVariables(); i++ {
		ls.varIntervals = append(ls.varIntervals, noInterval)
	}
	ls.blockInfos = ls.blockInfos[:0]
	ls.firstSpillSlot, ls.nextSpillSlot = 0, 0
	for k := range ls.unhandled {
		ls.unhandled[k] = ls.unhandled[k][:0]
		ls.active[k] = ls.active[k][:0]
		ls.inactive[k] = ls.inactive[k][:0]
	}
	ls.current = nil
	ls.currentPosition = -1
	ls.moves.reset()
	ls.stats = Stats{}
}

func (ls *LinearScan) interval(id IntervalID) *Interval {
	return ls.intervals.View(int(id))
}

func (ls *LinearScan) newInterval(operand lir.Operand, kind lir.Kind, byteOnly bool) *Interval {
	i, index := ls.intervals.Allocate()
	id := IntervalID(index)
	*i = Interval{
		id:                id,
		operand:           operand,
		kind:              kind,
		byteOnly:          byteOnly,
		splitParent:       id,
		currentSplitChild: id,
		locationHint:      noInterval,
	}
	return i
}

// varInterval returns the interval of v, creating it on the first call.
func (ls *LinearScan) varInterval(v lir.Variable) *Interval {
	if id := ls.varIntervals[v]; id != noInterval {
		return ls.interval(id)
	}
	flags := ls.fn.VariableFlags(v)
	i := ls.newInterval(lir.Var(v), ls.fn.VariableKind(v), flags&lir.MustBeByteRegister != 0)
	ls.varIntervals[v] = i.id
	ls.stats.Intervals++
	return i
}

// fixedInterval returns the interval of the register r, creating it on the first call. It returns nil for
// registers which are not allocatable.
func (ls *LinearScan) fixedInterval(r RealReg) *Interval {
	if !ls.allocatable.has(r) {
		return nil
	}
	if id := ls.fixedIntervals[r]; id != noInterval {
		return ls.interval(id)
	}
	kind := lir.KindInt
	for _, f := range ls.regInfo.AllocatableRegisters[RegClassFloat] {
		if f == r {
			kind = lir.KindFloat
		}
	}
	i := ls.newInterval(lir.Reg(int(r)), kind, false)
	i.location = r.location()
	ls.fixedIntervals[r] = i.id
	ls.stats.Intervals++
	return i
}

// split cuts i at pos and returns the new split child holding the part from pos on.
func (ls *LinearScan) split(i *Interval, pos int) *Interval {
	parent := ls.interval(i.splitParent)
	child := ls.newInterval(i.operand, i.kind, i.byteOnly)
	child.splitParent = parent.id
	child.locationHint = parent.id
	if len(parent.splitChildren) == 0 {
		parent.splitChildren = append(parent.splitChildren, parent.id)
	}
	parent.splitChildren = append(parent.splitChildren, child.id)
	i.cutAt(pos, child)
	ls.stats.SplitChildren++
	return child
}

// childAtOpID returns the split child of parent which holds the value at opID.
func (ls *LinearScan) childAtOpID(parent *Interval, opID int, mode operandMode) *Interval {
	if !parent.isSplitParent() {
		panic(fmt.Sprintf("BUG: %s is not a split parent", parent))
	}
	if len(parent.splitChildren) == 0 {
		return parent
	}
	toOffset := 0
	if mode == inputMode {
		toOffset = 1
	}
	for _, id := range parent.splitChildren {
		child := ls.interval(id)
		if child.from() <= opID && opID < child.to()+toOffset {
			return child
		}
	}
	panic(fmt.Sprintf("BUG: no split child of %s covers %d", parent, opID))
}

// childBeforeOpID returns the split child of the same value which ends last at or before opID.
func (ls *LinearScan) childBeforeOpID(i *Interval, opID int) *Interval {
	parent := ls.interval(i.splitParent)
	var result *Interval
	for k := len(parent.splitChildren) - 1; k >= 0; k-- {
		child := ls.interval(parent.splitChildren[k])
		if child.to() <= opID && (result == nil || result.to() < child.to()) {
			result = child
		}
	}
	if result == nil {
		panic(fmt.Sprintf("BUG: no split child of %s before %d", parent, opID))
	}
	return result
}

// locationHintOf returns the interval whose location i should preferably get. With searchSplitChild, only
// an interval with a register is returned, possibly a split child of the hint.
func (ls *LinearScan) locationHintOf(i *Interval, searchSplitChild bool) *Interval {
	if i.locationHint == noInterval {
		return nil
	}
	hint := ls.interval(i.locationHint)
	if !searchSplitChild {
		return hint
	}
	if hint.location.IsRegister() {
		return hint
	}
	for _, id := range hint.splitChildren {
		if child := ls.interval(id); child.location.IsRegister() {
			return child
		}
	}
	return nil
}

func (ls *LinearScan) canonicalSpillSlot(i *Interval) lir.Location {
	return ls.interval(i.splitParent).canonicalSpillSlot
}

func (ls *LinearScan) setCanonicalSpillSlot(i *Interval, slot lir.Location) {
	ls.interval(i.splitParent).canonicalSpillSlot = slot
}

func (ls *LinearScan) allocateSpillSlot() lir.Location {
	slot := lir.StackSlotLocation(ls.nextSpillSlot)
	ls.nextSpillSlot++
	return slot
}

// assignSpillSlot moves i to the canonical spill slot of its value, allocating it if necessary.
func (ls *LinearScan) assignSpillSlot(i *Interval) {
	slot := ls.canonicalSpillSlot(i)
	if !slot.IsSet() {
		slot = ls.allocateSpillSlot()
		ls.setCanonicalSpillSlot(i, slot)
	}
	i.location = slot
}

func (ls *LinearScan) spillState(i *Interval) SpillState {
	return ls.interval(i.splitParent).spillState
}

// changeSpillDefinitionPos records a definition of the value of i at defPos.
func (ls *LinearScan) changeSpillDefinitionPos(i *Interval, defPos int) {
	parent := ls.interval(i.splitParent)
	switch parent.spillState {
	case SpillNoDefinitionFound:
		parent.spillDefinitionPos = defPos
		parent.spillState = SpillOneDefinitionFound
	case SpillOneDefinitionFound:
		// Definitions are visited backwards. Two definitions by consecutive instructions count as one.
		if defPos < parent.spillDefinitionPos-2 {
			parent.spillState = SpillNoOptimization
		}
	}
}

// changeSpillState records that i is spilled at spillPos.
func (ls *LinearScan) changeSpillState(i *Interval, spillPos int) {
	parent := ls.interval(i.splitParent)
	switch parent.spillState {
	case SpillOneDefinitionFound:
		defDepth := ls.fn.BlockForID(parent.spillDefinitionPos).LoopDepth
		spillDepth := ls.fn.BlockForID(spillPos).LoopDepth
		if defDepth < spillDepth {
			parent.spillState = SpillStoreAtDefinition
		} else {
			parent.spillState = SpillOneMoveInserted
		}
	case SpillOneMoveInserted:
		parent.spillState = SpillStoreAtDefinition
	}
}

func (ls *LinearScan) currentSplitChild(i *Interval) *Interval {
	return ls.interval(ls.interval(i.splitParent).currentSplitChild)
}

func (ls *LinearScan) makeCurrentSplitChild(i *Interval) {
	ls.interval(i.splitParent).currentSplitChild = i.id
}

// createUnhandledLists sorts the intervals by start position, fixed ones and the others apart.
func (ls *LinearScan) createUnhandledLists() {
	for id := 0; id < ls.intervals.Len(); id++ {
		i := ls.interval(IntervalID(id))
		if i.isEmpty() {
			continue
		}
		kind := anyKind
		if i.IsFixed() {
			kind = fixedKind
		}
		ls.unhandled[kind] = append(ls.unhandled[kind], i.id)
	}
	for k := range ls.unhandled {
		list := ls.unhandled[k]
		sort.SliceStable(list, func(a, b int) bool {
			return ls.interval(list[a]).from() < ls.interval(list[b]).from()
		})
	}
}

// finishAllocation inserts the moves requested during the walk.
func (ls *LinearScan) finishAllocation() {
	ls.moves.resolveAndAppendMoves()
}

func (ls *LinearScan) formatIntervals() string {
	var b strings.Builder
	for id := 0; id < ls.intervals.Len(); id++ {
		i := ls.interval(IntervalID(id))
		if i.isEmpty() {
			continue
		}
		b.WriteString(i.String())
		if i.location.IsRegister() {
			fmt.Fprintf(&b, " (%s)", ls.regInfo.regName(i.location.Register()))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
