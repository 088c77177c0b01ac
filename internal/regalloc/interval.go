package regalloc

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/acticloud/Maxine-VM/lir"
)

// maxPosition is larger than any position of a function. It is used for "never".
const maxPosition = math.MaxInt32

// UseKind tells how strongly a use position requires a register.
type UseKind byte

const (
	NoUse UseKind = iota
	// LoopEndMarker is not a real use: it marks the end of a loop the value is live across, so that
	// split positions can be moved out of the loop.
	LoopEndMarker
	ShouldHaveRegister
	MustHaveRegister
)

// String implements fmt.Stringer.
func (k UseKind) String() string {
	switch k {
	case LoopEndMarker:
		return "L"
	case ShouldHaveRegister:
		return "S"
	case MustHaveRegister:
		return "M"
	default:
		return "N"
	}
}

// IntervalState is the worklist an interval is on.
type IntervalState byte

const (
	StateUnhandled IntervalState = iota
	StateActive
	StateInactive
	StateHandled
)

// String implements fmt.Stringer.
func (s IntervalState) String() string {
	switch s {
	case StateUnhandled:
		return "unhandled"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	default:
		return "handled"
	}
}

// SpillState tracks where a value has been stored to memory, kept on the split parent.
type SpillState byte

const (
	// SpillNoDefinitionFound is the starting state while definitions are collected.
	SpillNoDefinitionFound SpillState = iota
	// SpillOneDefinitionFound means the value has exactly one definition.
	SpillOneDefinitionFound
	// SpillOneMoveInserted means one spill move has been inserted.
	SpillOneMoveInserted
	// SpillStoreAtDefinition means the value is better stored right after its definition.
	SpillStoreAtDefinition
	// SpillStartInMemory means the value starts in memory, e.g. a parameter.
	SpillStartInMemory
	// SpillNoOptimization means the value has several definitions, e.g. from moves at control flow merges.
	SpillNoOptimization
)

// String implements fmt.Stringer.
func (s SpillState) String() string {
	switch s {
	case SpillNoDefinitionFound:
		return "no-definition"
	case SpillOneDefinitionFound:
		return "one-definition"
	case SpillOneMoveInserted:
		return "one-move"
	case SpillStoreAtDefinition:
		return "store-at-definition"
	case SpillStartInMemory:
		return "start-in-memory"
	default:
		return "no-optimization"
	}
}

// operandMode selects how the end of an interval is treated when looking for the split child at a position.
type operandMode byte

const (
	// inputMode includes the end position since a value is read at the id its range ends at.
	inputMode operandMode = iota
	outputMode
)

// IntervalID is the index of an Interval in the arena of LinearScan.
type IntervalID int32

const noInterval IntervalID = -1

// liveRange is the half-open range [from, to) of positions.
type liveRange struct {
	from, to int
}

// usePosition is a position where the value is referenced.
type usePosition struct {
	pos  int
	kind UseKind
}

// Interval is the live range of one value, or of one part of it once split.
//
// Split children share the operand of their split parent. Cross references between intervals (parent,
// children, hint) are IntervalIDs into the arena of LinearScan.
type Interval struct {
	id IntervalID
	// operand is the value this interval belongs to: either a variable or a fixed register.
	operand  lir.Operand
	kind     lir.Kind
	byteOnly bool

	// ranges are sorted and disjoint. current is the index of the range the walker is at.
	ranges  []liveRange
	current int
	// uses are sorted by position.
	uses []usePosition

	location lir.Location
	state    IntervalState

	splitParent IntervalID
	// splitChildren is only maintained on split parents. Once non-empty, it starts with the parent itself.
	splitChildren     []IntervalID
	currentSplitChild IntervalID
	locationHint      IntervalID

	// The followings are only meaningful on split parents.
	canonicalSpillSlot lir.Location
	spillState         SpillState
	spillDefinitionPos int

	insertMoveWhenActivated bool
}

// ID returns the IntervalID of this interval.
func (i *Interval) ID() IntervalID { return i.id }

// Operand returns the value this interval belongs to.
func (i *Interval) Operand() lir.Operand { return i.operand }

// Location returns the location assigned to this interval.
func (i *Interval) Location() lir.Location { return i.location }

// IsFixed returns true if this interval is pinned to a physical register.
func (i *Interval) IsFixed() bool { return i.operand.IsRegister() }

func (i *Interval) isSplitParent() bool { return i.splitParent == i.id }

func (i *Interval) isSplitChild() bool { return i.splitParent != i.id }

func (i *Interval) regClass() RegClass { return RegClassOf(i.kind, i.byteOnly) }

func (i *Interval) from() int {
	if len(i.ranges) == 0 {
		panic(fmt.Sprintf("BUG: interval %d has no range", i.id))
	}
	return i.ranges[0].from
}

func (i *Interval) to() int {
	if len(i.ranges) == 0 {
		panic(fmt.Sprintf("BUG: interval %d has no range", i.id))
	}
	return i.ranges[len(i.ranges)-1].to
}

func (i *Interval) isEmpty() bool { return len(i.ranges) == 0 }

func (i *Interval) currentFrom() int {
	if i.current >= len(i.ranges) {
		return maxPosition
	}
	return i.ranges[i.current].from
}

func (i *Interval) currentTo() int {
	if i.current >= len(i.ranges) {
		return maxPosition
	}
	return i.ranges[i.current].to
}

func (i *Interval) currentAtEnd() bool { return i.current >= len(i.ranges) }

func (i *Interval) nextRange() { i.current++ }

func (i *Interval) rewindRange() { i.current = 0 }

// addRange adds [from, to) in front of the ranges. Ranges are built backwards, so the new range either
// precedes or overlaps the first one.
func (i *Interval) addRange(from, to int) {
	if from >= to {
		panic(fmt.Sprintf("BUG: invalid range [%d, %d)", from, to))
	}
	if len(i.ranges) == 0 {
		i.ranges = append(i.ranges, liveRange{from: from, to: to})
		return
	}
	first := &i.ranges[0]
	if first.from <= to {
		if from < first.from {
			first.from = from
		}
		if to > first.to {
			first.to = to
		}
		return
	}
	i.ranges = append(i.ranges, liveRange{})
	copy(i.ranges[1:], i.ranges)
	i.ranges[0] = liveRange{from: from, to: to}
}

// setFrom moves the start of the first range to a definition.
func (i *Interval) setFrom(from int) {
	i.ranges[0].from = from
}

// addUsePos records a use position. Positions without use and positions of fixed intervals are not recorded.
func (i *Interval) addUsePos(pos int, kind UseKind) {
	if kind == NoUse || !i.operand.IsVariable() {
		return
	}
	index := sort.Search(len(i.uses), func(j int) bool { return i.uses[j].pos >= pos })
	if index < len(i.uses) && i.uses[index].pos == pos {
		if i.uses[index].kind < kind {
			i.uses[index].kind = kind
		}
		return
	}
	i.uses = append(i.uses, usePosition{})
	copy(i.uses[index+1:], i.uses[index:])
	i.uses[index] = usePosition{pos: pos, kind: kind}
}

// nextUsage returns the first use position at or after from whose kind is at least minKind.
func (i *Interval) nextUsage(minKind UseKind, from int) int {
	for _, u := range i.uses {
		if u.pos >= from && u.kind >= minKind {
			return u.pos
		}
	}
	return maxPosition
}

// nextUsageExact is like nextUsage but only considers uses of exactly the given kind.
func (i *Interval) nextUsageExact(kind UseKind, from int) int {
	for _, u := range i.uses {
		if u.pos >= from && u.kind == kind {
			return u.pos
		}
	}
	return maxPosition
}

// previousUsage returns the last use position at or before from whose kind is at least minKind, or zero.
func (i *Interval) previousUsage(minKind UseKind, from int) int {
	prev := 0
	for _, u := range i.uses {
		if u.pos > from {
			break
		}
		if u.kind >= minKind {
			prev = u.pos
		}
	}
	return prev
}

func (i *Interval) firstUsage(minKind UseKind) int {
	return i.nextUsage(minKind, i.from())
}

func (i *Interval) removeFirstUsePos() {
	i.uses = i.uses[1:]
}

// covers returns true if pos is inside one of the ranges. In inputMode the end of a range is included.
func (i *Interval) covers(pos int, mode operandMode) bool {
	for _, r := range i.ranges {
		if r.from <= pos && (pos < r.to || (mode == inputMode && pos == r.to)) {
			return true
		}
	}
	return false
}

// hasHoleBetween returns true if the interval is not live somewhere in [holeFrom, holeTo).
func (i *Interval) hasHoleBetween(holeFrom, holeTo int) bool {
	for _, r := range i.ranges {
		switch {
		case holeFrom < r.from:
			// The hole starts before this range.
			return true
		case holeTo <= r.to:
			// The hole is completely inside this range.
			return false
		case holeFrom <= r.to:
			// The hole overlaps the end of this range.
			return true
		}
	}
	return false
}

// intersectsAt returns the first position where both intervals are live, or -1.
func (i *Interval) intersectsAt(other *Interval) int {
	return rangesIntersectAt(i.ranges, other.ranges)
}

// currentIntersectsAt is like intersectsAt but starts from the current range of this interval.
func (i *Interval) currentIntersectsAt(other *Interval) int {
	if i.currentAtEnd() {
		return -1
	}
	return rangesIntersectAt(i.ranges[i.current:], other.ranges)
}

func (i *Interval) currentIntersects(other *Interval) bool {
	return i.currentIntersectsAt(other) != -1
}

func rangesIntersectAt(r1, r2 []liveRange) int {
	for len(r1) > 0 && len(r2) > 0 {
		a, b := r1[0], r2[0]
		switch {
		case a.from < b.from:
			if a.to <= b.from {
				r1 = r1[1:]
			} else {
				return b.from
			}
		case b.from < a.from:
			if b.to <= a.from {
				r2 = r2[1:]
			} else {
				return a.from
			}
		case a.from == a.to:
			r1 = r1[1:]
		case b.from == b.to:
			r2 = r2[1:]
		default:
			return a.from
		}
	}
	return -1
}

// cutAt moves the ranges and use positions at and after pos into right. The left part keeps everything
// before pos.
func (i *Interval) cutAt(pos int, right *Interval) {
	index := 0
	for index < len(i.ranges) && i.ranges[index].to <= pos {
		index++
	}
	if index == len(i.ranges) {
		panic(fmt.Sprintf("BUG: splitting interval %d at %d after the end of its last range", i.id, pos))
	}
	if cur := i.ranges[index]; cur.from < pos {
		right.ranges = append(right.ranges, liveRange{from: pos, to: cur.to})
		right.ranges = append(right.ranges, i.ranges[index+1:]...)
		i.ranges[index].to = pos
		i.ranges = i.ranges[:index+1]
	} else {
		if index == 0 {
			panic(fmt.Sprintf("BUG: splitting interval %d at %d before the start of its first range", i.id, pos))
		}
		right.ranges = append(right.ranges, i.ranges[index:]...)
		i.ranges = i.ranges[:index]
	}
	right.current = 0

	usesIndex := sort.Search(len(i.uses), func(j int) bool { return i.uses[j].pos >= pos })
	right.uses = append(right.uses, i.uses[usesIndex:]...)
	i.uses = i.uses[:usesIndex:usesIndex]
}

// String implements fmt.Stringer.
func (i *Interval) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "i%d(%s) %s", i.id, i.operand, i.location)
	for _, r := range i.ranges {
		fmt.Fprintf(&b, " [%d,%d)", r.from, r.to)
	}
	if len(i.uses) > 0 {
		b.WriteString(" uses")
		for _, u := range i.uses {
			fmt.Fprintf(&b, " %d:%s", u.pos, u.kind)
		}
	}
	if i.isSplitChild() {
		fmt.Fprintf(&b, " parent=i%d", i.splitParent)
	}
	return b.String()
}
