package regalloc

import (
	"fmt"
	"sort"

	"github.com/acticloud/Maxine-VM/internal/lsraapi"
	"github.com/acticloud/Maxine-VM/lir"
)

// moveMapping requests the transfer of a value from the location of one interval to the location of another,
// before the instruction at index in block.
type moveMapping struct {
	block    *lir.Block
	index    int
	from, to IntervalID
}

// moveResolver queues the mappings requested while walking and resolves them into moves at the end. All the
// mappings of one insertion point happen at once, so they are ordered such that no location is overwritten
// before it is read.
type moveResolver struct {
	ls *LinearScan

	block *lir.Block
	index int
	queue []moveMapping

	// Scratch buffers of resolveMappings.
	pending []pendingMove
	blocked map[lir.Location]int
}

type pendingMove struct {
	operand  lir.Operand
	from, to lir.Location
}

type insertPoint struct {
	block *lir.Block
	index int
}

func (r *moveResolver) reset() {
	r.block, r.index = nil, 0
	r.queue = r.queue[:0]
}

// moveInsertPosition sets the insertion point of the following mappings: before the instruction at index.
func (r *moveResolver) moveInsertPosition(block *lir.Block, index int) {
	r.block, r.index = block, index
}

// addMapping requests a move from the location of from to the location of to at the current insertion point.
// The locations are read when the moves are resolved, so they may still change until then.
func (r *moveResolver) addMapping(from, to *Interval) {
	if r.block == nil {
		panic("BUG: mapping added without insertion position")
	}
	r.queue = append(r.queue, moveMapping{block: r.block, index: r.index, from: from.id, to: to.id})
}

// resolveAndAppendMoves resolves all queued mappings and inserts the moves into the blocks.
func (r *moveResolver) resolveAndAppendMoves() {
	if len(r.queue) == 0 {
		return
	}

	var points []insertPoint
	groups := make(map[insertPoint][]moveMapping)
	for _, m := range r.queue {
		p := insertPoint{block: m.block, index: m.index}
		if _, ok := groups[p]; !ok {
			points = append(points, p)
		}
		groups[p] = append(groups[p], m)
	}

	type insertion struct {
		index  int
		instrs []*lir.Instr
	}
	insertions := make(map[*lir.Block][]insertion)
	for _, p := range points {
		instrs := r.resolveMappings(groups[p])
		if len(instrs) > 0 {
			insertions[p.block] = append(insertions[p.block], insertion{index: p.index, instrs: instrs})
			r.ls.stats.InsertedMoves += len(instrs)
		}
	}

	for _, blk := range r.ls.fn.Blocks() {
		list := insertions[blk]
		// Inserting from the end keeps the indexes of the remaining insertions valid.
		sort.SliceStable(list, func(i, j int) bool { return list[i].index > list[j].index })
		for _, ins := range list {
			blk.InsertBefore(ins.index, ins.instrs...)
		}
	}
	r.reset()
}

// resolveMappings orders the moves of one insertion point. A move is emitted once no other pending move
// reads its destination. A cycle of registers is broken by storing one of them to the spill slot of its
// value, and moving from there later.
func (r *moveResolver) resolveMappings(mappings []moveMapping) []*lir.Instr {
	if r.blocked == nil {
		r.blocked = make(map[lir.Location]int)
	}
	for k := range r.blocked {
		delete(r.blocked, k)
	}
	pending := r.pending[:0]
	for _, m := range mappings {
		from, to := r.ls.interval(m.from), r.ls.interval(m.to)
		if !from.location.IsSet() || !to.location.IsSet() {
			panic(fmt.Sprintf("BUG: move between %s and %s without location", from, to))
		}
		if from.location == to.location {
			continue
		}
		pending = append(pending, pendingMove{operand: to.operand, from: from.location, to: to.location})
		r.blocked[from.location]++
	}
	if lsraapi.RegAllocValidationEnabled {
		dsts := make(map[lir.Location]struct{}, len(pending))
		for _, m := range pending {
			if _, ok := dsts[m.to]; ok {
				panic(fmt.Sprintf("BUG: several moves to %s at the same position", m.to))
			}
			dsts[m.to] = struct{}{}
		}
	}

	var out []*lir.Instr
	for len(pending) > 0 {
		progress := false
		for k := 0; k < len(pending); {
			m := pending[k]
			if r.blocked[m.to] > 0 {
				k++
				continue
			}
			out = append(out, newMove(m.operand, m.from, m.to))
			r.blocked[m.from]--
			pending = append(pending[:k], pending[k+1:]...)
			progress = true
		}
		if progress {
			continue
		}

		// Every destination is still read by another move: break the cycle.
		spill := -1
		for k, m := range pending {
			if m.from.IsRegister() {
				spill = k
				break
			}
		}
		if spill == -1 {
			panic(fmt.Sprintf("BUG: cycle of moves between stack slots: %v", pending))
		}
		m := &pending[spill]
		slot := r.spillSlotOf(m.operand)
		out = append(out, newMove(m.operand, m.from, slot))
		r.blocked[m.from]--
		r.blocked[slot]++
		m.from = slot
	}
	r.pending = pending
	return out
}

// spillSlotOf returns the canonical spill slot of the value of operand, allocating it if necessary.
func (r *moveResolver) spillSlotOf(operand lir.Operand) lir.Location {
	parent := r.ls.varInterval(operand.Variable())
	if !parent.canonicalSpillSlot.IsSet() {
		parent.canonicalSpillSlot = r.ls.allocateSpillSlot()
	}
	return parent.canonicalSpillSlot
}

func newMove(operand lir.Operand, from, to lir.Location) *lir.Instr {
	dst, src := operand, operand
	dst.Location, src.Location = to, from
	src.StackAllowed = true
	return &lir.Instr{ID: -1, Op: lir.OpMove, Outputs: []lir.Operand{dst}, Inputs: []lir.Operand{src}}
}
