package regalloc

import (
	"fmt"

	"github.com/acticloud/Maxine-VM/lir"
)

// resolveDataFlow inserts the moves needed on control flow edges: a value split inside a block may live in
// different locations at the end of a predecessor and at the begin of a successor.
//
// The moves of each edge are inserted before the next edge is looked at: a block without instructions can
// receive the moves of its incoming and of its outgoing edge at the same index.
func (ls *LinearScan) resolveDataFlow() {
	for _, from := range ls.fn.Blocks() {
		for _, to := range from.Succs() {
			ls.resolveEdge(from, to)
			ls.moves.resolveAndAppendMoves()
		}
	}
}

func (ls *LinearScan) resolveEdge(from, to *lir.Block) {
	positioned := false
	ls.blockInfos[to.Index()].liveIn.scan(func(v uint) {
		parent := ls.varInterval(lir.Variable(v))
		if len(parent.splitChildren) == 0 {
			return
		}
		fromChild := ls.childAtOpID(parent, from.LastID()+1, outputMode)
		toChild := ls.childAtOpID(parent, to.FirstID(), outputMode)
		if fromChild == toChild || fromChild.location == toChild.location {
			return
		}
		if !positioned {
			ls.edgeMoveInsertPosition(from, to)
			positioned = true
		}
		ls.moves.addMapping(fromChild, toChild)
	})
}

func (ls *LinearScan) edgeMoveInsertPosition(from, to *lir.Block) {
	switch {
	case len(from.Succs()) == 1:
		instrs := from.Instrs()
		index := len(instrs)
		if instrs[index-1].IsBlockEnd() {
			index--
		}
		ls.moves.moveInsertPosition(from, index)
	case len(to.Preds()) == 1:
		ls.moves.moveInsertPosition(to, 1)
	default:
		panic(fmt.Sprintf("BUG: critical edge from block %d to block %d needs moves", from.Index(), to.Index()))
	}
}
