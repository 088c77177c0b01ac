package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acticloud/Maxine-VM/lir"
)

type testMove struct {
	v        lir.Variable
	from, to lir.Location
}

func movesOf(instrs []*lir.Instr) (ret []testMove) {
	for _, instr := range instrs {
		if instr.IsMove() && instr.ID == -1 {
			ret = append(ret, testMove{v: instr.Outputs[0].Variable(), from: instr.Inputs[0].Location, to: instr.Outputs[0].Location})
		}
	}
	return
}

func TestMoveResolver_resolveMappings(t *testing.T) {
	r1, r2, r3 := lir.RegisterLocation(1), lir.RegisterLocation(2), lir.RegisterLocation(3)
	s0 := lir.StackSlotLocation(0)

	// Each mapping moves the value of variable k from locations[k][0] to locations[k][1].
	for _, tc := range []struct {
		name      string
		locations [][2]lir.Location
		exp       []testMove
	}{
		{
			name:      "independent",
			locations: [][2]lir.Location{{r1, r2}, {s0, r3}},
			exp:       []testMove{{0, r1, r2}, {1, s0, r3}},
		},
		{
			name:      "same location",
			locations: [][2]lir.Location{{r1, r1}, {r2, r3}},
			exp:       []testMove{{1, r2, r3}},
		},
		{
			name:      "chain",
			locations: [][2]lir.Location{{r1, r2}, {r2, r3}},
			exp:       []testMove{{1, r2, r3}, {0, r1, r2}},
		},
		{
			name:      "store and load of the same register",
			locations: [][2]lir.Location{{s0, r1}, {r1, lir.StackSlotLocation(1)}},
			exp:       []testMove{{1, r1, lir.StackSlotLocation(1)}, {0, s0, r1}},
		},
		{
			name:      "swap",
			locations: [][2]lir.Location{{r1, r2}, {r2, r1}},
			// The first variable has no spill slot yet: it gets the first free one.
			exp: []testMove{{0, r1, lir.StackSlotLocation(2)}, {1, r2, r1}, {0, lir.StackSlotLocation(2), r2}},
		},
		{
			name:      "rotation",
			locations: [][2]lir.Location{{r1, r2}, {r2, r3}, {r3, r1}},
			exp: []testMove{
				{0, r1, lir.StackSlotLocation(2)},
				{2, r3, r1},
				{1, r2, r3},
				{0, lir.StackSlotLocation(2), r2},
			},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fn := newStraightLineFunction(4, len(tc.locations))
			hb := make([]handBuiltInterval, len(tc.locations))
			for k := range hb {
				hb[k] = handBuiltInterval{ranges: []liveRange{{0, 6}}}
			}
			ls, intervals := newHandBuiltLinearScan(fn, testRegisterInfo(3), hb...)
			// Slots 0 and 1 are taken.
			ls.nextSpillSlot = 2

			ls.moves.moveInsertPosition(fn.BlockAt(0), 2)
			for k, i := range intervals {
				child := ls.split(i, 3)
				i.location, child.location = tc.locations[k][0], tc.locations[k][1]
				ls.moves.addMapping(i, child)
			}
			ls.moves.resolveAndAppendMoves()

			instrs := fn.BlockAt(0).Instrs()
			require.Equal(t, tc.exp, movesOf(instrs))
			require.Equal(t, len(tc.exp), ls.stats.InsertedMoves)
			// The moves are inserted before the instruction at index 2, whose id is 4.
			require.Equal(t, 4, instrs[len(tc.exp)+2].ID)
			require.Empty(t, ls.moves.queue)
		})
	}
}

func TestMoveResolver_resolveAndAppendMoves(t *testing.T) {
	fn := newStraightLineFunction(4, 2)
	ls, intervals := newHandBuiltLinearScan(fn, testRegisterInfo(2),
		handBuiltInterval{ranges: []liveRange{{0, 6}}},
		handBuiltInterval{ranges: []liveRange{{0, 6}}},
	)
	a, b := intervals[0], intervals[1]
	a.location, b.location = lir.RegisterLocation(1), lir.RegisterLocation(2)
	a1, b1 := ls.split(a, 1), ls.split(b, 3)
	a1.location, b1.location = lir.StackSlotLocation(0), lir.StackSlotLocation(1)

	blk := fn.BlockAt(0)
	ls.moves.moveInsertPosition(blk, 1)
	ls.moves.addMapping(a, a1)
	ls.moves.moveInsertPosition(blk, 2)
	ls.moves.addMapping(b, b1)
	ls.moves.resolveAndAppendMoves()

	var got []int
	for _, instr := range blk.Instrs() {
		got = append(got, instr.ID)
	}
	require.Equal(t, []int{0, -1, 2, -1, 4, 6}, got)
	require.Equal(t, []testMove{
		{0, lir.RegisterLocation(1), lir.StackSlotLocation(0)},
		{1, lir.RegisterLocation(2), lir.StackSlotLocation(1)},
	}, movesOf(blk.Instrs()))
	require.Equal(t, 2, ls.stats.InsertedMoves)

	t.Run("without insertion position", func(t *testing.T) {
		require.Panics(t, func() { ls.moves.addMapping(a, a1) })
	})
}
