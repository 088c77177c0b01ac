package regalloc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/acticloud/Maxine-VM/lir"
)

// programGen builds a function from a list of choices: the same choices build the same function. The
// control flow is a sequence of straight code, diamonds and loops without critical edges.
type programGen struct {
	choices []int
	next    int
	fn      *lir.Function
	loops   int
}

func buildRandomFunction(choices []int) *lir.Function {
	g := &programGen{choices: choices, fn: lir.NewFunction("random")}
	entry := g.fn.NewBlock()
	var scope []lir.Variable
	for slot := g.pick(3) - 1; slot >= 0; slot-- {
		p := g.fn.NewVariable(lir.KindInt, 0)
		entry.Move(lir.Var(p), lir.Slot(slot))
		scope = append(scope, p)
	}
	v := g.newVariable()
	entry.Compute(lir.Var(v))
	scope = append(scope, v)

	cur := entry
	for n := g.pick(4); n > 0; n-- {
		switch g.pick(3) {
		case 0:
			scope = g.straight(cur, scope)
		case 1:
			cur, scope = g.diamond(cur, scope)
		case 2:
			cur, scope = g.loop(cur, scope)
		}
	}
	cur.Return(g.inputs(scope, 1+g.pick(2))...)
	return g.fn
}

func (g *programGen) pick(n int) int {
	if len(g.choices) == 0 {
		return 0
	}
	c := g.choices[g.next%len(g.choices)]
	g.next++
	return c % n
}

func (g *programGen) newVariable() lir.Variable {
	switch g.pick(8) {
	case 0:
		return g.fn.NewVariable(lir.KindFloat, 0)
	case 1:
		return g.fn.NewVariable(lir.KindInt, lir.MustBeByteRegister)
	case 2:
		return g.fn.NewVariable(lir.KindInt, lir.MustStartInMemory)
	default:
		return g.fn.NewVariable(lir.KindInt, 0)
	}
}

func (g *programGen) pickVar(scope []lir.Variable) lir.Variable {
	return scope[g.pick(len(scope))]
}

func (g *programGen) inputs(scope []lir.Variable, n int) []lir.Operand {
	ret := make([]lir.Operand, n)
	for k := range ret {
		ret[k] = lir.Var(g.pickVar(scope))
		if g.pick(3) == 0 {
			ret[k] = ret[k].OrStack()
		}
	}
	return ret
}

func (g *programGen) straight(b *lir.Block, scope []lir.Variable) []lir.Variable {
	for n := 1 + g.pick(4); n > 0; n-- {
		switch g.pick(6) {
		case 0, 1, 2:
			v := g.newVariable()
			b.Compute(lir.Var(v), g.inputs(scope, g.pick(3))...)
			scope = append(scope, v)
		case 3:
			src := g.pickVar(scope)
			dst := g.fn.NewVariable(g.fn.VariableKind(src), 0)
			b.Move(lir.Var(dst), lir.Var(src))
			scope = append(scope, dst)
		case 4:
			b.Compute(lir.Operand{}, g.inputs(scope, 1+g.pick(2))...)
		case 5:
			b.Call(nil)
		}
	}
	return scope
}

func (g *programGen) diamond(head *lir.Block, scope []lir.Variable) (*lir.Block, []lir.Variable) {
	then, els, join := g.fn.NewBlock(), g.fn.NewBlock(), g.fn.NewBlock()
	head.Branch(lir.Var(g.pickVar(scope)), then, els)
	// Defined on both paths.
	j := g.fn.NewVariable(lir.KindInt, 0)
	for _, b := range []*lir.Block{then, els} {
		local := g.straight(b, append([]lir.Variable(nil), scope...))
		b.Move(lir.Var(j), lir.Var(g.pickVar(local)))
		b.Jump(join)
	}
	return join, append(append([]lir.Variable(nil), scope...), j)
}

func (g *programGen) loop(pre *lir.Block, scope []lir.Variable) (*lir.Block, []lir.Variable) {
	index := g.loops
	g.loops++
	header := g.fn.NewBlock().SetLoop(index, 1, false)
	body := g.fn.NewBlock().SetLoop(index, 1, true)
	exit := g.fn.NewBlock()
	pre.Jump(header)

	headerScope := g.straight(header, append([]lir.Variable(nil), scope...))
	header.Branch(lir.Var(g.pickVar(headerScope)), body, exit)

	// A value defined before the loop is updated in every iteration.
	carried := g.pickVar(scope)
	bodyScope := g.straight(body, append([]lir.Variable(nil), headerScope...))
	body.Compute(lir.Var(carried), lir.Var(carried), lir.Var(g.pickVar(bodyScope)))
	body.Jump(header)
	return exit, headerScope
}

type executed struct {
	ID     int
	Inputs []uint64
}

func parameterValue(slot int) uint64 { return 1000 + uint64(slot) }

func computeValue(id int, inputs []uint64) uint64 {
	h := uint64(id)*0x9e3779b97f4a7c15 + 1
	for _, v := range inputs {
		h = (h ^ v) * 0x100000001b3
	}
	return h
}

// execute interprets fn and returns the inputs of the computations, calls, branches and returns in execution
// order. Without allocated, values live in variables. Otherwise they live in the assigned locations, and
// calls clobber callerSaved. Branches depend on the number of visits of their block only, so both runs take
// the same path, and loops end.
func execute(fn *lir.Function, allocated bool, callerSaved RegSet) []executed {
	vars := map[lir.Variable]uint64{}
	locs := map[lir.Location]uint64{}
	for slot := 0; slot < 4; slot++ {
		locs[lir.StackSlotLocation(slot)] = parameterValue(slot)
	}
	read := func(o lir.Operand) uint64 {
		switch {
		case allocated:
			return locs[o.Location]
		case o.IsStackSlot():
			return parameterValue(o.Index)
		default:
			return vars[o.Variable()]
		}
	}
	write := func(o lir.Operand, v uint64) {
		if allocated {
			locs[o.Location] = v
		} else {
			vars[o.Variable()] = v
		}
	}

	var ret []executed
	visits := make([]int, fn.BlockCount())
	for blk := fn.BlockAt(0); blk != nil; {
		visits[blk.Index()]++
		var next *lir.Block
		for _, instr := range blk.Instrs() {
			inputs := make([]uint64, len(instr.Inputs))
			for k, in := range instr.Inputs {
				inputs[k] = read(in)
			}
			switch instr.Op {
			case lir.OpMove:
				write(instr.Outputs[0], inputs[0])
			case lir.OpCompute:
				ret = append(ret, executed{ID: instr.ID, Inputs: inputs})
				for _, out := range instr.Outputs {
					write(out, computeValue(instr.ID, inputs))
				}
			case lir.OpCall:
				ret = append(ret, executed{ID: instr.ID, Inputs: inputs})
				if allocated {
					callerSaved.Range(func(r RealReg) {
						locs[r.location()] = 0xdead0000 + uint64(instr.ID)
					})
				}
			case lir.OpBranch:
				ret = append(ret, executed{ID: instr.ID, Inputs: inputs})
				visit := visits[blk.Index()]
				if visit <= 2 && (blk.Index()+visit)%2 == 1 {
					next = blk.Succs()[0]
				} else {
					next = blk.Succs()[1]
				}
			case lir.OpJump:
				next = blk.Succs()[0]
			case lir.OpReturn:
				ret = append(ret, executed{ID: instr.ID, Inputs: inputs})
			}
		}
		blk = next
	}
	return ret
}

func TestLinearScan_Allocate_random(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numInt := rapid.IntRange(2, 4).Draw(t, "numInt")
		numCallerSaved := rapid.IntRange(0, numInt).Draw(t, "numCallerSaved")
		choices := rapid.SliceOfN(rapid.IntRange(0, 1<<10), 0, 64).Draw(t, "choices")

		var callerSaved []RealReg
		for r := 1; r <= numCallerSaved; r++ {
			callerSaved = append(callerSaved, RealReg(r))
		}
		info := testRegisterInfo(numInt, callerSaved...)
		info.CallsClobberAllRegisters = numCallerSaved == numInt

		fn := buildRandomFunction(choices)
		fn.Number()
		exp := execute(fn, false, 0)

		ls := NewLinearScan(fn, info, Options{Validate: true})
		if err := ls.Allocate(); err != nil {
			if errors.Is(err, ErrBailout) {
				// More values need a register at the same position than there are registers.
				return
			}
			t.Fatalf("%v\n%s", err, fn)
		}

		// The program computes the same values, so values are where they are expected across splits, moves
		// and control flow edges.
		if diff := cmp.Diff(exp, execute(fn, true, info.CallerSavedRegisters)); diff != "" {
			t.Fatalf("different values (-exp +got):\n%s\n%s", diff, fn)
		}

		for _, blk := range fn.Blocks() {
			for _, instr := range blk.Instrs() {
				if instr.ID < 0 || instr.IsMove() {
					continue
				}
				for _, in := range instr.Inputs {
					if in.IsVariable() && !in.StackAllowed {
						require.True(t, in.Location.IsRegister(), "input %s of %s", in, instr)
					}
				}
				for _, out := range instr.Outputs {
					if fn.VariableFlags(out.Variable())&lir.MustStartInMemory == 0 {
						require.True(t, out.Location.IsRegister(), "output %s of %s", out, instr)
					}
				}
			}
		}

		// The split children of a value never overlap.
		for v := 0; v < fn.NumVariables(); v++ {
			parent := ls.varInterval(lir.Variable(v))
			for a, ida := range parent.splitChildren {
				for _, idb := range parent.splitChildren[a+1:] {
					require.Equal(t, -1, ls.interval(ida).intersectsAt(ls.interval(idb)), "children of %s", parent)
				}
			}
		}

		again := buildRandomFunction(choices)
		ls2 := NewLinearScan(again, info, Options{Validate: true})
		require.NoError(t, ls2.Allocate())
		if diff := cmp.Diff(fn.String(), again.String()); diff != "" {
			t.Fatalf("allocation is not deterministic (-first +second):\n%s", diff)
		}
		require.Equal(t, ls.Stats(), ls2.Stats())
	})
}
