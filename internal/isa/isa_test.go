package isa_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acticloud/Maxine-VM/internal/isa"
	"github.com/acticloud/Maxine-VM/internal/isa/amd64"
	"github.com/acticloud/Maxine-VM/internal/isa/arm64"
	"github.com/acticloud/Maxine-VM/internal/regalloc"
	"github.com/acticloud/Maxine-VM/lir"
)

func located(o lir.Operand, l lir.Location) lir.Operand {
	o.Location = l
	return o
}

func inserted(dst, src lir.Operand) *lir.Instr {
	return &lir.Instr{ID: -1, Op: lir.OpMove, Outputs: []lir.Operand{dst}, Inputs: []lir.Operand{src}}
}

// newMovesFunction returns a function with a spill of the int v0, a reload of the float v1 and a move from a
// fixed register, as the register allocator inserts them.
func newMovesFunction() *lir.Function {
	fn := lir.NewFunction("moves")
	v0, v1 := fn.NewVariable(lir.KindInt, 0), fn.NewVariable(lir.KindFloat, 0)
	b := fn.NewBlock()
	b.Compute(lir.Var(v0))
	b.Compute(lir.Var(v1))
	b.Move(lir.Var(v0), lir.Var(v0))
	b.Return(lir.Var(v0), lir.Var(v1))
	fn.Number()

	b.InsertBefore(2, inserted(
		located(lir.Var(v0), lir.StackSlotLocation(1)),
		located(lir.Var(v0), lir.RegisterLocation(1)),
	))
	b.InsertBefore(len(b.Instrs())-1,
		inserted(
			located(lir.Var(v1), lir.RegisterLocation(13)),
			located(lir.Var(v1), lir.StackSlotLocation(2)),
		),
		inserted(lir.Reg(13), lir.Reg(12)),
	)
	return fn
}

func TestInsertedMoves(t *testing.T) {
	fn := newMovesFunction()
	moves := isa.InsertedMoves(fn, amd64.ISA{}.RegisterInfo())
	require.Equal(t, []isa.Move{
		{Kind: lir.KindInt, From: lir.RegisterLocation(1), To: lir.StackSlotLocation(1)},
		{Kind: lir.KindFloat, From: lir.StackSlotLocation(2), To: lir.RegisterLocation(13)},
		{Kind: lir.KindFloat, From: lir.RegisterLocation(12), To: lir.RegisterLocation(13)},
	}, moves)
	require.Equal(t, "int r1 -> s1", moves[0].String())

	// The same registers are integer registers on arm64.
	moves = isa.InsertedMoves(fn, arm64.ISA{}.RegisterInfo())
	require.Equal(t, lir.KindInt, moves[2].Kind)
}

func TestAssembleMoves(t *testing.T) {
	for _, tc := range []struct {
		name string
		isa  isa.ISA
		// n is the number of moves to encode.
		n   int
		exp []byte
	}{
		{
			name: "amd64",
			isa:  amd64.ISA{},
			n:    2,
			exp: []byte{
				// MOVQ AX, 8(SP)
				0x48, 0x89, 0x44, 0x24, 0x08,
				// MOVSD 16(SP), X1
				0xf2, 0x0f, 0x10, 0x4c, 0x24, 0x10,
			},
		},
		{
			name: "arm64",
			isa:  arm64.ISA{},
			n:    1,
			// MOVD R0, 8(RSP)
			exp: []byte{0xe0, 0x07, 0x00, 0xf9},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			moves := isa.InsertedMoves(newMovesFunction(), tc.isa.RegisterInfo())
			code, err := isa.AssembleMoves(tc.isa, moves[:tc.n])
			require.NoError(t, err)
			require.Equal(t, tc.exp, code)
		})
	}
}

func TestAssembleMoves_errors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		move   isa.Move
		expErr string
	}{
		{
			name:   "stack to stack",
			move:   isa.Move{Kind: lir.KindInt, From: lir.StackSlotLocation(0), To: lir.StackSlotLocation(1)},
			expErr: "int s0 -> s1: move cannot be encoded",
		},
		{
			name:   "unknown register",
			move:   isa.Move{Kind: lir.KindInt, From: lir.RegisterLocation(60), To: lir.StackSlotLocation(1)},
			expErr: "int r60 -> s1: unknown register r60: move cannot be encoded",
		},
		{
			name:   "no location",
			move:   isa.Move{Kind: lir.KindInt, To: lir.RegisterLocation(1)},
			expErr: "int - -> r1: move cannot be encoded",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := isa.AssembleMoves(amd64.ISA{}, []isa.Move{tc.move})
			require.ErrorIs(t, err, isa.ErrUnencodableMove)
			require.EqualError(t, err, tc.expErr)
		})
	}
}

func TestRegisters(t *testing.T) {
	rs := isa.Registers{Int: []int16{100, 101}, Float: []int16{200}}
	require.Equal(t, regalloc.RealReg(1), rs.RealReg(false, 0))
	require.Equal(t, regalloc.RealReg(3), rs.RealReg(true, 0))

	for _, tc := range []struct {
		r     regalloc.RealReg
		exp   int16
		expOk bool
	}{
		{r: 0},
		{r: 1, exp: 100, expOk: true},
		{r: 2, exp: 101, expOk: true},
		{r: 3, exp: 200, expOk: true},
		{r: 4},
	} {
		reg, ok := rs.Asm(tc.r)
		require.Equal(t, tc.expOk, ok, "%s", tc.r)
		require.Equal(t, tc.exp, reg, "%s", tc.r)
	}
	require.Equal(t, int64(24), isa.SlotOffset(3))
}
