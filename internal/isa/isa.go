// Package isa describes the machines the register allocator targets: their register files, and the encoding of
// the moves the allocator inserts.
package isa

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/acticloud/Maxine-VM/internal/asm"
	"github.com/acticloud/Maxine-VM/internal/regalloc"
	"github.com/acticloud/Maxine-VM/lir"
)

// SlotSize is the size of a stack slot in bytes.
const SlotSize = 8

// ErrUnencodableMove is returned for moves no single machine instruction performs, e.g. between two stack slots.
var ErrUnencodableMove = errors.New("move cannot be encoded")

// ISA is a target machine.
type ISA interface {
	// Name is the architecture name understood by asm.NewAssembler.
	Name() string
	// RegisterInfo returns the register file. It is shared and must not be modified.
	RegisterInfo() *regalloc.RegisterInfo
	// CompileMove adds the instruction performing m to a.
	CompileMove(a *asm.Assembler, m Move) error
}

// Move copies a value of the given kind between two locations.
type Move struct {
	Kind     lir.Kind
	From, To lir.Location
}

// String implements fmt.Stringer.
func (m Move) String() string {
	return fmt.Sprintf("%s %s -> %s", m.Kind, m.From, m.To)
}

// SlotOffset returns the offset of a stack slot from the stack pointer.
func SlotOffset(slot int) int64 {
	return int64(slot) * SlotSize
}

// InsertedMoves returns the moves inserted into the allocated fn, in block order.
func InsertedMoves(fn *lir.Function, info *regalloc.RegisterInfo) []Move {
	var ret []Move
	for _, b := range fn.Blocks() {
		for _, instr := range b.Instrs() {
			if instr.ID >= 0 || !instr.IsMove() {
				continue
			}
			out, in := instr.Outputs[0], instr.Inputs[0]
			ret = append(ret, Move{Kind: operandKind(fn, info, out), From: in.Location, To: out.Location})
		}
	}
	return ret
}

func operandKind(fn *lir.Function, info *regalloc.RegisterInfo, o lir.Operand) lir.Kind {
	if o.IsVariable() {
		return fn.VariableKind(o.Variable())
	}
	if o.Location.IsRegister() {
		for _, r := range info.AllocatableRegisters[regalloc.RegClassFloat] {
			if int(r) == o.Location.Register() {
				return lir.KindFloat
			}
		}
	}
	return lir.KindInt
}

// AssembleMoves encodes moves for the machine i.
func AssembleMoves(i ISA, moves []Move) ([]byte, error) {
	a, err := asm.NewAssembler(i.Name())
	if err != nil {
		return nil, err
	}
	for _, m := range moves {
		if err := i.CompileMove(a, m); err != nil {
			return nil, err
		}
	}
	return a.Assemble(), nil
}

// Registers maps RealReg numbers to golang-asm registers. RealReg numbers are contiguous from 1 in the order of
// the integer registers followed by the floating point registers.
type Registers struct {
	Int, Float []asm.Register
}

// RealReg returns the RealReg number of the k-th integer or floating point register.
func (rs *Registers) RealReg(float bool, k int) regalloc.RealReg {
	if float {
		return regalloc.RealReg(1 + len(rs.Int) + k)
	}
	return regalloc.RealReg(1 + k)
}

// Asm returns the golang-asm register of r.
func (rs *Registers) Asm(r regalloc.RealReg) (asm.Register, bool) {
	k := int(r) - 1
	switch {
	case k < 0:
		return 0, false
	case k < len(rs.Int):
		return rs.Int[k], true
	case k < len(rs.Int)+len(rs.Float):
		return rs.Float[k-len(rs.Int)], true
	default:
		return 0, false
	}
}

// CompileMove adds m to a with intMov or floatMov depending on its kind. Stack slots are addressed from sp.
func (rs *Registers) CompileMove(a *asm.Assembler, m Move, intMov, floatMov asm.Instruction, sp asm.Register) error {
	mov := intMov
	if m.Kind == lir.KindFloat {
		mov = floatMov
	}
	reg := func(l lir.Location) (asm.Register, error) {
		r, ok := rs.Asm(regalloc.RealReg(l.Register()))
		if !ok {
			return 0, errors.Wrapf(ErrUnencodableMove, "%s: unknown register %s", m, l)
		}
		return r, nil
	}

	switch from, to := m.From, m.To; {
	case from.IsRegister() && to.IsRegister():
		src, err := reg(from)
		if err != nil {
			return err
		}
		dst, err := reg(to)
		if err != nil {
			return err
		}
		a.CompileRegisterToRegister(mov, src, dst)
	case from.IsRegister() && to.IsStackSlot():
		src, err := reg(from)
		if err != nil {
			return err
		}
		a.CompileRegisterToMemory(mov, src, sp, SlotOffset(to.StackSlot()))
	case from.IsStackSlot() && to.IsRegister():
		dst, err := reg(to)
		if err != nil {
			return err
		}
		a.CompileMemoryToRegister(mov, sp, SlotOffset(from.StackSlot()), dst)
	default:
		return errors.Wrapf(ErrUnencodableMove, "%s", m)
	}
	return nil
}
