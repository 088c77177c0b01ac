package lir

import (
	"fmt"
	"strings"
)

// Variable is a virtual value of a Function, identified by its index.
type Variable int32

// VarFlags are per-Variable constraints for the register allocator.
type VarFlags byte

const (
	// MustStartInMemory forces the value into a stack slot at its definition. It may get a register later.
	MustStartInMemory VarFlags = 1 << iota
	// MustBeByteRegister restricts the value to the byte addressable general purpose registers.
	MustBeByteRegister
)

// OperandKind tells what an Operand refers to.
type OperandKind byte

const (
	OperandInvalid OperandKind = iota
	// OperandVariable refers to a Variable that the register allocator assigns a Location to.
	OperandVariable
	// OperandRegister refers to a fixed physical register, e.g. an argument register of the calling convention.
	OperandRegister
	// OperandStackSlot refers to a fixed stack slot, e.g. an incoming parameter passed in memory.
	OperandStackSlot
)

// Operand is an input, temp or output of an Instr.
type Operand struct {
	Kind OperandKind
	// Index is the Variable, the register number or the stack slot index depending on Kind.
	Index int
	// StackAllowed marks an input which the instruction can read directly from a stack slot.
	StackAllowed bool
	// Location is set by the register allocator for OperandVariable, and is fixed otherwise.
	Location Location
}

// Var returns an Operand referring to v.
func Var(v Variable) Operand {
	return Operand{Kind: OperandVariable, Index: int(v)}
}

// Reg returns an Operand referring to the fixed register numbered reg.
func Reg(reg int) Operand {
	return Operand{Kind: OperandRegister, Index: reg, Location: RegisterLocation(reg)}
}

// Slot returns an Operand referring to the fixed stack slot.
func Slot(slot int) Operand {
	return Operand{Kind: OperandStackSlot, Index: slot, Location: StackSlotLocation(slot)}
}

// OrStack returns a copy of this Operand which can be read from a stack slot.
func (o Operand) OrStack() Operand {
	o.StackAllowed = true
	return o
}

// Valid returns true if this Operand refers to something.
func (o Operand) Valid() bool { return o.Kind != OperandInvalid }

// IsVariable returns true if this Operand refers to a Variable.
func (o Operand) IsVariable() bool { return o.Kind == OperandVariable }

// IsRegister returns true if this Operand refers to a fixed register.
func (o Operand) IsRegister() bool { return o.Kind == OperandRegister }

// IsStackSlot returns true if this Operand refers to a fixed stack slot.
func (o Operand) IsStackSlot() bool { return o.Kind == OperandStackSlot }

// Variable returns the Variable of this Operand.
func (o Operand) Variable() Variable {
	if o.Kind != OperandVariable {
		panic(fmt.Sprintf("BUG: %s is not a variable", o))
	}
	return Variable(o.Index)
}

// String implements fmt.Stringer.
func (o Operand) String() string {
	return o.format(nil)
}

func (o Operand) format(regName func(int) string) string {
	switch o.Kind {
	case OperandVariable:
		if o.Location.IsSet() {
			return fmt.Sprintf("v%d:%s", o.Index, o.Location.Format(regName))
		}
		return fmt.Sprintf("v%d", o.Index)
	case OperandRegister, OperandStackSlot:
		return o.Location.Format(regName)
	default:
		return "invalid"
	}
}

// Opcode is the operation of an Instr. The register allocator only distinguishes a handful of them.
type Opcode byte

const (
	// OpLabel is the first instruction of every Block.
	OpLabel Opcode = iota
	// OpMove copies its only input to its only output.
	OpMove
	// OpCompute is any other operation producing outputs from inputs.
	OpCompute
	// OpCall clobbers all caller-saved registers.
	OpCall
	// OpBranch ends a Block with a conditional jump to one of two successors.
	OpBranch
	// OpJump ends a Block with a jump to its only successor.
	OpJump
	// OpReturn ends the Function.
	OpReturn
)

// String implements fmt.Stringer.
func (o Opcode) String() string {
	switch o {
	case OpLabel:
		return "label"
	case OpMove:
		return "move"
	case OpCompute:
		return "compute"
	case OpCall:
		return "call"
	case OpBranch:
		return "branch"
	case OpJump:
		return "jump"
	case OpReturn:
		return "return"
	default:
		return fmt.Sprintf("op(%d)", byte(o))
	}
}

// Instr is an instruction of a Block.
type Instr struct {
	// ID is the position of this instruction assigned by Function.Number. Moves inserted by the register
	// allocator have the ID -1.
	ID      int
	Op      Opcode
	Outputs []Operand
	Inputs  []Operand
	Temps   []Operand
}

// IsMove returns true if this is a move.
func (i *Instr) IsMove() bool { return i.Op == OpMove }

// IsCall returns true if this is a call.
func (i *Instr) IsCall() bool { return i.Op == OpCall }

// IsBlockEnd returns true if this instruction transfers control out of its Block.
func (i *Instr) IsBlockEnd() bool {
	return i.Op == OpBranch || i.Op == OpJump || i.Op == OpReturn
}

// String implements fmt.Stringer.
func (i *Instr) String() string {
	return i.format(nil)
}

func (i *Instr) format(regName func(int) string) string {
	var b strings.Builder
	if i.ID >= 0 {
		fmt.Fprintf(&b, "%4d ", i.ID)
	} else {
		b.WriteString("   * ")
	}
	if len(i.Outputs) > 0 {
		b.WriteString(joinOperands(i.Outputs, regName))
		b.WriteString(" = ")
	}
	b.WriteString(i.Op.String())
	if len(i.Inputs) > 0 {
		b.WriteByte(' ')
		b.WriteString(joinOperands(i.Inputs, regName))
	}
	if len(i.Temps) > 0 {
		b.WriteString(" temps ")
		b.WriteString(joinOperands(i.Temps, regName))
	}
	return b.String()
}

func joinOperands(ops []Operand, regName func(int) string) string {
	strs := make([]string, len(ops))
	for i, o := range ops {
		strs[i] = o.format(regName)
	}
	return strings.Join(strs, ", ")
}
