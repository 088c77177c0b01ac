// Package amd64 is the x86-64 register file of the register allocator.
package amd64

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/acticloud/Maxine-VM/internal/asm"
	"github.com/acticloud/Maxine-VM/internal/isa"
	"github.com/acticloud/Maxine-VM/internal/regalloc"
)

// Name is the architecture name.
const Name = "amd64"

// Registers maps RealReg numbers to x86 registers.
//
// R13 holds the thread pointer, R14 the frame's base and R15 the heap base, and SP and BP address the frame, so
// none of them is allocatable.
var Registers = isa.Registers{
	Int: []asm.Register{
		x86.REG_AX, x86.REG_CX, x86.REG_DX, x86.REG_BX,
		x86.REG_SI, x86.REG_DI, x86.REG_R8, x86.REG_R9,
		x86.REG_R10, x86.REG_R11, x86.REG_R12,
	},
	Float: []asm.Register{
		x86.REG_X0, x86.REG_X1, x86.REG_X2, x86.REG_X3,
		x86.REG_X4, x86.REG_X5, x86.REG_X6, x86.REG_X7,
		x86.REG_X8, x86.REG_X9, x86.REG_X10, x86.REG_X11,
		x86.REG_X12, x86.REG_X13, x86.REG_X14, x86.REG_X15,
	},
}

// Only the low byte of AX, CX, DX and BX is addressable without a REX prefix.
const numByteRegisters = 4

var registerInfo = newRegisterInfo()

func newRegisterInfo() *regalloc.RegisterInfo {
	info := &regalloc.RegisterInfo{
		// Compiled code saves nothing across calls.
		CallsClobberAllRegisters: true,
		RealRegName:              RealRegName,
	}
	for k := range Registers.Int {
		r := Registers.RealReg(false, k)
		info.AllocatableRegisters[regalloc.RegClassInt] = append(info.AllocatableRegisters[regalloc.RegClassInt], r)
		if k < numByteRegisters {
			info.AllocatableRegisters[regalloc.RegClassByte] = append(info.AllocatableRegisters[regalloc.RegClassByte], r)
		}
	}
	for k := range Registers.Float {
		r := Registers.RealReg(true, k)
		info.AllocatableRegisters[regalloc.RegClassFloat] = append(info.AllocatableRegisters[regalloc.RegClassFloat], r)
	}
	info.CallerSavedRegisters = regalloc.NewRegSet(info.AllocatableRegisters[regalloc.RegClassInt]...) |
		regalloc.NewRegSet(info.AllocatableRegisters[regalloc.RegClassFloat]...)
	return info
}

// RealRegName returns the assembler name of r, e.g. "AX".
func RealRegName(r regalloc.RealReg) string {
	reg, ok := Registers.Asm(r)
	if !ok {
		return r.String()
	}
	return obj.Rconv(int(reg))
}

// ISA implements isa.ISA.
type ISA struct{}

var _ isa.ISA = ISA{}

// Name implements isa.ISA.Name.
func (ISA) Name() string { return Name }

// RegisterInfo implements isa.ISA.RegisterInfo.
func (ISA) RegisterInfo() *regalloc.RegisterInfo { return registerInfo }

// CompileMove implements isa.ISA.CompileMove with MOVQ and MOVSD relative to SP.
func (ISA) CompileMove(a *asm.Assembler, m isa.Move) error {
	return Registers.CompileMove(a, m, x86.AMOVQ, x86.AMOVSD, x86.REG_SP)
}
