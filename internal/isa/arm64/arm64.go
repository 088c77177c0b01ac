// Package arm64 is the AArch64 register file of the register allocator.
package arm64

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"

	"github.com/acticloud/Maxine-VM/internal/asm"
	"github.com/acticloud/Maxine-VM/internal/isa"
	"github.com/acticloud/Maxine-VM/internal/regalloc"
)

// Name is the architecture name.
const Name = "arm64"

// Registers maps RealReg numbers to arm64 registers. R16 and R17 are the scratch registers of the linker, R18
// belongs to the platform, R27 is the scratch register of the assembler and R28 up to R30 are reserved for the
// thread, the frame and the link register.
var Registers = isa.Registers{
	Int: []asm.Register{
		arm64.REG_R0, arm64.REG_R1, arm64.REG_R2, arm64.REG_R3,
		arm64.REG_R4, arm64.REG_R5, arm64.REG_R6, arm64.REG_R7,
		arm64.REG_R8, arm64.REG_R9, arm64.REG_R10, arm64.REG_R11,
		arm64.REG_R12, arm64.REG_R13, arm64.REG_R14, arm64.REG_R15,
		arm64.REG_R19, arm64.REG_R20, arm64.REG_R21, arm64.REG_R22,
		arm64.REG_R23, arm64.REG_R24, arm64.REG_R25, arm64.REG_R26,
	},
	Float: []asm.Register{
		arm64.REG_F0, arm64.REG_F1, arm64.REG_F2, arm64.REG_F3,
		arm64.REG_F4, arm64.REG_F5, arm64.REG_F6, arm64.REG_F7,
		arm64.REG_F8, arm64.REG_F9, arm64.REG_F10, arm64.REG_F11,
		arm64.REG_F12, arm64.REG_F13, arm64.REG_F14, arm64.REG_F15,
		arm64.REG_F16, arm64.REG_F17, arm64.REG_F18, arm64.REG_F19,
		arm64.REG_F20, arm64.REG_F21, arm64.REG_F22, arm64.REG_F23,
		arm64.REG_F24, arm64.REG_F25, arm64.REG_F26, arm64.REG_F27,
		arm64.REG_F28, arm64.REG_F29, arm64.REG_F30, arm64.REG_F31,
	},
}

var registerInfo = newRegisterInfo()

func newRegisterInfo() *regalloc.RegisterInfo {
	info := &regalloc.RegisterInfo{RealRegName: RealRegName}
	for k, reg := range Registers.Int {
		r := Registers.RealReg(false, k)
		info.AllocatableRegisters[regalloc.RegClassInt] = append(info.AllocatableRegisters[regalloc.RegClassInt], r)
		// Every general purpose register has a byte view.
		info.AllocatableRegisters[regalloc.RegClassByte] = append(info.AllocatableRegisters[regalloc.RegClassByte], r)
		// R19 to R28 are callee-saved.
		if reg < arm64.REG_R19 {
			info.CallerSavedRegisters |= regalloc.NewRegSet(r)
		}
	}
	for k, reg := range Registers.Float {
		r := Registers.RealReg(true, k)
		info.AllocatableRegisters[regalloc.RegClassFloat] = append(info.AllocatableRegisters[regalloc.RegClassFloat], r)
		// The low halves of V8 to V15 are callee-saved.
		if reg < arm64.REG_F8 || reg > arm64.REG_F15 {
			info.CallerSavedRegisters |= regalloc.NewRegSet(r)
		}
	}
	return info
}

// RealRegName returns the assembler name of r, e.g. "R0".
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

// CompileMove implements isa.ISA.CompileMove with MOVD and FMOVD relative to RSP.
func (ISA) CompileMove(a *asm.Assembler, m isa.Move) error {
	return Registers.CompileMove(a, m, arm64.AMOVD, arm64.AFMOVD, arm64.REGSP)
}
