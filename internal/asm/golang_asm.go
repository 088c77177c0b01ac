package asm

import (
	"encoding/binary"

	"github.com/pkg/errors"
	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
)

// Register is a register number of golang-asm, e.g. x86.REG_AX or arm64.REG_R0.
type Register = int16

// Instruction is an opcode of golang-asm, e.g. x86.AMOVQ.
type Instruction = obj.As

// ErrUnsupportedArchitecture is returned by NewAssembler for architectures other than amd64 and arm64.
var ErrUnsupportedArchitecture = errors.New("unsupported architecture")

// Assembler collects instructions and encodes them with golang-asm.
type Assembler struct {
	b    *goasm.Builder
	arch string
	// count is the number of instructions added after the header.
	count int
}

// NewAssembler returns an Assembler for arch, which is "amd64" or "arm64".
func NewAssembler(arch string) (*Assembler, error) {
	switch arch {
	case "amd64", "arm64":
	default:
		return nil, errors.Wrapf(ErrUnsupportedArchitecture, "%q", arch)
	}
	// We can choose arbitrary number instead of 1024 which indicates the cache size in the builder.
	b, err := goasm.NewBuilder(arch, 1024)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create a new assembly builder")
	}
	a := &Assembler{b: b, arch: arch}
	// The arm64 backend takes the first instruction as the function header and never encodes it, and NOP
	// encodes to nothing on amd64.
	nop := a.b.NewProg()
	nop.As = obj.ANOP
	a.b.AddInstruction(nop)
	return a, nil
}

// Arch returns the architecture of this Assembler.
func (a *Assembler) Arch() string { return a.arch }

// Len returns the number of instructions added so far.
func (a *Assembler) Len() int { return a.count }

func (a *Assembler) addInstruction(p *obj.Prog) {
	a.b.AddInstruction(p)
	a.count++
}

// CompileRegisterToRegister adds "instruction from, to".
func (a *Assembler) CompileRegisterToRegister(instruction Instruction, from, to Register) {
	inst := a.b.NewProg()
	inst.As = instruction
	inst.From.Type = obj.TYPE_REG
	inst.From.Reg = from
	inst.To.Type = obj.TYPE_REG
	inst.To.Reg = to
	a.addInstruction(inst)
}

// CompileMemoryToRegister adds "instruction offset(base), to".
func (a *Assembler) CompileMemoryToRegister(instruction Instruction, base Register, offset int64, to Register) {
	inst := a.b.NewProg()
	inst.As = instruction
	inst.From.Type = obj.TYPE_MEM
	inst.From.Reg = base
	inst.From.Offset = offset
	inst.To.Type = obj.TYPE_REG
	inst.To.Reg = to
	a.addInstruction(inst)
}

// CompileRegisterToMemory adds "instruction from, offset(base)".
func (a *Assembler) CompileRegisterToMemory(instruction Instruction, from, base Register, offset int64) {
	inst := a.b.NewProg()
	inst.As = instruction
	inst.From.Type = obj.TYPE_REG
	inst.From.Reg = from
	inst.To.Type = obj.TYPE_MEM
	inst.To.Reg = base
	inst.To.Offset = offset
	a.addInstruction(inst)
}

// Assemble encodes the instructions. It must be called once.
func (a *Assembler) Assemble() []byte {
	if a.count == 0 {
		return nil
	}
	code := a.b.Assemble()
	if a.arch == "arm64" {
		code = trimFuncAlignPadding(code)
	}
	return code
}

// arm64FuncAlign is the alignment golang-asm pads arm64 functions to.
const arm64FuncAlign = 16

// trimFuncAlignPadding drops the zero words the arm64 backend appends to align the function. Neither the
// instructions nor the literal pool words emitted here encode as a zero word, which is "udf #0".
func trimFuncAlignPadding(code []byte) []byte {
	for n := 0; n < arm64FuncAlign/4-1 && len(code) >= 4; n++ {
		if binary.LittleEndian.Uint32(code[len(code)-4:]) != 0 {
			break
		}
		code = code[:len(code)-4]
	}
	return code
}
