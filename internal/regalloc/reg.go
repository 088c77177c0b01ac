package regalloc

import (
	"fmt"
	"strings"

	"github.com/acticloud/Maxine-VM/lir"
)

// RealReg represents a physical register. The numbering is defined by the ISA and shared with
// lir.RegisterLocation.
type RealReg byte

const RealRegInvalid RealReg = 0

// RealRegsNumMax is the upper bound (exclusive) of RealReg numbers.
const RealRegsNumMax = 64

// String implements fmt.Stringer.
func (r RealReg) String() string {
	switch r {
	case RealRegInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("r%d", r)
	}
}

func (r RealReg) location() lir.Location {
	return lir.RegisterLocation(int(r))
}

// RegClass is the set of registers an interval can be allocated to.
type RegClass byte

const (
	RegClassInvalid RegClass = iota
	RegClassInt
	RegClassFloat
	// RegClassByte is the subset of RegClassInt whose low byte is addressable.
	RegClassByte
	NumRegClass
)

// String implements fmt.Stringer.
func (c RegClass) String() string {
	switch c {
	case RegClassInt:
		return "int"
	case RegClassFloat:
		return "float"
	case RegClassByte:
		return "byte"
	default:
		return "invalid"
	}
}

// RegClassOf returns the RegClass of a value of the given kind.
func RegClassOf(k lir.Kind, byteOnly bool) RegClass {
	switch {
	case k == lir.KindFloat:
		if byteOnly {
			panic("BUG: floating point values cannot be restricted to byte registers")
		}
		return RegClassFloat
	case byteOnly:
		return RegClassByte
	case k == lir.KindInt:
		return RegClassInt
	default:
		panic(fmt.Sprintf("BUG: invalid kind %s", k))
	}
}

// RegisterInfo holds the statically-known ISA-specific register information.
type RegisterInfo struct {
	// AllocatableRegisters holds the allocatable registers per RegClass.
	// The order matters: among equally good candidates the first one is chosen.
	AllocatableRegisters [NumRegClass][]RealReg
	// CallerSavedRegisters are clobbered by every call.
	CallerSavedRegisters RegSet
	// CallsClobberAllRegisters is set when every allocatable register is caller-saved. It enables the
	// shortcut for intervals starting right before a call, which can never get a free register.
	CallsClobberAllRegisters bool
	// RealRegName returns the name of the given RealReg for debugging.
	RealRegName func(r RealReg) string
}

func (info *RegisterInfo) regName(r int) string {
	if info.RealRegName == nil {
		return RealReg(r).String()
	}
	return info.RealRegName(RealReg(r))
}

// NewRegSet returns a new RegSet with the given registers.
func NewRegSet(regs ...RealReg) RegSet {
	var ret RegSet
	for _, r := range regs {
		ret = ret.add(r)
	}
	return ret
}

// RegSet represents a set of registers.
type RegSet uint64

func (rs RegSet) format(info *RegisterInfo) string {
	var ret []string
	rs.Range(func(r RealReg) {
		ret = append(ret, info.regName(int(r)))
	})
	return strings.Join(ret, ", ")
}

func (rs RegSet) has(r RealReg) bool {
	return r < RealRegsNumMax && rs&(1<<uint(r)) != 0
}

func (rs RegSet) add(r RealReg) RegSet {
	if r >= RealRegsNumMax {
		panic(fmt.Sprintf("BUG: register number %d does not fit in a RegSet", r))
	}
	return rs | 1<<uint(r)
}

// Range calls f for each register of the set in ascending order.
func (rs RegSet) Range(f func(r RealReg)) {
	for i := 0; i < RealRegsNumMax; i++ {
		if rs&(1<<uint(i)) != 0 {
			f(RealReg(i))
		}
	}
}
