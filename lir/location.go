package lir

import "fmt"

// Kind is the register class requirement of a value.
type Kind byte

const (
	KindInvalid Kind = iota
	// KindInt is a value held in a general purpose register.
	KindInt
	// KindFloat is a value held in a floating point register.
	KindFloat
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return "invalid"
	}
}

// LocationKind tells where a Location lives.
type LocationKind byte

const (
	LocationNone LocationKind = iota
	LocationRegister
	LocationStackSlot
)

// Location is either unset, a physical register or a stack slot of the frame.
//
// Register numbers are the register allocator's numbering (see regalloc.RealReg), and stack slots are
// indexes of 8-byte slots counted from the bottom of the spill area.
type Location struct {
	kind  LocationKind
	index int32
}

// NoLocation is the zero Location.
var NoLocation Location

// RegisterLocation returns the Location of the register numbered reg.
func RegisterLocation(reg int) Location {
	return Location{kind: LocationRegister, index: int32(reg)}
}

// StackSlotLocation returns the Location of the given stack slot.
func StackSlotLocation(slot int) Location {
	return Location{kind: LocationStackSlot, index: int32(slot)}
}

// Kind returns the LocationKind of this Location.
func (l Location) Kind() LocationKind { return l.kind }

// IsSet returns true if this Location is either a register or a stack slot.
func (l Location) IsSet() bool { return l.kind != LocationNone }

// IsRegister returns true if this Location is a register.
func (l Location) IsRegister() bool { return l.kind == LocationRegister }

// IsStackSlot returns true if this Location is a stack slot.
func (l Location) IsStackSlot() bool { return l.kind == LocationStackSlot }

// Register returns the register number of this Location.
func (l Location) Register() int {
	if l.kind != LocationRegister {
		panic(fmt.Sprintf("BUG: %s is not a register", l))
	}
	return int(l.index)
}

// StackSlot returns the stack slot index of this Location.
func (l Location) StackSlot() int {
	if l.kind != LocationStackSlot {
		panic(fmt.Sprintf("BUG: %s is not a stack slot", l))
	}
	return int(l.index)
}

// String implements fmt.Stringer.
func (l Location) String() string {
	switch l.kind {
	case LocationRegister:
		return fmt.Sprintf("r%d", l.index)
	case LocationStackSlot:
		return fmt.Sprintf("s%d", l.index)
	default:
		return "-"
	}
}

// Format is like String but names registers with regName when non-nil.
func (l Location) Format(regName func(int) string) string {
	if l.kind == LocationRegister && regName != nil {
		return regName(int(l.index))
	}
	return l.String()
}
