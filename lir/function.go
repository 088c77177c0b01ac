// Package lir is the low-level intermediate representation consumed by the register allocator: a Function is a
// list of Blocks in linear-scan order, and each Block is a list of Instrs over Variables and fixed locations.
package lir

import (
	"fmt"
	"strings"
)

// Block is a basic block of a Function.
type Block struct {
	index int
	// LoopDepth is the loop nesting depth of this block, zero outside of loops.
	LoopDepth int
	// LoopIndex identifies the innermost loop containing this block, or is -1 outside of loops.
	LoopIndex int
	// LoopEnd is set on blocks which end with the back edge of the loop LoopIndex.
	LoopEnd bool

	preds, succs    []*Block
	instrs          []*Instr
	firstID, lastID int
}

// Index returns the linear-scan number of this block, i.e. its index in Function.Blocks.
func (b *Block) Index() int { return b.index }

// Preds returns the predecessors of this block.
func (b *Block) Preds() []*Block { return b.preds }

// Succs returns the successors of this block.
func (b *Block) Succs() []*Block { return b.succs }

// Instrs returns the instructions of this block. The first one is always the label.
func (b *Block) Instrs() []*Instr { return b.instrs }

// FirstID returns the id of the label of this block.
func (b *Block) FirstID() int { return b.firstID }

// LastID returns the id of the last numbered instruction of this block.
func (b *Block) LastID() int { return b.lastID }

// SetLoop marks this block as a member of the loop with the given index and nesting depth.
func (b *Block) SetLoop(index, depth int, end bool) *Block {
	b.LoopIndex, b.LoopDepth, b.LoopEnd = index, depth, end
	return b
}

// Append appends a new instruction to this block.
func (b *Block) Append(op Opcode, outputs, inputs, temps []Operand) *Instr {
	i := &Instr{ID: -1, Op: op, Outputs: outputs, Inputs: inputs, Temps: temps}
	b.instrs = append(b.instrs, i)
	return i
}

// Move appends dst = move src.
func (b *Block) Move(dst, src Operand) *Instr {
	return b.Append(OpMove, []Operand{dst}, []Operand{src}, nil)
}

// Compute appends an operation defining dst, if valid, from srcs.
func (b *Block) Compute(dst Operand, srcs ...Operand) *Instr {
	var outs []Operand
	if dst.Valid() {
		outs = []Operand{dst}
	}
	return b.Append(OpCompute, outs, srcs, nil)
}

// Call appends a call reading args and defining results, which are usually fixed registers.
func (b *Block) Call(results []Operand, args ...Operand) *Instr {
	return b.Append(OpCall, results, args, nil)
}

// Jump ends this block with a jump to target.
func (b *Block) Jump(target *Block) *Instr {
	addEdge(b, target)
	return b.Append(OpJump, nil, nil, nil)
}

// Branch ends this block with a conditional jump on cond to then or els.
func (b *Block) Branch(cond Operand, then, els *Block) *Instr {
	addEdge(b, then)
	addEdge(b, els)
	return b.Append(OpBranch, nil, []Operand{cond}, nil)
}

// Return ends this block and the Function.
func (b *Block) Return(results ...Operand) *Instr {
	return b.Append(OpReturn, nil, results, nil)
}

// InsertBefore inserts instrs before the instruction at index.
func (b *Block) InsertBefore(index int, instrs ...*Instr) {
	if index < 1 || index > len(b.instrs) {
		panic(fmt.Sprintf("BUG: cannot insert at %d in block %d of length %d", index, b.index, len(b.instrs)))
	}
	if len(instrs) == 0 {
		return
	}
	tail := append([]*Instr{}, b.instrs[index:]...)
	b.instrs = append(append(b.instrs[:index], instrs...), tail...)
}

// RemoveIf removes the instructions for which f returns true, except the label.
func (b *Block) RemoveIf(f func(*Instr) bool) (removed int) {
	kept := b.instrs[:1]
	for _, i := range b.instrs[1:] {
		if f(i) {
			removed++
			continue
		}
		kept = append(kept, i)
	}
	b.instrs = kept
	return
}

func addEdge(from, to *Block) {
	from.succs = append(from.succs, to)
	to.preds = append(to.preds, from)
}

type varInfo struct {
	kind  Kind
	flags VarFlags
}

// Function is the unit of register allocation.
type Function struct {
	Name string

	blocks []*Block
	vars   []varInfo

	// blockOfID and instrOfID are indexed by id/2.
	blockOfID []*Block
	instrOfID []*Instr
	maxOpID   int
}

// NewFunction returns a new empty Function.
func NewFunction(name string) *Function {
	return &Function{Name: name, maxOpID: -1}
}

// NewBlock appends a new block starting with a label. Blocks must be created in linear-scan order.
func (f *Function) NewBlock() *Block {
	b := &Block{index: len(f.blocks), LoopIndex: -1}
	b.Append(OpLabel, nil, nil, nil)
	f.blocks = append(f.blocks, b)
	return b
}

// NewVariable allocates a new Variable.
func (f *Function) NewVariable(kind Kind, flags VarFlags) Variable {
	f.vars = append(f.vars, varInfo{kind: kind, flags: flags})
	return Variable(len(f.vars) - 1)
}

// NumVariables returns the number of Variables in this Function.
func (f *Function) NumVariables() int { return len(f.vars) }

// VariableKind returns the Kind of v.
func (f *Function) VariableKind(v Variable) Kind { return f.vars[v].kind }

// VariableFlags returns the VarFlags of v.
func (f *Function) VariableFlags(v Variable) VarFlags { return f.vars[v].flags }

// Blocks returns the blocks in linear-scan order.
func (f *Function) Blocks() []*Block { return f.blocks }

// BlockCount returns the number of blocks.
func (f *Function) BlockCount() int { return len(f.blocks) }

// BlockAt returns the block whose linear-scan number is i.
func (f *Function) BlockAt(i int) *Block { return f.blocks[i] }

// Number assigns the instruction ids: even numbers starting at 0 in linear-scan order, so that the odd id
// before each instruction is free for moves inserted later. Instructions inserted by the register allocator
// keep the id -1 and must not exist yet.
func (f *Function) Number() {
	f.blockOfID, f.instrOfID = f.blockOfID[:0], f.instrOfID[:0]
	id := 0
	for _, b := range f.blocks {
		if len(b.instrs) == 0 || b.instrs[0].Op != OpLabel {
			panic(fmt.Sprintf("BUG: block %d does not start with a label", b.index))
		}
		b.firstID = id
		for _, instr := range b.instrs {
			instr.ID = id
			f.blockOfID = append(f.blockOfID, b)
			f.instrOfID = append(f.instrOfID, instr)
			id += 2
		}
		b.lastID = id - 2
	}
	f.maxOpID = id - 2
}

// MaxOpID returns the id of the last instruction.
func (f *Function) MaxOpID() int { return f.maxOpID }

// BlockForID returns the block containing the position id. Odd positions belong to the block of the
// instruction before them.
func (f *Function) BlockForID(id int) *Block {
	if id < 0 || id>>1 >= len(f.blockOfID) {
		panic(fmt.Sprintf("BUG: position %d out of range [0, %d]", id, f.maxOpID+1))
	}
	return f.blockOfID[id>>1]
}

// IsBlockBegin returns true if id is the first position of a block. Positions after the last instruction
// are treated as the begin of a virtual end block.
func (f *Function) IsBlockBegin(id int) bool {
	if id == 0 || id > f.maxOpID+1 {
		return true
	}
	return f.BlockForID(id) != f.BlockForID(id-1)
}

// InstrForID returns the instruction whose id is id.
func (f *Function) InstrForID(id int) *Instr {
	if id&1 != 0 {
		panic(fmt.Sprintf("BUG: odd position %d has no instruction", id))
	}
	return f.instrOfID[id>>1]
}

// HasCall returns true if the instruction at id is a call.
func (f *Function) HasCall(id int) bool {
	return id&1 == 0 && id <= f.maxOpID && f.instrOfID[id>>1].IsCall()
}

// Format returns the textual representation of this Function. Registers are named with regName if not nil.
func (f *Function) Format(regName func(int) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s:\n", f.Name)
	for _, blk := range f.blocks {
		fmt.Fprintf(&b, "B%d", blk.index)
		if len(blk.preds) > 0 {
			b.WriteString(" <-")
			for _, p := range blk.preds {
				fmt.Fprintf(&b, " B%d", p.index)
			}
		}
		if blk.LoopIndex >= 0 {
			fmt.Fprintf(&b, " (loop %d, depth %d", blk.LoopIndex, blk.LoopDepth)
			if blk.LoopEnd {
				b.WriteString(", end")
			}
			b.WriteByte(')')
		}
		b.WriteString(":\n")
		for _, instr := range blk.instrs[1:] {
			b.WriteString(instr.format(regName))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// String implements fmt.Stringer.
func (f *Function) String() string { return f.Format(nil) }
