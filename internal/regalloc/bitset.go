package regalloc

import "math/bits"

// bitset is a set of the variables of one function. It is sized by reset and does not grow.
type bitset []uint64

// reset empties b and makes room for the variables below n.
func (b *bitset) reset(n int) {
	words := (n + 63) / 64
	if cap(*b) < words {
		*b = make(bitset, words)
		return
	}
	*b = (*b)[:words]
	clear(*b)
}

func (b bitset) has(v uint) bool {
	return b[v/64]&(1<<(v%64)) != 0
}

func (b bitset) set(v uint) {
	b[v/64] |= 1 << (v % 64)
}

// scan calls f for each member in ascending order.
func (b bitset) scan(f func(v uint)) {
	for i, w := range b {
		for ; w != 0; w &= w - 1 {
			f(uint(i*64 + bits.TrailingZeros64(w)))
		}
	}
}

func (b bitset) count() (n int) {
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return
}
