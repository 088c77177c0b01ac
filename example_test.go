package maxine_test

import (
	"context"
	"fmt"
	"log"

	maxine "github.com/acticloud/Maxine-VM"
	"github.com/acticloud/Maxine-VM/lir"
)

// This is an example of allocating registers for a function with a branch.
func Example() {
	fn := lir.NewFunction("max")
	a, b, ret := fn.NewVariable(lir.KindInt, 0), fn.NewVariable(lir.KindInt, 0), fn.NewVariable(lir.KindInt, 0)
	entry, then, els, exit := fn.NewBlock(), fn.NewBlock(), fn.NewBlock(), fn.NewBlock()
	// Incoming parameters are in the first two stack slots.
	entry.Move(lir.Var(a), lir.Slot(0))
	entry.Move(lir.Var(b), lir.Slot(1))
	entry.Branch(lir.Var(a), then, els)
	then.Move(lir.Var(ret), lir.Var(a))
	then.Jump(exit)
	els.Move(lir.Var(ret), lir.Var(b))
	els.Jump(exit)
	exit.Return(lir.Var(ret))

	res, err := maxine.Allocate(maxine.NewAllocatorConfig().WithArchitecture("amd64"), fn)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(res)
	fmt.Println(res.Stats.InsertedMoves, "moves inserted")

	// The parameters are loaded right before their first use, and both moves to ret disappear.

	// Output:
	// func max:
	// B0:
	//    * v0:AX = move v0:s0
	//    6 branch v0:AX
	// B1 <- B0:
	//   12 jump
	// B2 <- B0:
	//    * v1:AX = move v1:s1
	//   18 jump
	// B3 <- B1 B2:
	//   22 return v2:AX
	// 2 moves inserted
}

// This is an example of allocating several functions concurrently.
func ExampleAllocateAll() {
	var fns []*lir.Function
	for k := 0; k < 3; k++ {
		fn := lir.NewFunction(fmt.Sprintf("f%d", k))
		v := fn.NewVariable(lir.KindFloat, 0)
		b := fn.NewBlock()
		b.Compute(lir.Var(v))
		b.Return(lir.Var(v))
		fns = append(fns, fn)
	}

	cfg := maxine.NewAllocatorConfig().WithArchitecture("arm64").WithParallelism(2)
	results, err := maxine.AllocateAll(context.Background(), cfg, fns...)
	if err != nil {
		log.Fatal(err)
	}
	for _, res := range results {
		fmt.Println(res.Function.Name, res.Moves(), res.SpillSlots)
	}
	// Output:
	// f0 [] 0
	// f1 [] 0
	// f2 [] 0
}
