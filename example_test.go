package vmstore_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hupe1980/vmstore"
	"github.com/hupe1980/vmstore/docstore"
	"github.com/hupe1980/vmstore/docstore/memory"
)

// Example_commit demonstrates the create / update / delete cycle.
func Example_commit() {
	ctx := context.Background()

	conn := vmstore.NewConn(vmstore.DefaultConfig(), memory.NewServer())
	if err := conn.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	defer conn.Disconnect(ctx)

	users := vmstore.NewStore(conn, "users")

	vm, err := users.Get(ctx, "ada")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("loaded:", vm.Action() == vmstore.ActionNone)

	_ = vm.Set("email", "ada@example.com")
	vm.SetAction(vmstore.ActionCreate)
	if err := users.Commit(ctx, vm); err != nil {
		log.Fatal(err)
	}
	fmt.Println("after create:", vm.Action())

	_ = vm.Set("name", "Ada")
	if err := users.Commit(ctx, vm); err != nil {
		log.Fatal(err)
	}

	vm.SetAction(vmstore.ActionDelete)
	if err := users.Commit(ctx, vm); err != nil {
		log.Fatal(err)
	}

	gone, _ := users.FindOne(ctx, docstore.Filter{"name": "Ada"}, nil)
	fmt.Println("found after delete:", gone != nil)
	// Output:
	// loaded: true
	// after create: update
	// found after delete: false
}

// Example_concurrency demonstrates resolving a lost optimistic-lock race.
func Example_concurrency() {
	ctx := context.Background()

	conn := vmstore.NewConn(vmstore.DefaultConfig(), memory.NewServer())
	if err := conn.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	defer conn.Disconnect(ctx)

	counters := vmstore.NewStore(conn, "counters")

	seed := vmstore.NewViewModel("visits")
	_ = seed.Set("n", 0)
	seed.SetAction(vmstore.ActionCreate)
	if err := counters.Commit(ctx, seed); err != nil {
		log.Fatal(err)
	}

	a, _ := counters.Get(ctx, "visits")
	b, _ := counters.Get(ctx, "visits")

	_ = a.Set("n", 1)
	fmt.Println("first writer:", counters.Commit(ctx, a))

	_ = b.Set("n", 1)
	err := counters.Commit(ctx, b)
	fmt.Println("second writer conflicts:", errors.Is(err, vmstore.ErrConcurrency))

	// Reload and retry.
	b, _ = counters.Get(ctx, "visits")
	_ = b.Set("n", b.Get("n").(int)+1)
	fmt.Println("retry:", counters.Commit(ctx, b))
	// Output:
	// first writer: <nil>
	// second writer conflicts: true
	// retry: <nil>
}
