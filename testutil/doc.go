// Package testutil provides testing utilities for vmstore.
//
// This package is intended for use in tests only. It provides a seeded
// random generator for view model attributes and a helper that starts
// goroutines together to provoke write races.
//
// # Random Attributes
//
//	rng := testutil.NewRNG(seed)
//	attrs := rng.Attributes(5) // 5 random string / int / bool fields
//
// # Races
//
//	errs := testutil.Concurrently(8, func(i int) error {
//	    return store.Commit(ctx, vms[i])
//	})
package testutil
