// Package testutil provides testing utilities for idfreelist.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded, goroutine-safe random source and helpers for
// generating key sets and operation mixes.
//
//	rng := testutil.NewRNG(seed)
//	keys := rng.RandomKeys(1000, 12) // distinct, 12 characters each
//	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
package testutil
