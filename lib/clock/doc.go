// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, or time.Sleep directly. In production, Real()
// provides the standard library behavior. In tests, Fake() provides a
// deterministic clock that advances only when Advance is called.
//
// # Wiring Pattern
//
// Add a Clock field to structs that wait on time:
//
//	type Controller struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	c := &Controller{clock: clock.Real()}
//
// In tests:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	c := &Controller{clock: fake}
//	// ... start goroutines ...
//	fake.WaitForWaiters(1)          // wait for a goroutine to block on the clock
//	fake.Advance(5 * time.Second)   // release it deterministically
//
// # FakeClock Synchronization
//
// When a goroutine calls Sleep or After on a FakeClock, it registers a
// pending waiter. Use WaitForWaiters to block until a specific number
// of waiters are registered before calling Advance. This eliminates the
// race between waiter registration and time advancement that plagues
// tests using time.Sleep for synchronization.
package clock
