// Package vm implements the relay agent execution core.
//
// This package contains:
//   - the Value sum type and a minimal object model
//   - Agent: per-agent microtask queue and async waiter queue
//   - WaiterList: cross-agent wait/notify on shared memory cells
//   - Atomics helpers over shared Int32 views
//   - Promise, WeakRef and FinalizationRegistry
//   - Realm: an isolated global environment with cancellation
package vm
