// Package loop implements the core iteration state machine: think, act,
// observe, decide.
//
// Invariants:
// - History append order is the execution order of THINK/ACT/OBSERVE.
// - The resource snapshot is owned by exactly one loop and dies with it.
// - Termination is observable only through the result and the event stream.
//
// Usage:
//
//	run, _ := loop.New(loop.Config{Task: "create a rectangle"}, loop.Deps{...})
//	result := run.Run(ctx)
//	_ = result
package loop
