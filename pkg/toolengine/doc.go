// Package toolengine executes named tools against the canvas backend.
//
// Invariants:
// - Unknown tools and hook vetoes fail without retries and without side effects.
// - The snapshot's canvas version increments by exactly one per successful mutating call.
// - Retry policy is the error hook when present, otherwise exponential backoff.
//
// Usage:
//
//	engine := toolengine.New(toolengine.Config{Logger: logger})
//	_ = engine.Register(toolengine.Definition{...})
//	result := engine.Execute(ctx, toolengine.Call{Name: "canvas_read"}, snap)
//	_ = result
package toolengine
