// Package fake provides hand-driven implementations of the loop host and the
// transfer engine for deterministic client tests.
//
// [Loop] keeps virtual time that only moves when a test calls
// [Loop.Advance]. [Multi] completes transfers only when a test stages a
// completion and the client performs a step.
package fake
