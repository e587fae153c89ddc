// Package vm executes compiled Peridot programs.
//
// A VM owns one program's mutable world: globals, the function and class
// tables, the builtin registry, and the routines currently running. VMs
// share nothing, so independent instances can execute concurrently.
//
// Execution is a fetch/decode/execute loop over explicit frame stacks.
// Script-level calls push frames instead of recursing in Go, which is what
// lets a generator park a single frame and a fiber park an entire call
// stack between resumes. Arrays copy on write: storing an array value into
// a second location marks the backing store shared, and the next mutation
// through any holder clones it first.
//
// Script exceptions travel as *Raise errors and unwind through per-frame
// try regions; a throwable that escapes the top level comes back from Run
// as *UncaughtError. Host-side failures (cancellation, stack overflow,
// malformed images) stay ordinary Go errors.
package vm
