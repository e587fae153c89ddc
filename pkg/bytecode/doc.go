// Package bytecode defines the Peridot instruction set and lowers parsed
// programs into executable code objects.
//
// A compiled Program holds the top-level body, every hoisted function,
// the flattened class table, and a code table for closure bodies. Each
// CodeObject is a flat byte stream: a one-byte opcode followed by zero or
// more big-endian uint16 operands. Jump targets are absolute offsets,
// patched in a second pass while the compiler emits forward control flow.
//
// The compiler inlines finally bodies on the normal, return, break, and
// continue exits of a try statement; only the exception path enters the
// finally through the try region's FinallyTarget. Traits are flattened
// into their using classes during compilation, so the runtime class model
// never sees them.
//
// Every code object passes static verification before execution: operand
// bounds, instruction-boundary jump targets, and a dataflow proof that the
// operand stack is balanced on all paths, including handler entries.
package bytecode
