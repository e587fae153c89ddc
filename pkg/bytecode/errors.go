package bytecode

import "fmt"

// CompileError is a fatal compilation diagnostic. No bytecode produced
// alongside a CompileError is ever executed.
type CompileError struct {
	Msg    string
	Line   int
	Column int
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("compile error at %d:%d: %s", e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("compile error: %s", e.Msg)
}
