package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// Config carries host-side knobs for one VM instance. The zero value is
// usable: output goes to the process streams and logging is the global
// commonlog backend.
type Config struct {
	Stdout io.Writer
	Stderr io.Writer
	Log    commonlog.Logger

	// MaxCallDepth bounds the frame stack of any one routine.
	MaxCallDepth int

	// Trace logs every executed instruction. Expensive; for debugging.
	Trace bool
}

const defaultMaxCallDepth = 4096

// VM owns everything mutable about one running program: the global table,
// declared functions and classes, builtins, and the active routines. VMs
// share nothing; two instances can run concurrently.
type VM struct {
	stdout io.Writer
	stderr io.Writer
	log    commonlog.Logger
	trace  bool

	maxDepth int

	program   *bytecode.Program
	globals   map[string]*Cell
	functions map[string]*bytecode.CodeObject
	classes   map[string]*Class
	builtins  map[string]Builtin

	// rts is the stack of routines currently executing: the main program at
	// the bottom, generators and fibers nested above as they are resumed.
	rts []*routine

	// instructions executed since the last cancellation check
	checkCounter int
	runCtx       context.Context
}

// New prepares a VM for a compiled program: bootstrap classes and
// builtins are registered first, then the program's own declarations.
func New(program *bytecode.Program, cfg Config) (*VM, error) {
	vm := &VM{
		stdout:    cfg.Stdout,
		stderr:    cfg.Stderr,
		log:       cfg.Log,
		trace:     cfg.Trace,
		maxDepth:  cfg.MaxCallDepth,
		program:   program,
		globals:   make(map[string]*Cell),
		functions: make(map[string]*bytecode.CodeObject),
		classes:   make(map[string]*Class),
		builtins:  make(map[string]Builtin),
	}
	if vm.stdout == nil {
		vm.stdout = os.Stdout
	}
	if vm.stderr == nil {
		vm.stderr = os.Stderr
	}
	if vm.log == nil {
		vm.log = commonlog.GetLogger("peridot.vm")
	}
	if vm.maxDepth <= 0 {
		vm.maxDepth = defaultMaxCallDepth
	}

	if program.Version != bytecode.FormatVersion {
		return nil, fmt.Errorf("program format version %d, runtime supports %d",
			program.Version, bytecode.FormatVersion)
	}

	vm.registerCoreBuiltins()
	vm.bootstrapClasses()

	for _, f := range program.Functions {
		lower := strings.ToLower(f.Name)
		if _, dup := vm.functions[lower]; dup {
			return nil, fmt.Errorf("duplicate function %s()", f.Name)
		}
		vm.functions[lower] = f.Code
	}
	if err := vm.registerClasses(program.Classes); err != nil {
		return nil, err
	}
	return vm, nil
}

// LookupClass resolves a class by name, case-insensitively.
func (vm *VM) LookupClass(name string) *Class {
	return vm.classes[strings.ToLower(name)]
}

// Run executes the program's top level. A Throwable that reaches the top
// is returned as *UncaughtError; host failures are returned as-is.
func (vm *VM) Run(ctx context.Context) error {
	vm.runCtx = ctx
	frame := newFrame(vm.program.Main, nil, nil, nil, nil)
	rt := &routine{frames: []*Frame{frame}}
	_, err := vm.runFrames(rt)
	if err != nil {
		var r *Raise
		if errors.As(err, &r) {
			return &UncaughtError{Exc: r.Exc}
		}
		return err
	}
	return nil
}
