// Peridot CLI - runs, checks, and disassembles compiled Peridot images.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/peridot-lang/peridot/manifest"
	"github.com/peridot-lang/peridot/pkg/bytecode"
	"github.com/peridot-lang/peridot/pkg/image"
	"github.com/peridot-lang/peridot/vm"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes: 0 success, 1 uncaught exception, 2 fatal error (bad usage,
// unreadable image, verification failure).
const (
	exitOK       = 0
	exitUncaught = 1
	exitFatal    = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("peridot", flag.ContinueOnError)
	trace := fs.Bool("trace", false, "Log every executed instruction")
	verbose := fs.Bool("v", false, "Verbose logging")
	maxDepth := fs.Int("max-depth", 0, "Maximum call depth (0 = default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: peridot [options] <command> [image]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [image]     Execute a compiled image\n")
		fmt.Fprintf(os.Stderr, "  check <image>   Verify an image without running it\n")
		fmt.Fprintf(os.Stderr, "  disasm <image>  Print a bytecode listing\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nWith no image argument, run uses the entry from peridot.toml.\n")
	}
	if err := fs.Parse(args); err != nil {
		return exitFatal
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitFatal
	}

	if *verbose {
		commonlog.Configure(1, nil)
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}

	command := fs.Arg(0)
	path := fs.Arg(1)
	if path == "" && m != nil {
		path = m.EntryPath()
	}
	if path == "" {
		fmt.Fprintf(os.Stderr, "Error: %s needs an image path (or a peridot.toml entry)\n", command)
		return exitFatal
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}

	switch command {
	case "run":
		cfg := vm.Config{Trace: *trace, MaxCallDepth: *maxDepth}
		if m != nil {
			if m.Run.Trace {
				cfg.Trace = true
			}
			if cfg.MaxCallDepth == 0 {
				cfg.MaxCallDepth = m.Run.MaxCallDepth
			}
		}
		return runImage(data, m, cfg, *verbose)

	case "check":
		img, err := image.Unmarshal(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFatal
		}
		if err := bytecode.VerifyProgram(img.Program); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFatal
		}
		if *verbose {
			fmt.Printf("ok: build %s, %d code objects\n", img.BuildID, len(img.Program.AllCode()))
		}
		return exitOK

	case "disasm":
		img, err := image.Unmarshal(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFatal
		}
		fmt.Print(bytecode.DisassembleProgram(img.Program))
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", command)
		fs.Usage()
		return exitFatal
	}
}

// runImage decodes, verifies, and executes an image. When the project
// manifest names a cache, images it has already verified are reused by
// file digest; fresh images are verified once and stored.
func runImage(data []byte, m *manifest.Manifest, cfg vm.Config, verbose bool) int {
	digest := image.SourceDigest(data)

	var cache *image.Cache
	if m != nil && m.CachePath() != "" {
		if c, err := image.OpenCache(m.CachePath()); err == nil {
			cache = c
			defer cache.Close()
		} else {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	var img *image.Image
	if cache != nil {
		if cached, err := cache.Get(digest); err == nil {
			img = cached
		}
	}
	if img == nil {
		decoded, err := image.Unmarshal(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFatal
		}
		if err := bytecode.VerifyProgram(decoded.Program); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFatal
		}
		img = decoded
		if cache != nil {
			if err := cache.Put(digest, img); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "running build %s\n", img.BuildID)
	}

	machine, err := vm.New(img.Program, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	if err := machine.Run(context.Background()); err != nil {
		var uncaught *vm.UncaughtError
		if errors.As(err, &uncaught) {
			fmt.Fprintf(os.Stderr, "%v\n", uncaught)
			return exitUncaught
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	return exitOK
}
