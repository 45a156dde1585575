// Command clox is the CLI entry point for the clox bytecode VM: a REPL
// when invoked with no arguments, a file runner when given a path, exit
// codes {0, 65, 70} for {OK, compile error, runtime error}, and a
// "Usage: …" message on stderr with exit 64 for anything else.
//
// Subcommands are built on github.com/spf13/cobra, with
// github.com/chzyer/readline driving the REPL for history and line
// editing.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/kristofer/cloxgo/pkg/chunk"
	"github.com/kristofer/cloxgo/pkg/compiler"
	"github.com/kristofer/cloxgo/pkg/debug"
	"github.com/kristofer/cloxgo/pkg/format"
	"github.com/kristofer/cloxgo/pkg/gc"
	"github.com/kristofer/cloxgo/pkg/globals"
	"github.com/kristofer/cloxgo/pkg/vm"
)

var (
	stressGC  bool
	traceGC   bool
	traceExec bool
)

func main() {
	root := &cobra.Command{
		Use:   "clox [path]",
		Short: "clox is a bytecode VM for a small class-based scripting language",
		Args:  cobra.ArbitraryArgs,
		// No argument starts the REPL; a single path runs it as a script,
		// so `clox program.lox` works without the `run` subcommand.
		Run: func(cmd *cobra.Command, args []string) {
			switch len(args) {
			case 0:
				runREPL()
			case 1:
				os.Exit(runFile(args[0]))
			default:
				fmt.Fprintln(os.Stderr, "Usage: clox [path]")
				os.Exit(64)
			}
		},
	}
	root.PersistentFlags().BoolVar(&stressGC, "stress-gc", false, "collect garbage on every allocation")
	root.PersistentFlags().BoolVar(&traceGC, "trace-gc", false, "log every collection cycle to stderr")
	root.PersistentFlags().BoolVar(&traceExec, "trace", false, "disassemble each instruction to stderr as it executes")

	root.AddCommand(
		runCmd(),
		replCmd(),
		compileCmd(),
		disassembleCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(64)
	}
}

func newEngine() (*gc.Heap, *globals.Store, *vm.VM) {
	heap := gc.New()
	heap.StressMode = stressGC
	if traceGC {
		heap.Log = func(format string, args ...interface{}) { fmt.Fprintf(os.Stderr, format+"\n", args...) }
	}
	store := globals.New()
	machine := vm.New(heap, store, os.Stdout, os.Stderr)
	machine.Trace = traceExec
	return heap, store, machine
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <path>",
		Short: "Run a source file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runFile(args[0]))
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive REPL",
		Run: func(cmd *cobra.Command, args []string) {
			runREPL()
		},
	}
}

func compileCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "compile <path>",
		Short: "Compile a source file to a .clo bytecode file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(compileFile(args[0], out))
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (default: input path with .clo extension)")
	return cmd
}

func disassembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "disassemble <path.clo>",
		Aliases: []string{"disasm"},
		Short:   "Disassemble a compiled .clo bytecode file",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(disassembleFile(args[0]))
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the clox version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("clox 0.1.0")
		},
	}
}

// runFile loads path (source text, or pre-compiled .clo bytecode by
// extension) and interprets it, returning the process exit code: 0 OK,
// 65 compile error, 70 runtime error.
func runFile(path string) int {
	if len(path) > 4 && path[len(path)-4:] == ".clo" {
		return runBytecodeFile(path)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		return 74
	}

	_, _, machine := newEngine()
	switch machine.Interpret(src) {
	case vm.InterpretCompileError:
		return 65
	case vm.InterpretRuntimeError:
		return 70
	default:
		return 0
	}
}

func runBytecodeFile(path string) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		return 74
	}
	defer f.Close()

	heap, _, machine := newEngine()
	fn, err := format.Decode(f, heap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		return 65
	}
	if machine.InterpretFunction(fn) != vm.InterpretOK {
		return 70
	}
	return 0
}

func compileFile(inputPath, outputPath string) int {
	if outputPath == "" {
		outputPath = withExt(inputPath, ".clo")
	}

	src, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		return 74
	}

	heap, store, _ := newEngine()
	fn := compiler.Compile(src, heap, store, os.Stderr)
	if fn == nil {
		return 65
	}

	out, err := os.Create(outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
		return 74
	}
	defer out.Close()

	if err := format.Encode(fn, out); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing bytecode: %v\n", err)
		return 74
	}
	fmt.Printf("Compiled %s -> %s\n", inputPath, outputPath)
	return 0
}

func disassembleFile(path string) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		return 74
	}
	defer f.Close()

	heap := gc.New()
	fn, err := format.Decode(f, heap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bytecode: %v\n", err)
		return 65
	}
	name := "<script>"
	if fn.Name != nil {
		name = fn.Name.String()
	}
	debug.DisassembleChunk(os.Stdout, fn.Chunk.(*chunk.Chunk), name)
	return 0
}

func withExt(path, ext string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[:i] + ext
		}
	}
	return path + ext
}

// runREPL prints "> ", reads a line, interprets it, and repeats until
// EOF, using readline for history and ctrl-C/ctrl-D handling. A single VM
// and globals store persist across lines so declarations and state carry
// forward between REPL entries.
func runREPL() {
	rl, err := readline.New("> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting REPL: %v\n", err)
		os.Exit(74)
	}
	defer rl.Close()

	_, _, machine := newEngine()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF (ctrl-D) or readline.ErrInterrupt (ctrl-C)
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return
			}
			return
		}
		if line == "" {
			continue
		}
		machine.Interpret([]byte(line))
	}
}
