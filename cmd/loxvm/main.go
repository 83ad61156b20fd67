// Command loxvm is the host binary for the loxvm bytecode interpreter:
// a REPL, a file runner, and a disassembler subcommand, built on cobra
// the way the wider bytecode-VM tooling in this ecosystem structures
// its CLIs.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/compiler"
	"github.com/kristofer/loxvm/pkg/config"
	"github.com/kristofer/loxvm/pkg/vm"
	"github.com/spf13/cobra"
)

// Exit codes follow the sysexits.h convention the interpreter's error
// handling design is built around.
const (
	exitOK           = 0
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

var (
	traceFlag    bool
	stressGCFlag bool
	debugLogFlag bool
	configPath   string
)

func main() {
	root := &cobra.Command{
		Use:   "loxvm [script]",
		Short: "loxvm is a bytecode-compiled interpreter for a small dynamic, class-based language",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				runREPL()
				return nil
			}
			return runFile(args[0])
		},
	}
	root.PersistentFlags().BoolVar(&traceFlag, "trace", false, "print each instruction as it executes")
	root.PersistentFlags().BoolVar(&stressGCFlag, "stress-gc", false, "collect garbage before every allocation")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a loxvm.toml tuning file")
	root.PersistentFlags().BoolVar(&debugLogFlag, "debug-log", false, "log compiler/VM lifecycle and error events at debug level")

	root.AddCommand(newRunCmd())
	root.AddCommand(newDisasmCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitIOError)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <script>",
		Short: "run a loxvm source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(args[0])
		},
	}
}

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <script>",
		Short: "compile a source file and print its bytecode disassembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return disassembleFile(args[0])
		},
	}
}

func loadConfig() config.Config {
	if configPath == "" {
		return config.Default()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config %s: %v\n", configPath, err)
		return config.Default()
	}
	return cfg
}

func newVM() *vm.VM {
	v := vm.New()
	v.ApplyConfig(loadConfig().VM)
	if stressGCFlag {
		v.SetStressGC(true)
	}
	v.Trace = traceFlag
	v.SetDebugLogging(debugLogFlag)
	return v
}

func runFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		os.Exit(exitIOError)
	}

	v := newVM()
	result, err := v.Interpret(string(data))
	switch result {
	case vm.InterpretCompileError:
		os.Exit(exitCompileError)
	case vm.InterpretRuntimeError:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntimeError)
	}
	return nil
}

func disassembleFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		os.Exit(exitIOError)
	}

	v := vm.New()
	c := compiler.New(string(data), v)
	fn, errs := c.Compile()
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		os.Exit(exitCompileError)
	}
	bytecode.Disassemble(os.Stdout, fn.Chunk, "script")
	return nil
}

func runREPL() {
	fmt.Println("loxvm REPL - Ctrl+D to exit")
	v := newVM()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		_, err := v.Interpret(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}
