// Command vplic builds a virtual PLIC from a machine description and drives
// it the way a guest would.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tinyrange/vplic/internal/config"
)

func usage(w io.Writer) {
	fmt.Fprintf(w, `usage: vplic <command> [flags] [args]

commands:
  check    build the machine and print the controller layout
  poke     run a sequence of register operations
  stress   claim and complete from every context concurrently

poke operations:
  r:OFFSET          read the register at OFFSET
  w:OFFSET=VALUE    write VALUE to the register at OFFSET
  set:ID            raise source ID from the host side
  clear:ID          withdraw pending source ID
`)
}

type commonFlags struct {
	config  *string
	verbose *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:  fs.String("config", "", "machine description (YAML); defaults to a single riscv64 machine"),
		verbose: fs.Bool("v", false, "enable debug logging"),
	}
}

func (c commonFlags) setup() (*config.Machine, error) {
	level := slog.LevelInfo
	if *c.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *c.config == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadFile(*c.config)
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "check":
		err = runCheck(args, os.Stdout)
	case "poke":
		err = runPoke(args, os.Stdout)
	case "stress":
		err = runStress(args, os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "vplic: unknown command %q\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "vplic: %v\n", err)
		os.Exit(1)
	}
}

func runCheck(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.setup()
	if err != nil {
		return err
	}
	m, err := newMachine(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	m.describe(out)
	return nil
}

type pokeOp struct {
	kind   string
	offset uint64
	value  uint64
}

func parsePokeOp(arg string) (pokeOp, error) {
	kind, rest, ok := strings.Cut(arg, ":")
	if !ok {
		return pokeOp{}, fmt.Errorf("operation %q: missing ':'", arg)
	}

	switch kind {
	case "r", "set", "clear":
		n, err := strconv.ParseUint(rest, 0, 64)
		if err != nil {
			return pokeOp{}, fmt.Errorf("operation %q: %w", arg, err)
		}
		return pokeOp{kind: kind, offset: n}, nil
	case "w":
		offset, value, ok := strings.Cut(rest, "=")
		if !ok {
			return pokeOp{}, fmt.Errorf("operation %q: write needs OFFSET=VALUE", arg)
		}
		o, err := strconv.ParseUint(offset, 0, 64)
		if err != nil {
			return pokeOp{}, fmt.Errorf("operation %q: offset: %w", arg, err)
		}
		v, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return pokeOp{}, fmt.Errorf("operation %q: value: %w", arg, err)
		}
		return pokeOp{kind: kind, offset: o, value: v}, nil
	default:
		return pokeOp{}, fmt.Errorf("operation %q: unknown kind %q", arg, kind)
	}
}

func runPoke(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("poke", flag.ContinueOnError)
	common := addCommonFlags(fs)
	keepGoing := fs.Bool("k", false, "continue after a guest fault")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("poke: no operations given")
	}

	ops := make([]pokeOp, 0, fs.NArg())
	for _, arg := range fs.Args() {
		op, err := parsePokeOp(arg)
		if err != nil {
			return fmt.Errorf("poke: %w", err)
		}
		ops = append(ops, op)
	}

	cfg, err := common.setup()
	if err != nil {
		return err
	}
	m, err := newMachine(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	for _, op := range ops {
		var err error
		switch op.kind {
		case "r":
			var value uint32
			value, err = m.read(op.offset)
			if err == nil {
				fmt.Fprintf(out, "r 0x%06x = 0x%08x\n", op.offset, value)
			}
		case "w":
			err = m.write(op.offset, uint32(op.value))
			if err == nil {
				fmt.Fprintf(out, "w 0x%06x <- 0x%08x\n", op.offset, op.value)
			}
		case "set":
			fmt.Fprintf(out, "set %d: %v\n", op.offset, m.plic.SetSourcePending(int(op.offset)))
		case "clear":
			fmt.Fprintf(out, "clear %d: %v\n", op.offset, m.plic.ClearSourcePending(int(op.offset)))
		}
		if err != nil {
			if !*keepGoing {
				return err
			}
			fmt.Fprintf(out, "%s 0x%06x: fault: %v\n", op.kind, op.offset, err)
		}
	}

	fmt.Fprintf(out, "pending=%v active=%v line=%v\n", m.plic.PendingSources(), m.plic.ActiveSources(), m.hart.Level())
	return nil
}
