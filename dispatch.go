package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
)

// command is one REPL verb: its canonical name, argument-count bounds, and
// handler. Names are looked up by unambiguous prefix, matching the original
// debugger's MatchCmd/SplitCommand behavior.
type command struct {
	name    string
	minArgs int
	maxArgs int // -1 means unbounded
	usage   string
	run     func(d *Dispatcher, args []string) error
}

// Dispatcher owns the command table and the live tracee it operates on.
type Dispatcher struct {
	tracee  *Tracee
	console *Console
	pager   *sourcePager
	names   *trie.Trie
	table   map[string]*command
}

func NewDispatcher(t *Tracee, c *Console, cfg Config) *Dispatcher {
	d := &Dispatcher{
		tracee:  t,
		console: c,
		pager:   newSourcePager(cfg),
		names:   trie.New(),
		table:   make(map[string]*command),
	}
	for i := range commandTable {
		cmd := &commandTable[i]
		d.table[cmd.name] = cmd
		d.names.Add(cmd.name, cmd.name)
	}
	return d
}

var commandTable = []command{
	{"continue", 0, 0, "continue", (*Dispatcher).cmdContinue},
	{"breakpoint", 1, 1, "breakpoint <addr|function>", (*Dispatcher).cmdBreakpoint},
	{"registers-dump", 0, 0, "registers-dump", (*Dispatcher).cmdRegistersDump},
	{"read-register", 1, 1, "read-register <name>", (*Dispatcher).cmdReadRegister},
	{"write-register", 2, 2, "write-register <name> <value>", (*Dispatcher).cmdWriteRegister},
	{"read-memory", 1, 2, "read-memory <addr> [count]", (*Dispatcher).cmdReadMemory},
	{"write-memory", 2, 2, "write-memory <addr> <value>", (*Dispatcher).cmdWriteMemory},
	{"symbol", 1, 1, "symbol <name>", (*Dispatcher).cmdSymbol},
	{"step", 0, 0, "step", (*Dispatcher).cmdStep},
	{"stepi", 0, 0, "stepi", (*Dispatcher).cmdStepi},
	{"next", 0, 0, "next", (*Dispatcher).cmdNext},
	{"finish", 0, 0, "finish", (*Dispatcher).cmdFinish},
	{"backtrace", 0, 0, "backtrace", (*Dispatcher).cmdBacktrace},
	{"variables", 0, 0, "variables", (*Dispatcher).cmdVariables},
	{"disassemble", 0, 1, "disassemble [count]", (*Dispatcher).cmdDisassemble},
}

// Tokenize splits a REPL input line into arguments using bash-like quoting
// rules. Pipelines aren't a REPL concept here, so only the first stage is
// used; a line containing '|' is rejected as a malformed command instead of
// silently discarding the remainder.
func Tokenize(line string) ([]string, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	stages, err := argv.Argv(line, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, nil
	}
	if len(stages) > 1 {
		return nil, fmt.Errorf("unexpected '|' in command")
	}
	return stages[0], nil
}

// Dispatch resolves the first token against the command table by
// unambiguous prefix and, on a match, arity-checks and runs it.
func (d *Dispatcher) Dispatch(line string) error {
	tokens, err := Tokenize(line)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	verb, args := tokens[0], tokens[1:]
	matches := d.names.PrefixSearch(verb)
	if len(matches) == 0 {
		return fmt.Errorf("unknown command %q", verb)
	}
	if len(matches) > 1 {
		if _, ok := d.table[verb]; !ok {
			return fmt.Errorf("ambiguous command %q: matches %s", verb, strings.Join(matches, ", "))
		}
		matches = []string{verb}
	}

	cmd := d.table[matches[0]]
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(d, args)
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

func (d *Dispatcher) reportStop(ev *StopEvent, err error) error {
	if err != nil {
		return err
	}
	switch ev.Reason {
	case StopExited:
		d.console.Info("process exited with status %d", ev.ExitCode)
	case StopSignaled:
		d.console.Info("process killed by %s", ev.SignalName)
	case StopBreakpoint:
		d.console.Info("hit breakpoint at %s", d.console.Address(ev.PC))
		d.printCurrentLine()
	case StopSignal:
		if ev.FaultKind != "" {
			d.console.Info("stopped: SIGSEGV (%s) at %s, fault address %s", ev.FaultKind, d.console.Address(ev.PC), d.console.Address(ev.FaultAddr))
		} else {
			d.console.Info("stopped: %s at %s", ev.SignalName, d.console.Address(ev.PC))
		}
	case StopStep:
		d.printCurrentLine()
	}
	return nil
}

func (d *Dispatcher) printCurrentLine() {
	line, err := d.tracee.currentLine()
	if err != nil {
		return
	}
	if err := d.pager.Print(d.console, line.File, line.Line); err != nil {
		d.console.Printf("%s:%d\n", line.File, line.Line)
	}
}

func (d *Dispatcher) cmdContinue(args []string) error {
	ev, err := d.tracee.Continue()
	return d.reportStop(ev, err)
}

func (d *Dispatcher) cmdBreakpoint(args []string) error {
	target := args[0]

	switch {
	case strings.HasPrefix(target, "0x") || strings.HasPrefix(target, "0X"):
		addr, err := parseAddr(target)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", target, err)
		}
		if _, err := d.tracee.SetBreakpointAtFileAddress(addr); err != nil {
			return err
		}
		d.console.Info("breakpoint set at %s", d.console.Address(addr))
		return nil

	case strings.Contains(target, ":"):
		file, lineStr, _ := strings.Cut(target, ":")
		line, err := strconv.Atoi(lineStr)
		if err != nil {
			return fmt.Errorf("invalid line %q: %w", lineStr, err)
		}
		addr, err := d.tracee.Info.AddressForLine(file, line)
		if err != nil {
			return err
		}
		if _, err := d.tracee.SetBreakpointAtFileAddress(addr); err != nil {
			return err
		}
		d.console.Info("breakpoint set at %s (%s)", d.console.Address(addr), target)
		return nil

	default:
		_, entry, err := d.tracee.SetBreakpointAtFunction(target)
		if err != nil {
			return err
		}
		d.console.Info("breakpoint set at %s (%s)", d.console.Address(entry), target)
		return nil
	}
}

func (d *Dispatcher) cmdRegistersDump(args []string) error {
	regs, err := d.tracee.Regs.Dump()
	if err != nil {
		return err
	}
	for _, r := range regs {
		d.console.Printf("%-10s %s\n", r.Name, d.console.Address(r.Value))
	}
	return nil
}

func (d *Dispatcher) cmdReadRegister(args []string) error {
	val, err := d.tracee.Regs.ReadName(args[0])
	if err != nil {
		return err
	}
	d.console.Printf("%s = %s\n", args[0], d.console.Address(val))
	return nil
}

func (d *Dispatcher) cmdWriteRegister(args []string) error {
	val, err := parseAddr(args[1])
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	return d.tracee.Regs.WriteName(args[0], val)
}

func (d *Dispatcher) cmdReadMemory(args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[0], err)
	}
	count := 1
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid count %q: %w", args[1], err)
		}
		count = n
	}
	runtimeAddr := d.tracee.toRuntime(addr)
	for i := 0; i < count; i++ {
		word, err := d.tracee.Mem.Peek(uintptr(runtimeAddr + uint64(i*8)))
		if err != nil {
			return err
		}
		d.console.Printf("%s: %s\n", d.console.Address(addr+uint64(i*8)), d.console.Address(word))
	}
	return nil
}

func (d *Dispatcher) cmdWriteMemory(args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[0], err)
	}
	val, err := parseAddr(args[1])
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	return d.tracee.Mem.Poke(uintptr(d.tracee.toRuntime(addr)), val)
}

func (d *Dispatcher) cmdSymbol(args []string) error {
	syms, err := d.tracee.LookupSymbol(args[0])
	if err != nil {
		return err
	}
	if len(syms) == 0 {
		return fmt.Errorf("no symbol matching %q", args[0])
	}
	for _, s := range syms {
		d.console.Printf("%s\n", formatSymbol(s))
	}
	return nil
}

func (d *Dispatcher) cmdStep(args []string) error {
	ev, err := d.tracee.StepIn()
	return d.reportStop(ev, err)
}

func (d *Dispatcher) cmdStepi(args []string) error {
	ev, err := d.tracee.SingleStep()
	return d.reportStop(ev, err)
}

func (d *Dispatcher) cmdNext(args []string) error {
	ev, err := d.tracee.StepOver()
	return d.reportStop(ev, err)
}

func (d *Dispatcher) cmdFinish(args []string) error {
	ev, err := d.tracee.StepOut()
	return d.reportStop(ev, err)
}

func (d *Dispatcher) cmdBacktrace(args []string) error {
	frames, err := d.tracee.Backtrace()
	if err != nil {
		return err
	}
	for i, f := range frames {
		name := f.Function
		if name == "" {
			name = "??"
		}
		d.console.Printf("#%-3d %s %s at %s:%d\n", i, d.console.Address(f.PC), name, f.File, f.Line)
	}
	return nil
}

func (d *Dispatcher) cmdVariables(args []string) error {
	vars, err := d.tracee.Variables()
	if err != nil {
		return err
	}
	for _, v := range vars {
		kind := "var "
		if v.IsParam {
			kind = "arg "
		}
		if v.Err != nil {
			d.console.Printf("%s%-16s <%v>\n", kind, v.Name, v.Err)
			continue
		}
		d.console.Printf("%s%-16s = %s\n", kind, v.Name, d.console.Address(v.Value))
	}
	return nil
}

func (d *Dispatcher) cmdDisassemble(args []string) error {
	count := 5
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid count %q: %w", args[0], err)
		}
		count = n
	}
	pc, err := d.tracee.PC()
	if err != nil {
		return err
	}
	lines, err := d.tracee.DisassembleAt(pc, count)
	if err != nil {
		return err
	}
	for _, l := range lines {
		d.console.Printf("%s\n", l)
	}
	return nil
}
