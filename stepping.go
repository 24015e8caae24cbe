package main

import (
	"debug/dwarf"
	"fmt"

	"sdb/internal/dwarfinfo"
)

const maxBacktraceFrames = 1024

// locationContext adapts a Tracee to dwarfinfo.LocationContext.
type locationContext struct{ t *Tracee }

func (c locationContext) ReadDwarfReg(n int) (uint64, error) { return c.t.Regs.ReadDwarf(n) }
func (c locationContext) PC() uint64                         { pc, _ := c.t.PC(); return pc }
func (c locationContext) DerefWord(addr uint64) (uint64, error) {
	return c.t.Mem.Peek(uintptr(addr))
}

// currentLine returns the line-table entry enclosing the current PC.
func (t *Tracee) currentLine() (dwarfinfo.LineEntry, error) {
	pc, err := t.PC()
	if err != nil {
		return dwarfinfo.LineEntry{}, err
	}
	return t.Info.LineAt(pc)
}

// StepIn single-steps instructions until the source line changes, skipping
// over instructions with no associated line-table entry (typically PLT
// stubs and other code compiled without debug info).
func (t *Tracee) StepIn() (*StopEvent, error) {
	start, err := t.currentLine()
	if err != nil {
		return nil, err
	}

	for {
		ev, err := t.SingleStep()
		if err != nil || ev.Reason == StopExited || ev.Reason == StopSignaled {
			return ev, err
		}
		line, err := t.Info.LineAt(ev.PC)
		if err != nil {
			continue // no line info at this pc, keep stepping
		}
		if line.Line != start.Line || line.File != start.File {
			return ev, nil
		}
	}
}

// returnAddress reads the caller's return address off the current frame,
// assuming frame-pointer-preserving codegen: [rbp+8] holds it.
func (t *Tracee) returnAddress() (uint64, error) {
	rbp, err := t.Regs.Rbp()
	if err != nil {
		return 0, err
	}
	word, err := t.Mem.Peek(uintptr(rbp + 8))
	if err != nil {
		return 0, err
	}
	return t.toFileRelative(word), nil
}

// runToFileAddress sets a temporary breakpoint at addr (unless one already
// exists there), continues, and removes the temporary one again before
// returning; a breakpoint that already existed at addr is left in place.
func (t *Tracee) runToFileAddress(addr uint64) (*StopEvent, error) {
	runtimeAddr := uintptr(t.toRuntime(addr))
	owned := !t.Breakpoints.Has(runtimeAddr)
	if owned {
		if _, err := t.Breakpoints.Set(runtimeAddr); err != nil {
			return nil, err
		}
	}

	ev, err := t.Continue()

	if owned {
		if rmErr := t.Breakpoints.Remove(runtimeAddr); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return ev, err
}

// StepOut runs the tracee until it returns from the current function.
func (t *Tracee) StepOut() (*StopEvent, error) {
	ret, err := t.returnAddress()
	if err != nil {
		return nil, err
	}
	return t.runToFileAddress(ret)
}

// StepOver runs the tracee to the next source line within the current
// function, without descending into calls: a temporary breakpoint is set on
// the function's return address and on every other is_stmt line-table entry
// belonging to the function, and whichever fires first wins.
func (t *Tracee) StepOver() (*StopEvent, error) {
	pc, err := t.PC()
	if err != nil {
		return nil, err
	}
	fn, err := t.Info.FunctionAt(pc)
	if err != nil {
		return t.StepIn()
	}
	low, high, ok := dwarfFuncRange(fn)
	if !ok {
		return t.StepIn()
	}

	start, err := t.currentLine()
	if err != nil {
		return nil, err
	}

	ret, err := t.returnAddress()
	if err != nil {
		return nil, err
	}

	var toClear []uintptr
	addBreak := func(addr uint64) error {
		runtimeAddr := uintptr(t.toRuntime(addr))
		if t.Breakpoints.Has(runtimeAddr) {
			return nil
		}
		if _, err := t.Breakpoints.Set(runtimeAddr); err != nil {
			return err
		}
		toClear = append(toClear, runtimeAddr)
		return nil
	}

	if err := addBreak(ret); err != nil {
		return nil, err
	}

	addr := low
	for addr < high {
		line, err := t.Info.LineAt(addr)
		if err == nil && line.IsStmt && line.Address != start.Address {
			if err := addBreak(line.Address); err != nil {
				return nil, err
			}
		}
		next, err := t.Info.LineAfter(addr)
		if err != nil {
			break
		}
		if next.Address <= addr {
			break
		}
		addr = next.Address
	}

	ev, err := t.Continue()

	for _, a := range toClear {
		if rmErr := t.Breakpoints.Remove(a); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return ev, err
}

func dwarfFuncRange(fn *dwarf.Entry) (low, high uint64, ok bool) {
	lowVal, lok := fn.Val(dwarf.AttrLowpc).(uint64)
	if !lok {
		return 0, 0, false
	}
	highField := fn.AttrField(dwarf.AttrHighpc)
	if highField == nil {
		return 0, 0, false
	}
	switch v := highField.Val.(type) {
	case uint64:
		if highField.Class == dwarf.ClassAddress {
			return lowVal, v, true
		}
		return lowVal, lowVal + v, true
	case int64:
		return lowVal, lowVal + uint64(v), true
	}
	return 0, 0, false
}

// Frame is one entry of a backtrace: the calling site's address and, where
// debug info resolves it, its function name and source location.
type Frame struct {
	PC       uint64
	Function string
	File     string
	Line     int
}

// Backtrace walks the rbp chain from the current frame outward, stopping
// once it reports the frame whose function is named "main". When main
// can't be resolved (stripped binary, inlined entry, or code compiled
// without frame pointers), maxBacktraceFrames bounds the walk instead of
// running away on garbage return addresses.
func (t *Tracee) Backtrace() ([]Frame, error) {
	pc, err := t.PC()
	if err != nil {
		return nil, err
	}
	rbp, err := t.Regs.Rbp()
	if err != nil {
		return nil, err
	}

	var frames []Frame
	for i := 0; i < maxBacktraceFrames; i++ {
		frame := t.describeFrame(pc)
		frames = append(frames, frame)

		if frame.Function == "main" {
			break
		}
		if rbp == 0 {
			break
		}
		retWord, err := t.Mem.Peek(uintptr(rbp + 8))
		if err != nil {
			break
		}
		savedRbp, err := t.Mem.Peek(uintptr(rbp))
		if err != nil {
			break
		}
		ret := t.toFileRelative(retWord)
		if ret == 0 {
			break
		}
		if _, ferr := t.Info.FunctionAt(ret); ferr != nil {
			break
		}
		pc = ret
		rbp = savedRbp
	}
	return frames, nil
}

func (t *Tracee) describeFrame(pc uint64) Frame {
	f := Frame{PC: pc}
	if fn, err := t.Info.FunctionAt(pc); err == nil {
		if name, ok := fn.Val(dwarf.AttrName).(string); ok {
			f.Function = name
		}
	}
	if line, err := t.Info.LineAt(pc); err == nil {
		f.File = line.File
		f.Line = line.Line
	}
	return f
}

// ResolvedVariable is a named variable together with its evaluated location
// and its current word value, read from memory for an address location or
// from the register for a register location.
type ResolvedVariable struct {
	Name    string
	IsParam bool
	Located dwarfinfo.Located
	Value   uint64
	Err     error
}

// Variables evaluates every formal parameter and local variable declared
// directly in the function at the current PC; variables of nested lexical
// blocks are not included.
func (t *Tracee) Variables() ([]ResolvedVariable, error) {
	pc, err := t.PC()
	if err != nil {
		return nil, err
	}
	fn, err := t.Info.FunctionAt(pc)
	if err != nil {
		return nil, err
	}
	vars, err := t.Info.Variables(fn)
	if err != nil {
		return nil, err
	}

	frameReg, frameOff, frameOK := 0, int64(0), false
	if fb, ok := dwarfinfo.FrameBase(fn); ok {
		frameReg, frameOff, frameOK = dwarfinfo.FrameBaseFromExpr(fb)
	}

	ctx := locationContext{t}
	out := make([]ResolvedVariable, 0, len(vars))
	for _, v := range vars {
		located, err := dwarfinfo.Evaluate(v.Location, ctx, frameReg, frameOff, frameOK)
		rv := ResolvedVariable{Name: v.Name, IsParam: v.IsParam, Located: located, Err: err}
		if err == nil && !located.IsRegister {
			addr := located.Address
			if located.NeedsLoadBias {
				addr = t.toRuntime(addr)
			}
			if word, perr := t.Mem.Peek(uintptr(addr)); perr == nil {
				rv.Value = word
			} else {
				rv.Err = perr
			}
		} else if err == nil && located.IsRegister {
			if word, rerr := t.Regs.ReadDwarf(located.Register); rerr == nil {
				rv.Value = word
			} else {
				rv.Err = rerr
			}
		}
		out = append(out, rv)
	}
	return out, nil
}

// SetBreakpointAtFunction resolves name to its entry address, skips its
// prologue (the first is_stmt line after the low_pc, matching where a
// source-level breakpoint is conventionally set), and installs a breakpoint
// there.
func (t *Tracee) SetBreakpointAtFunction(name string) (*Breakpoint, uint64, error) {
	fns, err := t.Info.FunctionByName(name)
	if err != nil {
		return nil, 0, err
	}
	if len(fns) == 0 {
		return nil, 0, fmt.Errorf("no function named %q", name)
	}
	low, _, ok := dwarfFuncRange(fns[0])
	if !ok {
		return nil, 0, fmt.Errorf("function %q has no address range", name)
	}
	entry := low
	if next, err := t.Info.LineAfter(low); err == nil {
		entry = next.Address
	}
	bp, err := t.SetBreakpointAtFileAddress(entry)
	return bp, entry, err
}
