package main

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// registerBlock is the 27-field general-purpose register block laid out
// exactly like unix.PtraceRegs / the kernel's user_regs_struct on
// linux/amd64: R15..Gs in that order. Treating the block as an array lets
// ordinal addressing (regEntries[i].ordinal) work the same way PTRACE_PEEKUSER
// offsets do on the C side.
type registerBlock [27]uint64

func asRegisterBlock(r *unix.PtraceRegs) *registerBlock {
	return (*registerBlock)(unsafe.Pointer(r))
}

// regEntry is one row of the Register Mapping Table: a symbolic name, its
// ordinal (position in the user-register block) and its DWARF register
// number, where one exists. The table is the single source of truth;
// name/ordinal/DWARF-number are all looked up through it.
type regEntry struct {
	name     string
	ordinal  int
	dwarfNum int // -1 if this register has no DWARF number (e.g. rip)
}

// registerTable mirrors original_source/include/registers.h: the enum order
// is dictated by sys/user.h, and the DWARF numbers follow the SysV x86-64
// psABI (§3, figure 3.36).
var registerTable = []regEntry{
	{"r15", 0, 15},
	{"r14", 1, 14},
	{"r13", 2, 13},
	{"r12", 3, 12},
	{"rbp", 4, 6},
	{"rbx", 5, 3},
	{"r11", 6, 11},
	{"r10", 7, 10},
	{"r9", 8, 9},
	{"r8", 9, 8},
	{"rax", 10, 0},
	{"rcx", 11, 2},
	{"rdx", 12, 1},
	{"rsi", 13, 4},
	{"rdi", 14, 5},
	{"orig_rax", 15, -1},
	{"rip", 16, -1},
	{"cs", 17, 51},
	{"eflags", 18, 49},
	{"rsp", 19, 7},
	{"ss", 20, 52},
	{"fs_base", 21, 58},
	{"gs_base", 22, 59},
	{"ds", 23, 53},
	{"es", 24, 50},
	{"fs", 25, 54},
	{"gs", 26, 55},
}

var registerCount = len(registerTable)

var (
	errUnknownRegister      = fmt.Errorf("unknown register")
	errUnknownDwarfRegister = fmt.Errorf("unknown DWARF register")
)

func registerByName(name string) (regEntry, bool) {
	name = strings.ToLower(name)
	for _, e := range registerTable {
		if e.name == name {
			return e, true
		}
	}
	return regEntry{}, false
}

func registerByDwarfNum(n int) (regEntry, bool) {
	if n < 0 {
		return regEntry{}, false
	}
	for _, e := range registerTable {
		if e.dwarfNum == n {
			return e, true
		}
	}
	return regEntry{}, false
}

// RegisterFile is a value type bound to a tracee PID: typed read/write of
// the general-purpose register set via the trace syscall facade.
type RegisterFile struct {
	pid int
	rpc *traceWorker
}

func (r RegisterFile) getRegs() (*unix.PtraceRegs, error) {
	return traceCall(r.rpc, func() (*unix.PtraceRegs, error) {
		var regs unix.PtraceRegs
		err := unix.PtraceGetRegs(r.pid, &regs)
		if err != nil {
			return nil, err
		}
		return &regs, nil
	})
}

func (r RegisterFile) setRegs(regs *unix.PtraceRegs) error {
	return traceCallErr(r.rpc, func() error {
		return unix.PtraceSetRegs(r.pid, regs)
	})
}

// ReadOrdinal fetches the full register block and returns the field at the
// given ordinal position (0 <= id < 27).
func (r RegisterFile) ReadOrdinal(id int) (uint64, error) {
	if id < 0 || id >= registerCount {
		return 0, fmt.Errorf("register ordinal %d out of range", id)
	}
	regs, err := r.getRegs()
	if err != nil {
		return 0, err
	}
	return asRegisterBlock(regs)[id], nil
}

// WriteOrdinal bounds-checks id, then performs a read-modify-write of the
// whole register block.
func (r RegisterFile) WriteOrdinal(id int, val uint64) error {
	if id < 0 || id >= registerCount {
		return fmt.Errorf("register ordinal %d out of range", id)
	}
	regs, err := r.getRegs()
	if err != nil {
		return err
	}
	asRegisterBlock(regs)[id] = val
	return r.setRegs(regs)
}

// ReadName resolves name via the Register Mapping Table and returns its
// current value.
func (r RegisterFile) ReadName(name string) (uint64, error) {
	e, ok := registerByName(name)
	if !ok {
		return 0, errUnknownRegister
	}
	return r.ReadOrdinal(e.ordinal)
}

// WriteName resolves name via the Register Mapping Table and writes val.
func (r RegisterFile) WriteName(name string, val uint64) error {
	e, ok := registerByName(name)
	if !ok {
		return errUnknownRegister
	}
	return r.WriteOrdinal(e.ordinal, val)
}

// ReadDwarf resolves a DWARF register number via the Mapping Table's DWARF
// column.
func (r RegisterFile) ReadDwarf(n int) (uint64, error) {
	e, ok := registerByDwarfNum(n)
	if !ok {
		return 0, errUnknownDwarfRegister
	}
	return r.ReadOrdinal(e.ordinal)
}

// Rip is a convenience accessor used throughout the controller and
// stepping engine, which consult the program counter constantly.
func (r RegisterFile) Rip() (uint64, error) { return r.ReadName("rip") }

func (r RegisterFile) SetRip(val uint64) error { return r.WriteName("rip", val) }

func (r RegisterFile) Rbp() (uint64, error) { return r.ReadName("rbp") }

// Dump returns every register's current value in table declaration order,
// for the registers-dump command.
func (r RegisterFile) Dump() ([]struct {
	Name  string
	Value uint64
}, error) {
	regs, err := r.getRegs()
	if err != nil {
		return nil, err
	}
	block := asRegisterBlock(regs)
	out := make([]struct {
		Name  string
		Value uint64
	}, 0, registerCount)
	for _, e := range registerTable {
		out = append(out, struct {
			Name  string
			Value uint64
		}{e.name, block[e.ordinal]})
	}
	return out, nil
}
