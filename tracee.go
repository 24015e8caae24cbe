package main

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"unsafe"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"sdb/internal/dwarfinfo"
)

// Raw ptrace siginfo constants. golang.org/x/sys/unix doesn't expose ready
// wrappers for PTRACE_GETSIGINFO or the trap sub-codes, so these are taken
// straight from asm-generic/siginfo.h.
const (
	segvAccErr = 2    // SEGV_ACCERR: access to mapped but protected page
	trapBrkpt  = 1    // TRAP_BRKPT: process breakpoint
	siKernel   = 0x80 // SI_KERNEL: sent by the kernel, which is how int3 reports
)

// personality(2) constants for disabling ASLR on the launched child.
// golang.org/x/sys/unix has no wrapper for this syscall either.
const (
	personalityGetPersonality = 0xffffffff
	addrNoRandomize           = 0x0040000
)

// ptraceSiginfo mirrors the layout of the kernel's siginfo_t far enough to
// read si_signo/si_code and, for a fault signal, si_addr. The struct's true
// size is larger; the trailing pad absorbs the rest so Go's unsafe cast
// doesn't read past the buffer ptrace fills in.
type ptraceSiginfo struct {
	signo int32
	errno int32
	code  int32
	_     int32 // alignment padding before the union, matching the kernel layout
	addr  uint64
	pad   [104]byte // brings the struct to the kernel's 128-byte siginfo_t
}

func ptraceGetSiginfo(pid int) (ptraceSiginfo, error) {
	var info ptraceSiginfo
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, unix.PTRACE_GETSIGINFO, uintptr(pid), 0, uintptr(unsafe.Pointer(&info)), 0, 0)
	if errno != 0 {
		return ptraceSiginfo{}, errno
	}
	return info, nil
}

// StopReason classifies why wait() returned control to the debugger.
type StopReason int

const (
	StopBreakpoint StopReason = iota
	StopStep
	StopSignal
	StopExited
	StopSignaled
)

// StopEvent describes one tracee stop, with addresses already normalized to
// file-relative.
type StopEvent struct {
	Reason     StopReason
	PC         uint64
	Breakpoint *Breakpoint
	Signal     unix.Signal
	SignalName string
	FaultAddr  uint64
	FaultKind  string // for SIGSEGV: "unmapped" or "protected"; empty otherwise
	ExitCode   int
}

// Tracee is a running, traced process: its register/memory views, its
// breakpoints, and the debug-info handle used to resolve addresses. All
// addresses this type's methods accept or return are file-relative; load
// address normalization happens at the MemoryView/RegisterFile boundary
// only where noted.
type Tracee struct {
	pid         int
	rpc         *traceWorker
	Regs        RegisterFile
	Mem         MemoryView
	Breakpoints *BreakpointSet
	Info        *dwarfinfo.Handle
	LoadAddress uint64
	path        string
	elfType     elf.Type
	exited      bool
	pty         *os.File
}

func resolveBinaryPath(bin string) (string, error) {
	if strings.HasPrefix(bin, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		bin = filepath.Join(home, bin[1:])
	}
	return filepath.Abs(bin)
}

// Launch starts path under ptrace (PTRACE_TRACEME in the child, as
// exec.Cmd's SysProcAttr.Ptrace arranges) and stops it at its very first
// instruction, before any of its own code has run. When usePty is set, the
// tracee's stdio is attached to a pseudo-terminal instead of being
// inherited directly, so its output can't interleave mid-line with the
// debugger's own REPL prompt.
func Launch(path string, args []string, usePty bool) (*Tracee, error) {
	absPath, err := resolveBinaryPath(path)
	if err != nil {
		return nil, err
	}

	info, err := dwarfinfo.Open(absPath)
	if err != nil {
		return nil, err
	}

	f, err := elf.Open(absPath)
	if err != nil {
		info.Close()
		return nil, err
	}
	elfType := f.Type
	f.Close()

	rpc := newTraceWorker()

	t := &Tracee{
		rpc:     rpc,
		path:    absPath,
		elfType: elfType,
		Info:    info,
	}

	var ptyMaster *os.File
	err = traceCallErr(rpc, func() error {
		// Disable ASLR for the child so the PIE load address is stable across
		// runs; breakpoints set by file-relative address would otherwise need
		// re-resolving on every launch. The toggle is per-thread and this
		// closure runs pinned to the trace worker's locked OS thread, the same
		// thread that forks+execs the child below.
		oldPersonality, _, perr := syscall.Syscall(syscall.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
		if perr == syscall.Errno(0) {
			syscall.Syscall(syscall.SYS_PERSONALITY, oldPersonality|addrNoRandomize, 0, 0)
			defer syscall.Syscall(syscall.SYS_PERSONALITY, oldPersonality, 0, 0)
		}

		cmd := exec.Command(absPath, args...)
		cmd.SysProcAttr = &unix.SysProcAttr{Ptrace: true}

		if usePty {
			master, slave, err := pty.Open()
			if err != nil {
				return fmt.Errorf("open pty: %w", err)
			}
			defer slave.Close()
			cmd.Stdin = slave
			cmd.Stdout = slave
			cmd.Stderr = slave
			if err := cmd.Start(); err != nil {
				master.Close()
				return err
			}
			ptyMaster = master
		} else {
			cmd.Stdin = os.Stdin
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Start(); err != nil {
				return err
			}
		}
		t.pid = cmd.Process.Pid
		return nil
	})
	if err != nil {
		info.Close()
		return nil, err
	}

	if ptyMaster != nil {
		t.pty = ptyMaster
		go io.Copy(os.Stdout, ptyMaster)
	}

	t.Regs = RegisterFile{pid: t.pid, rpc: rpc}
	t.Mem = MemoryView{pid: t.pid, rpc: rpc}
	t.Breakpoints = newBreakpointSet(t.Mem)

	if _, err := t.wait(); err != nil {
		info.Close()
		return nil, err
	}

	if err := t.computeLoadAddress(); err != nil {
		info.Close()
		return nil, err
	}

	return t, nil
}

// Attach stops an already-running process with PTRACE_ATTACH.
func Attach(pid int) (*Tracee, error) {
	if !processAlive(pid) {
		return nil, fmt.Errorf("process %d does not exist", pid)
	}

	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return nil, fmt.Errorf("resolve executable for pid %d: %w", pid, err)
	}

	info, err := dwarfinfo.Open(exe)
	if err != nil {
		return nil, err
	}
	f, err := elf.Open(exe)
	if err != nil {
		info.Close()
		return nil, err
	}
	elfType := f.Type
	f.Close()

	rpc := newTraceWorker()
	t := &Tracee{pid: pid, rpc: rpc, path: exe, elfType: elfType, Info: info}
	t.Regs = RegisterFile{pid: pid, rpc: rpc}
	t.Mem = MemoryView{pid: pid, rpc: rpc}
	t.Breakpoints = newBreakpointSet(t.Mem)

	err = traceCallErr(rpc, func() error {
		return unix.PtraceAttach(pid)
	})
	if err != nil {
		info.Close()
		return nil, formatPtraceError("attach", pid, err)
	}

	if _, err := t.wait(); err != nil {
		info.Close()
		return nil, err
	}

	if err := t.computeLoadAddress(); err != nil {
		info.Close()
		return nil, err
	}

	return t, nil
}

func (t *Tracee) Detach() error {
	err := traceCallErr(t.rpc, func() error {
		return unix.PtraceDetach(t.pid)
	})
	t.Info.Close()
	t.rpc.close()
	if t.pty != nil {
		t.pty.Close()
	}
	return err
}

// IsPIE reports whether the tracee's image is position-independent.
func (t *Tracee) IsPIE() bool { return t.elfType == elf.ET_DYN }

func (t *Tracee) computeLoadAddress() error {
	base, err := t.Info.LoadAddress(t.pid)
	if err != nil {
		return err
	}
	t.LoadAddress = base
	return nil
}

func processAlive(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

func formatPtraceError(op string, pid int, err error) error {
	switch err {
	case unix.ESRCH:
		return fmt.Errorf("%s failed: process %d does not exist or has exited", op, pid)
	case unix.EPERM:
		return fmt.Errorf("%s failed: permission denied", op)
	case unix.EBUSY:
		return fmt.Errorf("%s failed: process is busy", op)
	default:
		return fmt.Errorf("%s failed: %w", op, err)
	}
}

func signalName(sig unix.Signal) string {
	if s := unix.SignalName(sig); s != "" {
		return s
	}
	return fmt.Sprintf("signal %d", sig)
}

// wait blocks for the next tracee stop/exit and classifies it. A SIGTRAP
// whose si_code is SI_KERNEL or TRAP_BRKPT is a breakpoint trap: the int3
// leaves RIP one past the breakpoint address, so RIP is rewound by one byte,
// whether or not a Breakpoint is registered there. Every other SIGTRAP
// (single-step completion, the initial exec stop) is reported as StopStep.
func (t *Tracee) wait() (*StopEvent, error) {
	var ws unix.WaitStatus
	err := traceCallErr(t.rpc, func() error {
		_, err := unix.Wait4(t.pid, &ws, 0, nil)
		return err
	})
	if err != nil {
		return nil, formatPtraceError("wait", t.pid, err)
	}

	if ws.Exited() {
		t.exited = true
		return &StopEvent{Reason: StopExited, ExitCode: ws.ExitStatus()}, nil
	}
	if ws.Signaled() {
		t.exited = true
		sig := ws.Signal()
		return &StopEvent{Reason: StopSignaled, Signal: sig, SignalName: signalName(sig)}, nil
	}
	if !ws.Stopped() {
		return nil, fmt.Errorf("wait4: unexpected status %v", ws)
	}

	sig := ws.StopSignal()
	if sig != unix.SIGTRAP {
		rip, _ := t.Regs.Rip()
		ev := &StopEvent{Reason: StopSignal, PC: t.toFileRelative(rip), Signal: sig, SignalName: signalName(sig)}
		if sig == unix.SIGSEGV {
			info, siErr := traceCall(t.rpc, func() (ptraceSiginfo, error) { return ptraceGetSiginfo(t.pid) })
			if siErr == nil {
				ev.FaultKind = "unmapped"
				if info.code == segvAccErr {
					ev.FaultKind = "protected"
				}
				ev.FaultAddr = t.toFileRelative(info.addr)
			}
		}
		return ev, nil
	}

	rip, err := t.Regs.Rip()
	if err != nil {
		return nil, err
	}

	info, siErr := traceCall(t.rpc, func() (ptraceSiginfo, error) { return ptraceGetSiginfo(t.pid) })
	if siErr == nil && (info.code == siKernel || info.code == trapBrkpt) {
		breakAddr := rip - 1
		if err := t.Regs.SetRip(breakAddr); err != nil {
			return nil, err
		}
		bp, _ := t.Breakpoints.At(uintptr(breakAddr))
		return &StopEvent{Reason: StopBreakpoint, PC: t.toFileRelative(breakAddr), Breakpoint: bp}, nil
	}

	return &StopEvent{Reason: StopStep, PC: t.toFileRelative(rip)}, nil
}

func (t *Tracee) toFileRelative(addr uint64) uint64 {
	if addr < t.LoadAddress {
		return addr
	}
	return addr - t.LoadAddress
}

func (t *Tracee) toRuntime(addr uint64) uint64 {
	return addr + t.LoadAddress
}

// stepOverBreakpoint temporarily removes a breakpoint installed at the
// current PC (if any), single-steps past it, and restores it, so that
// resuming never immediately retraps on the same address.
func (t *Tracee) stepOverBreakpoint() error {
	rip, err := t.Regs.Rip()
	if err != nil {
		return err
	}
	bp, ok := t.Breakpoints.At(uintptr(rip))
	if !ok || !bp.Enabled() {
		return nil
	}
	if err := bp.Disable(t.Mem); err != nil {
		return err
	}
	err = traceCallErr(t.rpc, func() error {
		return unix.PtraceSingleStep(t.pid)
	})
	if err != nil {
		return err
	}
	if _, err := t.wait(); err != nil {
		return err
	}
	return bp.Enable(t.Mem)
}

// Continue steps over any breakpoint sitting at the current PC, then lets
// the tracee run until the next trap or exit.
func (t *Tracee) Continue() (*StopEvent, error) {
	if t.exited {
		return nil, errors.New("process is not alive")
	}
	if err := t.stepOverBreakpoint(); err != nil {
		return nil, err
	}
	if t.exited {
		return &StopEvent{Reason: StopExited}, nil
	}
	err := traceCallErr(t.rpc, func() error {
		return unix.PtraceCont(t.pid, 0)
	})
	if err != nil {
		return nil, err
	}
	return t.wait()
}

// SingleStep steps over a breakpoint at the current PC if present,
// otherwise executes exactly one instruction.
func (t *Tracee) SingleStep() (*StopEvent, error) {
	if t.exited {
		return nil, errors.New("process is not alive")
	}
	rip, err := t.Regs.Rip()
	if err != nil {
		return nil, err
	}
	if bp, ok := t.Breakpoints.At(uintptr(rip)); ok && bp.Enabled() {
		if err := t.stepOverBreakpoint(); err != nil {
			return nil, err
		}
		newRip, err := t.Regs.Rip()
		if err != nil {
			return nil, err
		}
		return &StopEvent{Reason: StopStep, PC: t.toFileRelative(newRip)}, nil
	}
	err = traceCallErr(t.rpc, func() error {
		return unix.PtraceSingleStep(t.pid)
	})
	if err != nil {
		return nil, err
	}
	return t.wait()
}

func (t *Tracee) SetBreakpointAtFileAddress(fileAddr uint64) (*Breakpoint, error) {
	return t.Breakpoints.Set(uintptr(t.toRuntime(fileAddr)))
}

func (t *Tracee) RemoveBreakpointAtFileAddress(fileAddr uint64) error {
	return t.Breakpoints.Remove(uintptr(t.toRuntime(fileAddr)))
}

// PC returns the current file-relative program counter.
func (t *Tracee) PC() (uint64, error) {
	rip, err := t.Regs.Rip()
	if err != nil {
		return 0, err
	}
	return t.toFileRelative(rip), nil
}

