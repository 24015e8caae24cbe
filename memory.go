package main

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// MemoryView is a value type bound to a tracee PID: word-sized peek/poke
// of its address space. Subword accesses are out of scope; callers that
// need them do their own read-modify-write, same as the Breakpoint Engine
// does for its single patched byte.
type MemoryView struct {
	pid int
	rpc *traceWorker
}

// Peek reads the 8-byte word at addr.
func (m MemoryView) Peek(addr uintptr) (uint64, error) {
	return traceCall(m.rpc, func() (uint64, error) {
		buf := make([]byte, 8)
		n, err := unix.PtracePeekData(m.pid, addr, buf)
		if err != nil {
			return 0, err
		}
		if n != 8 {
			return 0, fmt.Errorf("short peek at 0x%x: read %d bytes", addr, n)
		}
		return binary.LittleEndian.Uint64(buf), nil
	})
}

// Poke writes the 8-byte word val at addr.
func (m MemoryView) Poke(addr uintptr, val uint64) error {
	return traceCallErr(m.rpc, func() error {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, val)
		n, err := unix.PtracePokeData(m.pid, addr, buf)
		if err != nil {
			return err
		}
		if n != 8 {
			return fmt.Errorf("short poke at 0x%x: wrote %d bytes", addr, n)
		}
		return nil
	})
}
