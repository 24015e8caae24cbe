package main

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// DisassembleAt decodes up to count instructions starting at the
// file-relative address fileAddr for display in the REPL, reading enough
// bytes from the tracee's own memory to cover count instructions of the
// longest possible x86-64 length. A decode failure ends the listing with a
// "(bad)" line.
func (t *Tracee) DisassembleAt(fileAddr uint64, count int) ([]string, error) {
	runtimeAddr := t.toRuntime(fileAddr)
	const maxInsnLen = 15
	buf := make([]byte, 0, count*maxInsnLen)
	addr := runtimeAddr
	for len(buf) < cap(buf) {
		word, err := t.Mem.Peek(uintptr(addr))
		if err != nil {
			break
		}
		for i := 0; i < 8; i++ {
			buf = append(buf, byte(word>>(8*i)))
		}
		addr += 8
	}

	// Any breakpoint's 0xCC patch bytes would otherwise corrupt the decode;
	// substitute the saved original byte before disassembling.
	t.patchOutBreakpoints(buf, runtimeAddr)

	var lines []string
	off := 0
	pc := fileAddr
	for i := 0; i < count && off < len(buf); i++ {
		inst, err := x86asm.Decode(buf[off:], 64)
		if err != nil {
			lines = append(lines, fmt.Sprintf("0x%016x\t(bad)", pc))
			break
		}
		lines = append(lines, fmt.Sprintf("0x%016x\t%s", pc, x86asm.GNUSyntax(inst, runtimeAddr+uint64(off), nil)))
		off += inst.Len
		pc += uint64(inst.Len)
	}
	return lines, nil
}

func (t *Tracee) patchOutBreakpoints(buf []byte, base uint64) {
	for addr, bp := range t.Breakpoints.m {
		if !bp.Enabled() {
			continue
		}
		a := uint64(addr)
		if a >= base && a < base+uint64(len(buf)) {
			buf[a-base] = bp.original
		}
	}
}
