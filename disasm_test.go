package main

import "testing"

func TestPatchOutBreakpointsRestoresOriginalByte(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x1000] = 0
	bps := newBreakpointSet(mem)
	if _, err := bps.Set(0x1004); err != nil {
		t.Fatalf("Set: %v", err)
	}

	tracee := &Tracee{Breakpoints: bps}
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0xcc
	}

	tracee.patchOutBreakpoints(buf, 0x1000)

	for i, b := range buf {
		if i == 4 {
			if b != 0 {
				t.Errorf("byte at patched offset 4 = 0x%x, want the breakpoint's saved original 0x00", b)
			}
			continue
		}
		if b != 0xcc {
			t.Errorf("byte at offset %d = 0x%x, want untouched 0xcc", i, b)
		}
	}
}

func TestPatchOutBreakpointsIgnoresOutOfRange(t *testing.T) {
	mem := newFakeMemory()
	bps := newBreakpointSet(mem)
	if _, err := bps.Set(0x5000); err != nil {
		t.Fatalf("Set: %v", err)
	}

	tracee := &Tracee{Breakpoints: bps}
	buf := []byte{0xcc, 0xcc, 0xcc, 0xcc}
	tracee.patchOutBreakpoints(buf, 0x1000)

	for i, b := range buf {
		if b != 0xcc {
			t.Errorf("byte at offset %d changed to 0x%x, breakpoint address is out of this buffer's range", i, b)
		}
	}
}
