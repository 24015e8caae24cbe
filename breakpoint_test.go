package main

import "testing"

type fakeMemory struct {
	words map[uintptr]uint64
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{words: make(map[uintptr]uint64)}
}

func (f *fakeMemory) Peek(addr uintptr) (uint64, error) {
	return f.words[addr], nil
}

func (f *fakeMemory) Poke(addr uintptr, val uint64) error {
	f.words[addr] = val
	return nil
}

func TestBreakpointEnableDisableRestoresOriginalByte(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x1000] = 0x1122334455667788

	bp := &Breakpoint{Addr: 0x1000}
	if err := bp.Enable(mem); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !bp.Enabled() {
		t.Fatal("expected Enabled() == true after Enable")
	}
	if got := mem.words[0x1000] & 0xff; got != int3 {
		t.Fatalf("expected patched low byte 0xcc, got 0x%x", got)
	}

	if err := bp.Disable(mem); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if bp.Enabled() {
		t.Fatal("expected Enabled() == false after Disable")
	}
	if got := mem.words[0x1000]; got != 0x1122334455667788 {
		t.Fatalf("expected original word restored, got 0x%x", got)
	}
}

func TestBreakpointEnableIsIdempotent(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x2000] = 0xdeadbeefcafebabe

	bp := &Breakpoint{Addr: 0x2000}
	if err := bp.Enable(mem); err != nil {
		t.Fatalf("first Enable: %v", err)
	}
	saved := bp.original
	if err := bp.Enable(mem); err != nil {
		t.Fatalf("second Enable: %v", err)
	}
	if bp.original != saved {
		t.Fatal("second Enable overwrote the saved original byte")
	}
}

func TestBreakpointDisableIsIdempotent(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x3000] = 0x1

	bp := &Breakpoint{Addr: 0x3000}
	if err := bp.Disable(mem); err != nil {
		t.Fatalf("Disable on never-enabled breakpoint: %v", err)
	}
	if mem.words[0x3000] != 0x1 {
		t.Fatal("Disable on a never-enabled breakpoint should not touch memory")
	}
}

func TestBreakpointSetRemove(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x4000] = 0xff00ff00ff00ff00

	set := newBreakpointSet(mem)
	bp, err := set.Set(0x4000)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !set.Has(0x4000) {
		t.Fatal("expected Has(0x4000) == true after Set")
	}
	if !bp.Enabled() {
		t.Fatal("expected breakpoint to be enabled after Set")
	}

	if err := set.Remove(0x4000); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if set.Has(0x4000) {
		t.Fatal("expected Has(0x4000) == false after Remove")
	}
	if mem.words[0x4000] != 0xff00ff00ff00ff00 {
		t.Fatal("Remove should have restored the original byte")
	}

	if err := set.Remove(0x4000); err != nil {
		t.Fatalf("Remove on absent breakpoint should be a no-op, got: %v", err)
	}
}

func TestBreakpointSetReplacesExisting(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x5000] = 0xaaaaaaaaaaaaaaaa

	set := newBreakpointSet(mem)
	if _, err := set.Set(0x5000); err != nil {
		t.Fatalf("first Set: %v", err)
	}
	second, err := set.Set(0x5000)
	if err != nil {
		t.Fatalf("second Set: %v", err)
	}
	if _, ok := set.At(0x5000); !ok {
		t.Fatal("expected breakpoint present after replacement")
	}
	if !second.Enabled() {
		t.Fatal("replacement breakpoint should be enabled")
	}
}
