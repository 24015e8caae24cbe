package main

import "testing"

func TestRegisterByNameKnownRegisters(t *testing.T) {
	cases := []struct {
		name     string
		ordinal  int
		dwarfNum int
	}{
		{"rip", 16, -1},
		{"rax", 10, 0},
		{"rsp", 19, 7},
		{"rbp", 4, 6},
	}
	for _, c := range cases {
		e, ok := registerByName(c.name)
		if !ok {
			t.Fatalf("registerByName(%q): not found", c.name)
		}
		if e.ordinal != c.ordinal {
			t.Errorf("registerByName(%q).ordinal = %d, want %d", c.name, e.ordinal, c.ordinal)
		}
		if e.dwarfNum != c.dwarfNum {
			t.Errorf("registerByName(%q).dwarfNum = %d, want %d", c.name, e.dwarfNum, c.dwarfNum)
		}
	}
}

func TestRegisterByNameIsCaseInsensitive(t *testing.T) {
	if _, ok := registerByName("RAX"); !ok {
		t.Fatal("expected registerByName to be case-insensitive")
	}
}

func TestRegisterByNameUnknown(t *testing.T) {
	if _, ok := registerByName("not_a_register"); ok {
		t.Fatal("expected unknown register name to fail lookup")
	}
}

func TestRegisterByDwarfNum(t *testing.T) {
	e, ok := registerByDwarfNum(0)
	if !ok || e.name != "rax" {
		t.Fatalf("registerByDwarfNum(0) = %+v, %v, want rax", e, ok)
	}

	if _, ok := registerByDwarfNum(-1); ok {
		t.Fatal("DWARF register -1 should never resolve (rip/orig_rax have no DWARF number)")
	}
}

func TestRegisterTableOrdinalsAreUniqueAndDense(t *testing.T) {
	seen := make(map[int]bool)
	for _, e := range registerTable {
		if seen[e.ordinal] {
			t.Fatalf("duplicate ordinal %d for register %s", e.ordinal, e.name)
		}
		seen[e.ordinal] = true
	}
	if len(seen) != registerCount {
		t.Fatalf("expected %d distinct ordinals, got %d", registerCount, len(seen))
	}
	for i := 0; i < registerCount; i++ {
		if !seen[i] {
			t.Fatalf("ordinal %d missing from register table", i)
		}
	}
}
