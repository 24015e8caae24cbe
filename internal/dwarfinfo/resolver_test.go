package dwarfinfo

import (
	"debug/dwarf"
	"testing"
)

func entryWith(fields ...dwarf.Field) *dwarf.Entry {
	return &dwarf.Entry{Field: fields}
}

func TestPcRangeAbsoluteHighPC(t *testing.T) {
	e := entryWith(
		dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x1000), Class: dwarf.ClassAddress},
		dwarf.Field{Attr: dwarf.AttrHighpc, Val: uint64(0x2000), Class: dwarf.ClassAddress},
	)
	low, high, ok := pcRange(e)
	if !ok || low != 0x1000 || high != 0x2000 {
		t.Fatalf("pcRange = %x, %x, %v, want 0x1000, 0x2000, true", low, high, ok)
	}
}

func TestPcRangeOffsetHighPC(t *testing.T) {
	// DWARF4+ producers commonly encode high_pc as an offset (a constant)
	// from low_pc rather than an absolute address.
	e := entryWith(
		dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x1000), Class: dwarf.ClassAddress},
		dwarf.Field{Attr: dwarf.AttrHighpc, Val: int64(0x50), Class: dwarf.ClassConstant},
	)
	low, high, ok := pcRange(e)
	if !ok || low != 0x1000 || high != 0x1050 {
		t.Fatalf("pcRange = %x, %x, %v, want 0x1000, 0x1050, true", low, high, ok)
	}
}

func TestPcRangeMissingLowPC(t *testing.T) {
	e := entryWith(dwarf.Field{Attr: dwarf.AttrName, Val: "x", Class: dwarf.ClassString})
	if _, _, ok := pcRange(e); ok {
		t.Fatal("expected pcRange to fail without AttrLowpc")
	}
}

func TestContains(t *testing.T) {
	if !contains(0x1000, 0x2000, 0x1500, true) {
		t.Fatal("0x1500 should be inside [0x1000, 0x2000)")
	}
	if contains(0x1000, 0x2000, 0x2000, true) {
		t.Fatal("high_pc is exclusive: 0x2000 should not be inside [0x1000, 0x2000)")
	}
	if contains(0x1000, 0x2000, 0x1500, false) {
		t.Fatal("contains should be false when ok is false")
	}
}

func TestFrameBaseHelper(t *testing.T) {
	e := entryWith(
		dwarf.Field{Attr: dwarf.AttrFrameBase, Val: []byte{0x91, 0x00}, Class: dwarf.ClassExprLoc},
	)
	loc, ok := FrameBase(e)
	if !ok || len(loc) != 2 {
		t.Fatalf("FrameBase = %v, %v, want a 2-byte expression", loc, ok)
	}
}

func TestFrameBaseMissing(t *testing.T) {
	e := entryWith(dwarf.Field{Attr: dwarf.AttrName, Val: "f", Class: dwarf.ClassString})
	if _, ok := FrameBase(e); ok {
		t.Fatal("expected FrameBase to report absent when there is no DW_AT_frame_base")
	}
}
