package dwarfinfo

import (
	"encoding/binary"
	"testing"
)

type fakeLocationContext struct {
	regs map[int]uint64
	pc   uint64
	mem  map[uint64]uint64
}

func (f fakeLocationContext) ReadDwarfReg(n int) (uint64, error) { return f.regs[n], nil }
func (f fakeLocationContext) PC() uint64                         { return f.pc }
func (f fakeLocationContext) DerefWord(addr uint64) (uint64, error) {
	return f.mem[addr], nil
}

func TestEvaluateDwOpAddr(t *testing.T) {
	expr := make([]byte, 9)
	expr[0] = opAddr
	binary.LittleEndian.PutUint64(expr[1:], 0x404040)

	ctx := fakeLocationContext{}
	got, err := Evaluate(expr, ctx, 0, 0, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.IsRegister {
		t.Fatal("DW_OP_addr should not produce a register result")
	}
	if got.Address != 0x404040 {
		t.Fatalf("Address = 0x%x, want 0x404040", got.Address)
	}
	if !got.NeedsLoadBias {
		t.Fatal("DW_OP_addr result should need a load-address adjustment")
	}
}

func TestEvaluateDwOpReg(t *testing.T) {
	expr := []byte{opReg0 + 3} // DW_OP_reg3 (rbx)
	ctx := fakeLocationContext{}
	got, err := Evaluate(expr, ctx, 0, 0, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got.IsRegister || got.Register != 3 {
		t.Fatalf("got %+v, want register 3", got)
	}
}

func TestEvaluateDwOpBreg(t *testing.T) {
	// DW_OP_breg6 (rbp) -16
	expr := append([]byte{opBreg0 + 6}, encodeSLEB128(-16)...)
	ctx := fakeLocationContext{regs: map[int]uint64{6: 0x7ffff000}}
	got, err := Evaluate(expr, ctx, 0, 0, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.IsRegister {
		t.Fatal("DW_OP_bregN should produce an address, not a register")
	}
	want := uint64(0x7ffff000 - 16)
	if got.Address != want {
		t.Fatalf("Address = 0x%x, want 0x%x", got.Address, want)
	}
	if got.NeedsLoadBias {
		t.Fatal("a register-relative address must not be load-bias adjusted")
	}
}

func TestEvaluateDwOpFbregWithFrameBase(t *testing.T) {
	expr := append([]byte{opFbreg}, encodeSLEB128(-24)...)
	ctx := fakeLocationContext{regs: map[int]uint64{6: 0x1000}}
	got, err := Evaluate(expr, ctx, 6, 16, true)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := uint64(0x1000 + 16 - 24)
	if got.Address != want {
		t.Fatalf("Address = 0x%x, want 0x%x", got.Address, want)
	}
}

func TestEvaluateDwOpFbregWithoutFrameBaseFails(t *testing.T) {
	expr := append([]byte{opFbreg}, encodeSLEB128(-24)...)
	ctx := fakeLocationContext{}
	if _, err := Evaluate(expr, ctx, 0, 0, false); err == nil {
		t.Fatal("expected ErrUnsupportedLocation without a resolvable frame base")
	}
}

func TestEvaluateUnsupportedOpcode(t *testing.T) {
	ctx := fakeLocationContext{}
	_, err := Evaluate([]byte{0xff}, ctx, 0, 0, false)
	if err == nil {
		t.Fatal("expected an error for an unsupported opcode")
	}
}

func TestFrameBaseFromExprBreg(t *testing.T) {
	expr := append([]byte{opBreg0 + 6}, encodeSLEB128(16)...)
	reg, off, ok := FrameBaseFromExpr(expr)
	if !ok || reg != 6 || off != 16 {
		t.Fatalf("FrameBaseFromExpr = %d, %d, %v, want 6, 16, true", reg, off, ok)
	}
}

func TestFrameBaseFromExprCallFrameCFA(t *testing.T) {
	_, _, ok := FrameBaseFromExpr([]byte{opCallCFA})
	if ok {
		t.Fatal("DW_OP_call_frame_cfa should not resolve to a simple breg frame base")
	}
}

func encodeSLEB128(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}
