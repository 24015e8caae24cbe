package dwarfinfo

import (
	"encoding/binary"
	"fmt"
)

// LocationContext supplies the three capabilities a location-expression
// evaluation needs from a live tracee: the current value of a DWARF
// register, the current (file-relative) program counter, and a way to
// dereference a word at a runtime address. The evaluator has no other way
// to reach the tracee; everything else about tracee state is opaque to it.
type LocationContext interface {
	ReadDwarfReg(n int) (uint64, error)
	PC() uint64
	DerefWord(addr uint64) (uint64, error)
}

// Located is the result of evaluating a location expression: either a
// DWARF register number (the variable lives in a register, read it
// directly) or an address.
//
// NeedsLoadBias distinguishes the two ways an Address can arise: a
// DW_OP_addr operand is a link-time constant from the image and needs the
// tracee's load address added before it can be used, while an address built
// from a breg-relative computation (frame pointer + offset) is already a
// live runtime address and must not be adjusted further.
type Located struct {
	IsRegister    bool
	Register      int
	Address       uint64
	NeedsLoadBias bool
}

// ErrUnsupportedLocation is returned for any location expression this
// evaluator does not implement: anything beyond a single DW_OP_addr,
// DW_OP_regN, DW_OP_bregN or DW_OP_fbreg (with a register-relative frame
// base) operation.
var ErrUnsupportedLocation = fmt.Errorf("unsupported location expression")

const (
	opAddr    = 0x03
	opFbreg   = 0x91
	opReg0    = 0x50
	opReg31   = 0x6f
	opBreg0   = 0x70
	opBreg31  = 0x8f
	opCallCFA = 0x9c
)

// Evaluate interprets a DWARF location-expression byte string against ctx.
// frameBaseReg/frameBaseOff describe the enclosing function's DW_AT_frame_base
// when it is a simple "bregN + constant" expression (the common case for
// frame-pointer-preserving code); pass ok=false when the frame base isn't
// available or isn't in that shape, in which case a DW_OP_fbreg operand
// fails with ErrUnsupportedLocation.
func Evaluate(expr []byte, ctx LocationContext, frameBaseReg int, frameBaseOff int64, frameBaseOK bool) (Located, error) {
	if len(expr) == 0 {
		return Located{}, ErrUnsupportedLocation
	}

	op := expr[0]
	rest := expr[1:]

	switch {
	case op == opAddr:
		if len(rest) < 8 {
			return Located{}, fmt.Errorf("%w: truncated DW_OP_addr", ErrUnsupportedLocation)
		}
		addr := binary.LittleEndian.Uint64(rest[:8])
		return Located{Address: addr, NeedsLoadBias: true}, nil

	case op >= opReg0 && op <= opReg31:
		return Located{IsRegister: true, Register: int(op - opReg0)}, nil

	case op >= opBreg0 && op <= opBreg31:
		n := int(op - opBreg0)
		off, _, err := readSLEB128(rest)
		if err != nil {
			return Located{}, err
		}
		regVal, err := ctx.ReadDwarfReg(n)
		if err != nil {
			return Located{}, err
		}
		return Located{Address: uint64(int64(regVal) + off)}, nil

	case op == opFbreg:
		if !frameBaseOK {
			return Located{}, fmt.Errorf("%w: DW_OP_fbreg without a simple frame base", ErrUnsupportedLocation)
		}
		off, _, err := readSLEB128(rest)
		if err != nil {
			return Located{}, err
		}
		regVal, err := ctx.ReadDwarfReg(frameBaseReg)
		if err != nil {
			return Located{}, err
		}
		frameBase := int64(regVal) + frameBaseOff
		return Located{Address: uint64(frameBase + off)}, nil

	default:
		return Located{}, fmt.Errorf("%w: opcode 0x%x", ErrUnsupportedLocation, op)
	}
}

// FrameBaseFromExpr decodes a DW_AT_frame_base expression when it is a bare
// DW_OP_bregN(offset) (the shape a frame-pointer-preserving compiler emits,
// e.g. DW_OP_breg6(16) for rbp+16). Any other shape — including the
// equally common DW_OP_call_frame_cfa — is reported via ok=false so callers
// know a DW_OP_fbreg in this function's scope cannot be resolved.
func FrameBaseFromExpr(expr []byte) (reg int, off int64, ok bool) {
	if len(expr) == 0 {
		return 0, 0, false
	}
	op := expr[0]
	if op == opCallCFA {
		return 0, 0, false
	}
	if op < opBreg0 || op > opBreg31 {
		return 0, 0, false
	}
	v, _, err := readSLEB128(expr[1:])
	if err != nil {
		return 0, 0, false
	}
	return int(op - opBreg0), v, true
}

// readSLEB128 decodes a signed LEB128 integer, returning the value and the
// number of bytes consumed.
func readSLEB128(b []byte) (int64, int, error) {
	var result int64
	var shift uint
	var i int
	for {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("truncated sleb128")
		}
		byt := b[i]
		i++
		result |= int64(byt&0x7f) << shift
		shift += 7
		if byt&0x80 == 0 {
			if shift < 64 && byt&0x40 != 0 {
				result |= -1 << shift
			}
			break
		}
	}
	return result, i, nil
}
