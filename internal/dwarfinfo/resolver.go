// Package dwarfinfo resolves tracee program-counter values against the
// debug information embedded in an ELF executable: address<->function<->line
// mapping, function/line-table lookups for breakpoint resolution, symbol-table
// scanning, and DWARF location-expression evaluation.
//
// Every address this package accepts or returns is file-relative (the
// runtime PC minus the tracee's load address); callers add the load address
// back in before touching the tracee's memory or registers.
package dwarfinfo

import (
	"bufio"
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// Handle owns the opened ELF image and parsed DWARF tree. Neither changes
// after construction; the only mutable state is the lookup caches, which
// lock internally, so sharing it across the Tracee Controller and Stepping
// Engine needs no extra locking.
type Handle struct {
	elf   *elf.File
	dwarf *dwarf.Data
	path  string

	funcCache *lru.Cache // file-relative pc -> *dwarf.Entry
	lineCache *lru.Cache // file-relative pc -> LineEntry
}

// Open parses the ELF file at path and loads its DWARF tree.
func Open(path string) (*Handle, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf %s: %w", path, err)
	}
	d, err := f.DWARF()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("load dwarf from %s: %w", path, err)
	}
	funcCache, _ := lru.New(256)
	lineCache, _ := lru.New(512)
	return &Handle{elf: f, dwarf: d, path: path, funcCache: funcCache, lineCache: lineCache}, nil
}

func (h *Handle) Close() error { return h.elf.Close() }

// IsPIE reports whether the underlying image is a position-independent
// (ET_DYN) executable.
func (h *Handle) IsPIE() bool { return h.elf.Type == elf.ET_DYN }

// pcRange extracts an entry's [low, high) PC range from its
// DW_AT_low_pc/DW_AT_high_pc attributes. high_pc may be encoded either as an
// absolute address or as an offset from low_pc, depending on producer and
// DWARF version.
func pcRange(e *dwarf.Entry) (low, high uint64, ok bool) {
	lowVal := e.Val(dwarf.AttrLowpc)
	if lowVal == nil {
		return 0, 0, false
	}
	low, ok = lowVal.(uint64)
	if !ok {
		return 0, 0, false
	}
	highField := e.AttrField(dwarf.AttrHighpc)
	if highField == nil {
		return 0, 0, false
	}
	switch v := highField.Val.(type) {
	case uint64:
		if highField.Class == dwarf.ClassAddress {
			high = v
		} else {
			high = low + v
		}
	case int64:
		high = low + uint64(v)
	default:
		return 0, 0, false
	}
	return low, high, true
}

func contains(low, high, pc uint64, ok bool) bool {
	return ok && pc >= low && pc < high
}

var ErrNoFunctionAtPC = fmt.Errorf("no function at pc")

// FunctionAt scans compilation units whose aggregate PC range contains pc,
// and within each, the child subprogram DIE whose own PC range contains pc.
func (h *Handle) FunctionAt(pc uint64) (*dwarf.Entry, error) {
	if cached, ok := h.funcCache.Get(pc); ok {
		return cached.(*dwarf.Entry), nil
	}
	r := h.dwarf.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return nil, err
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		low, high, ok := pcRange(cu)
		if ok && !contains(low, high, pc, ok) {
			r.SkipChildren()
			continue
		}
		for {
			e, err := r.Next()
			if err != nil {
				return nil, err
			}
			if e == nil || e.Tag == 0 {
				break
			}
			if e.Tag == dwarf.TagSubprogram {
				if _, hasLow := e.Val(dwarf.AttrLowpc).(uint64); hasLow {
					flow, fhigh, fok := pcRange(e)
					if contains(flow, fhigh, pc, fok) {
						h.funcCache.Add(pc, e)
						r.SkipChildren()
						return e, nil
					}
				}
			}
			if e.Children {
				r.SkipChildren()
			}
		}
	}
	return nil, ErrNoFunctionAtPC
}

// FunctionByName returns every subprogram DIE in any CU whose DW_AT_name
// attribute equals name.
func (h *Handle) FunctionByName(name string) ([]*dwarf.Entry, error) {
	var out []*dwarf.Entry
	r := h.dwarf.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			break
		}
		if e.Tag == dwarf.TagSubprogram {
			if n, ok := e.Val(dwarf.AttrName).(string); ok && n == name {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// LineEntry is one row of a line table, looked up by address.
type LineEntry struct {
	File    string
	Line    int
	Address uint64
	IsStmt  bool
}

var ErrNoLineAtPC = fmt.Errorf("no line entry at pc")

// LineAt finds the compilation unit enclosing pc and returns the line-table
// entry whose address is the greatest one <= pc within the enclosing
// sequence (debug/dwarf.LineReader.SeekPC's semantics).
func (h *Handle) LineAt(pc uint64) (LineEntry, error) {
	if cached, ok := h.lineCache.Get(pc); ok {
		return cached.(LineEntry), nil
	}
	r := h.dwarf.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return LineEntry{}, err
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		low, high, ok := pcRange(cu)
		if ok && !contains(low, high, pc, ok) {
			r.SkipChildren()
			continue
		}
		lr, err := h.dwarf.LineReader(cu)
		if err != nil {
			r.SkipChildren()
			continue
		}
		var le dwarf.LineEntry
		if err := lr.SeekPC(pc, &le); err != nil {
			r.SkipChildren()
			continue
		}
		entry := LineEntry{File: le.File.Name, Line: le.Line, Address: le.Address, IsStmt: le.IsStmt}
		h.lineCache.Add(pc, entry)
		return entry, nil
	}
	return LineEntry{}, ErrNoLineAtPC
}

var ErrNoSuchLine = fmt.Errorf("no such line")

// AddressForLine scans each CU's line table, in CU order, and returns the
// address of the first is_stmt line-table entry whose file name ends with
// fileSuffix and whose line number is line.
func (h *Handle) AddressForLine(fileSuffix string, line int) (uint64, error) {
	r := h.dwarf.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return 0, err
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		r.SkipChildren()

		lr, err := h.dwarf.LineReader(cu)
		if err != nil {
			continue
		}
		var best *LineEntry
		var le dwarf.LineEntry
		for {
			err := lr.Next(&le)
			if err != nil {
				break
			}
			if !strings.HasSuffix(le.File.Name, fileSuffix) {
				continue
			}
			if le.Line != line || !le.IsStmt {
				continue
			}
			if best == nil {
				best = &LineEntry{File: le.File.Name, Line: le.Line, Address: le.Address, IsStmt: le.IsStmt}
			}
		}
		if best != nil {
			return best.Address, nil
		}
	}
	return 0, ErrNoSuchLine
}

// LineAfter returns the next is_stmt line-table entry strictly after addr in
// program order, within the same compilation unit. Used to skip a function's
// prologue when setting a breakpoint by name.
func (h *Handle) LineAfter(addr uint64) (LineEntry, error) {
	r := h.dwarf.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return LineEntry{}, err
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		low, high, ok := pcRange(cu)
		if ok && !contains(low, high, addr, ok) {
			r.SkipChildren()
			continue
		}
		r.SkipChildren()

		lr, err := h.dwarf.LineReader(cu)
		if err != nil {
			continue
		}
		var entries []LineEntry
		var le dwarf.LineEntry
		for {
			err := lr.Next(&le)
			if err != nil {
				break
			}
			entries = append(entries, LineEntry{File: le.File.Name, Line: le.Line, Address: le.Address, IsStmt: le.IsStmt})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Address < entries[j].Address })
		for i, e := range entries {
			if e.Address == addr {
				for _, next := range entries[i+1:] {
					if next.IsStmt && next.Address != addr {
						return next, nil
					}
				}
			}
		}
	}
	return LineEntry{}, ErrNoLineAtPC
}

// SymbolKind classifies a Symbol, mirroring the ELF symbol type.
type SymbolKind string

const (
	SymNoType  SymbolKind = "notype"
	SymObject  SymbolKind = "object"
	SymFunc    SymbolKind = "function"
	SymSection SymbolKind = "section"
	SymFile    SymbolKind = "file"
)

// Symbol is one entry from an ELF symbol or dynamic-symbol table.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
	Kind  SymbolKind
}

func classify(info elf.SymType) SymbolKind {
	switch info {
	case elf.STT_OBJECT:
		return SymObject
	case elf.STT_FUNC:
		return SymFunc
	case elf.STT_SECTION:
		return SymSection
	case elf.STT_FILE:
		return SymFile
	default:
		return SymNoType
	}
}

// Symbols scans both the static and dynamic symbol tables and returns every
// entry whose name matches exactly, or every entry when name is "*". When
// name isn't "*" and nothing matches exactly, it falls back to a substring
// match so a partial name (e.g. a mangled suffix) still finds something.
func (h *Handle) Symbols(name string) ([]Symbol, error) {
	scan := func(match func(string) bool) []Symbol {
		var out []Symbol
		add := func(syms []elf.Symbol) {
			for _, s := range syms {
				if !match(s.Name) {
					continue
				}
				out = append(out, Symbol{
					Name:  s.Name,
					Value: s.Value,
					Size:  s.Size,
					Kind:  classify(elf.ST_TYPE(s.Info)),
				})
			}
		}
		if syms, err := h.elf.Symbols(); err == nil {
			add(syms)
		}
		if syms, err := h.elf.DynamicSymbols(); err == nil {
			add(syms)
		}
		return out
	}

	if name == "*" {
		return scan(func(string) bool { return true }), nil
	}

	exact := scan(func(n string) bool { return n == name })
	if len(exact) > 0 {
		return exact, nil
	}
	return scan(func(n string) bool { return strings.Contains(n, name) }), nil
}

// Variable is one formal parameter or local variable belonging to a
// function DIE, along with its raw location expression.
type Variable struct {
	Name     string
	Location []byte
	IsParam  bool
}

// Variables walks the direct children of fn (a subprogram DIE from
// FunctionAt/FunctionByName) and returns its formal parameters and local
// variables in declaration order. Nested lexical blocks are not descended
// into; this matches the frame-pointer-preserving, single-scope variable
// model the stepping engine works with.
func (h *Handle) Variables(fn *dwarf.Entry) ([]Variable, error) {
	r := h.dwarf.Reader()
	r.Seek(fn.Offset)
	if _, err := r.Next(); err != nil {
		return nil, err
	}

	var out []Variable
	for {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		if e == nil || e.Tag == 0 {
			break
		}
		switch e.Tag {
		case dwarf.TagFormalParameter, dwarf.TagVariable:
			name, _ := e.Val(dwarf.AttrName).(string)
			loc, _ := e.Val(dwarf.AttrLocation).([]byte)
			if name != "" && loc != nil {
				out = append(out, Variable{
					Name:     name,
					Location: loc,
					IsParam:  e.Tag == dwarf.TagFormalParameter,
				})
			}
		}
		if e.Children {
			r.SkipChildren()
		}
	}
	return out, nil
}

// FrameBase returns fn's DW_AT_frame_base expression bytes, if present.
func FrameBase(fn *dwarf.Entry) ([]byte, bool) {
	loc, ok := fn.Val(dwarf.AttrFrameBase).([]byte)
	return loc, ok
}

// LoadAddress returns the base at which a PIE image was mapped, by parsing
// /proc/<pid>/maps and returning the start of its first mapping. Returns 0
// for a non-PIE (ET_EXEC) image.
func (h *Handle) LoadAddress(pid int) (uint64, error) {
	if !h.IsPIE() {
		return 0, nil
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, fmt.Errorf("empty maps file for pid %d", pid)
	}
	line := sc.Text()
	dash := strings.IndexByte(line, '-')
	if dash < 0 {
		return 0, fmt.Errorf("malformed maps line %q", line)
	}
	base, err := strconv.ParseUint(line[:dash], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse load base from %q: %w", line, err)
	}
	return base, nil
}
