package main

import (
	"fmt"

	"sdb/internal/dwarfinfo"
)

// LookupSymbol resolves a symbol command argument: "*" lists every symbol
// in the static and dynamic symbol tables, anything else looks up an exact
// name match in both tables, falling back to a substring match when nothing
// matches exactly.
func (t *Tracee) LookupSymbol(name string) ([]dwarfinfo.Symbol, error) {
	return t.Info.Symbols(name)
}

func formatSymbol(s dwarfinfo.Symbol) string {
	return fmt.Sprintf("%-24s %-9s 0x%016x %6d", s.Name, s.Kind, s.Value, s.Size)
}
