package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// sourcePager resolves and prints source-file context around a line, the
// way every REPL stop (breakpoint hit, step, stepi) reports where execution
// landed.
type sourcePager struct {
	searchPaths  []string
	contextLines int
}

func newSourcePager(cfg Config) *sourcePager {
	return &sourcePager{searchPaths: cfg.SourcePaths, contextLines: cfg.ContextLines}
}

// resolve finds file under one of the pager's search paths: first by exact
// match (the debug-info name may already be absolute or relative to the
// current directory), then by basename within each search path.
func (p *sourcePager) resolve(file string) (string, error) {
	if _, err := os.Stat(file); err == nil {
		return file, nil
	}
	base := filepath.Base(file)
	for _, dir := range p.searchPaths {
		candidate := filepath.Join(dir, base)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("source file %q not found in %v", file, p.searchPaths)
}

// Print writes contextLines of source around line (1-indexed), marking line
// itself with Console.SourceLine's current-line cursor.
func (p *sourcePager) Print(console *Console, file string, line int) error {
	path, err := p.resolve(file)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	lo := line - p.contextLines
	if lo < 1 {
		lo = 1
	}
	hi := line + p.contextLines

	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		if n < lo {
			continue
		}
		if n > hi {
			break
		}
		console.Printf("%s\n", console.SourceLine(n, scanner.Text(), n == line))
	}
	return scanner.Err()
}
