package main

import (
	"bufio"
	"os"
	"strings"
)

// RunREPL reads commands from stdin until EOF, "quit" or "exit", dispatching
// each non-blank line and reporting errors without aborting the session.
func RunREPL(d *Dispatcher, console *Console) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		console.Printf("sdb> ")

		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" || line == "q" {
			break
		}

		if err := d.Dispatch(line); err != nil {
			console.Error("%v", err)
		}
	}
}
