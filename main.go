package main

import (
	"fmt"
	"os"
)

func run(path string, args []string, opts *cliOptions) error {
	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := NewLogger(opts.logLevel)

	noColor := opts.noColor
	if cfg.Color != nil && !*cfg.Color {
		noColor = true
	}
	console := NewConsole(noColor)

	var tracee *Tracee
	if opts.attachPID != 0 {
		log.WithField("pid", opts.attachPID).Info("attaching to process")
		tracee, err = Attach(opts.attachPID)
		if err != nil {
			return err
		}
		console.Info("attached to pid %d", opts.attachPID)
	} else {
		log.WithField("path", path).Info("launching process")
		tracee, err = Launch(path, args, opts.usePty)
		if err != nil {
			return err
		}
		console.Info("launched %s (pid %d)", path, tracee.pid)
	}
	defer tracee.Detach()

	dispatcher := NewDispatcher(tracee, console, cfg)
	RunREPL(dispatcher, console)
	return nil
}

func main() {
	opts := &cliOptions{}
	root := newRootCommand(opts, run)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
