package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cliOptions collects the flags parsed by the root command.
type cliOptions struct {
	configPath string
	logLevel   string
	noColor    bool
	attachPID  int
	usePty     bool
}

func newRootCommand(opts *cliOptions, run func(path string, args []string, opts *cliOptions) error) *cobra.Command {
	root := &cobra.Command{
		Use:   "sdb <executable> [program-args...]",
		Short: "A source-level debugger for native x86-64 Linux executables",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.attachPID == 0 && len(args) == 0 {
				return fmt.Errorf("either an executable path or --attach <pid> is required")
			}
			var path string
			var rest []string
			if len(args) > 0 {
				path, rest = args[0], args[1:]
			}
			return run(path, rest, opts)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", DefaultConfigPath(), "path to .sdbrc configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "info", "internal diagnostic log level (debug, info, warn, error)")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable ANSI color output")
	flags.IntVar(&opts.attachPID, "attach", 0, "attach to an already-running process by PID instead of launching one")
	flags.BoolVar(&opts.usePty, "pty", false, "run the launched program on a pseudo-terminal instead of inheriting stdio directly")

	return root
}
