package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the debugger's internal structured logger, kept
// separate from Console: Console is the REPL's user-facing transcript,
// this is the operator-facing diagnostic stream, gated by --log-level. The
// only entries written to it are run's launch/attach messages; ptrace calls,
// signal decoding, resolver misses and command errors are not logged.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.WarnLevel
	}
	log.SetLevel(lvl)
	return log
}
