// Package ext4log wraps logrus behind a small interface so call sites
// depend on "a logger" rather than the global logrus package, and gives
// the CLI a colorized, TTY-aware formatter.
package ext4log

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Logger is the minimal logging surface the CLI logs through; the core
// packages take a logrus.FieldLogger instead.
type Logger interface {
	Debugf(format string, x ...interface{})
	Infof(format string, x ...interface{})
	Warnf(format string, x ...interface{})
	Errorf(format string, x ...interface{})
}

// CLI is a Logger that also formats logrus output for a terminal,
// disabling color automatically when stdout isn't a TTY.
type CLI struct {
	DisableColors bool
	Verbose       bool
	Debug         bool
}

// NewCLI builds a CLI logger, auto-detecting TTY-ness of fd.
func NewCLI(fd uintptr) *CLI {
	return &CLI{DisableColors: !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)}
}

func (l *CLI) Debugf(format string, x ...interface{}) {
	if l.Debug {
		logrus.Debugf(format, x...)
	}
}

func (l *CLI) Infof(format string, x ...interface{}) {
	if l.Verbose || l.Debug {
		logrus.Infof(format, x...)
	}
}

func (l *CLI) Warnf(format string, x ...interface{}) { logrus.Warnf(format, x...) }
func (l *CLI) Errorf(format string, x ...interface{}) { logrus.Errorf(format, x...) }

// Format implements logrus.Formatter, coloring each level the way a
// terminal-facing driver CLI does: faint trace, blue debug, plain info,
// yellow warn, red error.
func (l *CLI) Format(entry *logrus.Entry) ([]byte, error) {
	msg := entry.Message
	if !l.DisableColors {
		switch entry.Level {
		case logrus.TraceLevel:
			msg = color.New(color.Faint).Sprint(msg)
		case logrus.DebugLevel:
			msg = color.New(color.FgBlue).Sprint(msg)
		case logrus.WarnLevel:
			msg = color.New(color.FgYellow).Sprint(msg)
		case logrus.ErrorLevel:
			msg = color.New(color.FgRed).Sprint(msg)
		}
	}
	return []byte(fmt.Sprintln(msg)), nil
}

// Configure installs l as logrus's formatter and sets the level implied
// by its verbosity flags.
func (l *CLI) Configure() {
	logrus.SetFormatter(l)
	switch {
	case l.Debug:
		logrus.SetLevel(logrus.DebugLevel)
	case l.Verbose:
		logrus.SetLevel(logrus.InfoLevel)
	default:
		logrus.SetLevel(logrus.WarnLevel)
	}
}
