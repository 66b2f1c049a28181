// Package ilog provides the structured logging surface used by the engine
// packages, modeled on the teacher repository's pkg/elog: a small interface
// over logrus so callers can swap in their own sink, plus a colorized CLI
// formatter for terminal use.
package ilog

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger is the minimal surface engine components log through.
type Logger interface {
	Debugf(format string, x ...interface{})
	Infof(format string, x ...interface{})
	Warnf(format string, x ...interface{})
	Errorf(format string, x ...interface{})
}

// Nop discards everything. It is the default when a caller passes a nil
// Logger into a component constructor.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// OrNop returns l, or Nop if l is nil, so components never need a nil
// check before logging.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop
	}
	return l
}

// CLI logs to logrus at the standard levels, optionally colorizing output
// for a terminal. It implements Logger.
type CLI struct {
	DisableColors bool
}

func (l *CLI) Debugf(format string, x ...interface{}) { logrus.Debugf(format, x...) }
func (l *CLI) Infof(format string, x ...interface{})  { logrus.Infof(format, x...) }
func (l *CLI) Warnf(format string, x ...interface{})  { logrus.Warnf(format, x...) }
func (l *CLI) Errorf(format string, x ...interface{}) { logrus.Errorf(format, x...) }

// Format implements logrus.Formatter, colorizing by level the same way the
// teacher's elog.CLI.Format does.
func (l *CLI) Format(entry *logrus.Entry) ([]byte, error) {
	faint := color.New(color.Faint).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	blue := color.New(color.FgBlue).SprintFunc()

	x := entry.Message
	if !l.DisableColors {
		switch entry.Level {
		case logrus.TraceLevel:
			x = fmt.Sprintf("%s\n", faint(x))
		case logrus.DebugLevel:
			x = fmt.Sprintf("%s\n", blue(x))
		case logrus.WarnLevel:
			x = fmt.Sprintf("%s\n", yellow(x))
		case logrus.ErrorLevel:
			x = fmt.Sprintf("%s\n", red(x))
		default:
			x = fmt.Sprintf("%s\n", x)
		}
	} else {
		x = fmt.Sprintf("%s\n", x)
	}
	return []byte(x), nil
}

// NewCLI installs a CLI formatter on the standard logrus logger and
// returns it for use as a Logger.
func NewCLI(disableColors bool) *CLI {
	l := &CLI{DisableColors: disableColors}
	logrus.SetFormatter(l)
	logrus.SetOutput(os.Stdout)
	return l
}
