package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Verbosity controls how much the console prints.
type Verbosity int

const (
	// VerbosityQuiet prints warnings, errors and the final summary only.
	VerbosityQuiet Verbosity = iota
	// VerbosityNormal prints step progress (default).
	VerbosityNormal
	// VerbosityVerbose adds per-operation detail.
	VerbosityVerbose
	// VerbosityDebug prints everything.
	VerbosityDebug
)

// ParseVerbosity maps a config string to a Verbosity. Unknown values fall
// back to VerbosityNormal.
func ParseVerbosity(level string) Verbosity {
	switch strings.ToLower(level) {
	case "quiet":
		return VerbosityQuiet
	case "verbose":
		return VerbosityVerbose
	case "debug":
		return VerbosityDebug
	default:
		return VerbosityNormal
	}
}

// Console prints operator-facing progress for a CLI run.
type Console struct {
	level  Verbosity
	writer io.Writer
	color  bool

	startTime time.Time
	stepCount int
}

const (
	colorReset     = "\033[0m"
	colorCyan      = "\033[36m"
	colorSalmon    = "\033[38;5;217m"
	colorYellow    = "\033[33m"
	colorGray      = "\033[90m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
	colorBoldWhite = "\033[1;37m"
)

// NewConsole creates a console printer on stdout.
func NewConsole(level Verbosity) *Console {
	return &Console{level: level, writer: os.Stdout, color: true, startTime: time.Now()}
}

// NewPlainConsole creates a console printer on w without ANSI colours.
func NewPlainConsole(level Verbosity, w io.Writer) *Console {
	return &Console{level: level, writer: w, startTime: time.Now()}
}

func (c *Console) paint(color, text string) string {
	if !c.color {
		return text
	}
	return color + text + colorReset
}

// Header prints a prominent banner.
func (c *Console) Header(message string) {
	if c.level < VerbosityNormal {
		return
	}
	rule := strings.Repeat("=", 70)
	fmt.Fprintf(c.writer, "\n%s\n%s\n%s\n", c.paint(colorBoldWhite, rule), c.paint(colorBoldWhite, "  "+message), c.paint(colorBoldWhite, rule))
}

// Step prints a numbered step.
func (c *Console) Step(message string) {
	if c.level < VerbosityNormal {
		return
	}
	c.stepCount++
	fmt.Fprintf(c.writer, "\n%s\n", c.paint(colorCyan, fmt.Sprintf("[%d] %s", c.stepCount, message)))
}

// Successf prints a success line.
func (c *Console) Successf(format string, args ...interface{}) {
	if c.level < VerbosityNormal {
		return
	}
	fmt.Fprintln(c.writer, c.paint(colorBoldGreen, "✓ "+fmt.Sprintf(format, args...)))
}

// Infof prints an informational line.
func (c *Console) Infof(format string, args ...interface{}) {
	if c.level < VerbosityNormal {
		return
	}
	fmt.Fprintln(c.writer, c.paint(colorSalmon, fmt.Sprintf(format, args...)))
}

// Warningf prints a warning at every verbosity.
func (c *Console) Warningf(format string, args ...interface{}) {
	fmt.Fprintln(c.writer, c.paint(colorYellow, "⚠ Warning: "+fmt.Sprintf(format, args...)))
}

// Errorf prints an error at every verbosity.
func (c *Console) Errorf(format string, args ...interface{}) {
	fmt.Fprintln(c.writer, c.paint(colorBoldRed, "✗ Error: "+fmt.Sprintf(format, args...)))
}

// Verbosef prints detail in verbose mode and above.
func (c *Console) Verbosef(format string, args ...interface{}) {
	if c.level < VerbosityVerbose {
		return
	}
	fmt.Fprintln(c.writer, c.paint(colorGray, "→ "+fmt.Sprintf(format, args...)))
}

// Debugf prints internals in debug mode.
func (c *Console) Debugf(format string, args ...interface{}) {
	if c.level < VerbosityDebug {
		return
	}
	fmt.Fprintln(c.writer, c.paint(colorGray, "[DEBUG] "+fmt.Sprintf(format, args...)))
}

// SummaryLine is one key/value row of a run summary.
type SummaryLine struct {
	Key   string
	Value string
}

// Summary prints the final run outcome. It is printed at every verbosity.
func (c *Console) Summary(success bool, message string, lines []SummaryLine) {
	rule := strings.Repeat("=", 70)
	fmt.Fprintln(c.writer)
	fmt.Fprintln(c.writer, c.paint(colorBoldWhite, rule))
	fmt.Fprintln(c.writer, c.paint(colorBoldWhite, "  RUN SUMMARY"))
	fmt.Fprintln(c.writer, c.paint(colorBoldWhite, rule))

	fmt.Fprint(c.writer, "  Status: ")
	if success {
		fmt.Fprintln(c.writer, c.paint(colorBoldGreen, "✓ SUCCESS"))
	} else {
		fmt.Fprintln(c.writer, c.paint(colorBoldRed, "✗ FAILED"))
	}
	fmt.Fprintf(c.writer, "  Result: %s\n", message)

	for _, line := range lines {
		if line.Value == "" {
			continue
		}
		fmt.Fprintf(c.writer, "  %s: %s\n", line.Key, line.Value)
	}
	fmt.Fprintf(c.writer, "  Duration: %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Fprintln(c.writer, c.paint(colorBoldWhite, rule))
}
