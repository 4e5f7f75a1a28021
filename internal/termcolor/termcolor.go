// Package termcolor colorizes the inspector's (nm/objdump) column output
// and the CLI's severity labels, grounded on the same small set of named
// colorizing functions the teacher's internal/ui/colorize package exposed
// (Address, FuncName, Error, ...), reimplemented over fatih/color instead
// of a disassembly-lexer pipeline this linker has no use for.
package termcolor

import (
	"os"

	"github.com/fatih/color"
)

var disabled = os.Getenv("NO_COLOR") != "" || !isTerminal(os.Stdout)

func isTerminal(f *os.File) bool {
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}

var (
	addrColor   = color.New(color.FgYellow)
	symColor    = color.New(color.FgCyan)
	errColor    = color.New(color.FgRed, color.Bold)
	warnColor   = color.New(color.FgYellow, color.Bold)
	infoColor   = color.New(color.FgBlue)
	sectionColor = color.New(color.FgGreen)
)

func render(c *color.Color, s string) string {
	if disabled {
		return s
	}
	return c.Sprint(s)
}

// Address colorizes a hex address column.
func Address(s string) string { return render(addrColor, s) }

// Symbol colorizes a symbol name column.
func Symbol(s string) string { return render(symColor, s) }

// Section colorizes a section name column.
func Section(s string) string { return render(sectionColor, s) }

// Error colorizes a fatal diagnostic label.
func Error(s string) string { return render(errColor, s) }

// Warn colorizes a warning diagnostic label.
func Warn(s string) string { return render(warnColor, s) }

// Info colorizes an informational diagnostic label.
func Info(s string) string { return render(infoColor, s) }
