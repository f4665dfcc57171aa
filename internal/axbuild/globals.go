package axbuild

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// Global variables
var (
	version   = "dev"     // default version; overridden at build time
	buildDate = "unknown" // overridden at build time
	kvmDevice = "/dev/kvm"
)

// color helpers
var (
	colError = color.New(color.FgRed, color.OpBold)
	colWarn  = color.New(color.FgYellow, color.OpBold)
	colVerb  = color.New(color.FgGreen, color.OpBold)
)

func init() {
	// diagnostics go to stderr; drop styling when it is not a terminal
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		color.Disable()
	}
}

// Version returns the version string shown by `axbuild version`.
func Version() string {
	return fmt.Sprintf("axbuild %s (built %s)", version, buildDate)
}

// info prints a cargo-style status line: a right-aligned bold green verb
// followed by the message.
func info(verb string, msg any) {
	fmt.Fprintf(os.Stderr, "%s %v\n", colVerb.Sprint(fmt.Sprintf("%12s", verb)), msg)
}

// warn prints a non-fatal diagnostic. Warnings never stop the build.
func warn(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", colWarn.Sprint("warning:"), fmt.Sprintf(format, a...))
}

// errorMsg prints a fatal diagnostic before the process exits nonzero.
func errorMsg(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", colError.Sprint("error:"), err)
}
