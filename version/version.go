// Package version carries the build-time identity of the binary. The
// variables below are replaced through -ldflags at build time.
package version

import (
	"fmt"
	"io"
	"os"
)

// mainpkg is the overall, canonical project import path under which the
// package was built.
var mainpkg = "github.com/aerugo/aerugo"

// version indicates which version of the binary is running. During build,
// it will be replaced by the actual release tag.
var version = "v0.1.0+unknown"

// revision is the VCS (e.g. git) revision being used to build the program
// at linking time.
var revision = ""

// Package returns the overall, canonical project import path under which
// the package was built.
func Package() string {
	return mainpkg
}

// Version returns the module version the running binary was built from.
func Version() string {
	return version
}

// Revision returns the VCS revision used to build the program.
func Revision() string {
	return revision
}

// FprintVersion outputs the version string to the writer, in the following
// format, followed by a newline:
//
//	<cmd> <project> <version>
func FprintVersion(w io.Writer) {
	fmt.Fprintln(w, os.Args[0], Package(), Version())
}

// PrintVersion outputs the version information, from Fprint, to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}
