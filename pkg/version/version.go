// Package version holds build information for osmscene.
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time.
var (
	BuildVersion = "0.1.0"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

// String returns a one-line version description.
func String() string {
	return fmt.Sprintf("osmscene %s (commit %s, built %s, %s)", BuildVersion, BuildCommit, BuildDate, runtime.Version())
}
