// Package version holds build metadata, set with -ldflags -X.
package version

import "fmt"

// Set at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Product names the client in User-Agent headers.
const Product = "sfsync"

// Info returns the version string.
func Info() string {
	return Version
}

// Full returns the version with commit and build date.
func Full() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// UserAgent is sent on every Salesforce request so org admins can tell
// sfsync traffic apart in the API usage logs.
func UserAgent() string {
	return Product + "/" + Version
}
