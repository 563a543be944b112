// Package buildinfo carries version stamps set with -ldflags -X.
package buildinfo

import (
	"fmt"

	"github.com/cordum/stocklock/core/infra/logging"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// Fields returns the build stamps for JSON responses.
func Fields() map[string]string {
	return map[string]string{"version": Version, "commit": Commit, "date": Date}
}

// Log writes the build summary with the service name.
func Log(service string) {
	logging.Info(service, "starting", "version", Version, "commit", Commit, "date", Date)
}
