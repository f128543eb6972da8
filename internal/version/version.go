// Package version holds build metadata for the docchat binary, injected with
// -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/docchat-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/docchat-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/docchat-go/internal/version.BuildDate=2026-01-01" \
//	  ./cmd/docchat
package version

import "fmt"

// Version is the semantic version; "dev" for local builds.
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date.
var BuildDate = "unknown"

// String renders the one-line banner printed by `docchat version`.
func String() string {
	return fmt.Sprintf("docchat %s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
