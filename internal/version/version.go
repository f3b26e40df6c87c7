// Package version holds build metadata, overridden at link time:
//
//	go build -ldflags "-X cwas/internal/version.Version=v1.2.0 -X cwas/internal/version.Commit=$(git rev-parse HEAD)"
package version

var (
	Version = "dev"
	Commit  = "none"
)
