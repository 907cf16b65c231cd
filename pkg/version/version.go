package version

import "fmt"

// Version is overridden at build time via -ldflags "-X storyreel/pkg/version.Version=...".
var Version = "v0.3.1"

// UserAgent returns the User-Agent sent with outbound API requests.
func UserAgent() string {
	return fmt.Sprintf("storyreel/%s (novel adaptation pipeline)", Version)
}
