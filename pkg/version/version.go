// Package version stamps the binary. The commit is resolved once at init:
// an -ldflags override wins, then the VCS revision embedded by the Go
// toolchain, then "dev" for test binaries and non-git builds.
package version

import "runtime/debug"

// AppName appears in log lines, the health endpoint and user-agent strings.
const AppName = "logsleuth"

// commitOverride is injected with -ldflags for builds where no .git
// directory is present (container image builds).
var commitOverride string

// GitCommit is the short commit hash identifying this build, or "dev".
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return shorten(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shorten(s.Value)
			}
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns the "logsleuth/<commit>" identification string.
func Full() string {
	return AppName + "/" + GitCommit
}
