package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version information - injected at build time via ldflags
var (
	Version   = "dev"
	Build     = "unknown"
	BuildTime = ""
)

// versionString renders the --version output.
func versionString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "updatecheck version %s", Version)

	if Build != "unknown" && Build != "" {
		fmt.Fprintf(&b, " (build: %s)", Build)
	}

	if BuildTime != "" {
		fmt.Fprintf(&b, " [%s]", BuildTime)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(&b, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	if Version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" && len(setting.Value) > 7 {
					fmt.Fprintf(&b, "Commit: %s\n", setting.Value[:7])
					break
				}
			}
		}
	}
	return b.String()
}
