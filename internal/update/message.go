package update

import (
	"fmt"
	"strings"
)

// FormatWarning renders the update notice for res. Empty manifest fields
// are left out.
func FormatWarning(project, localVersion string, res Result) string {
	remote := ""
	if res.RemoteVersion != nil {
		remote = *res.RemoteVersion
	}

	var b strings.Builder
	if project != "" {
		fmt.Fprintf(&b, "A new version of %s is available: %s (installed: %s)", project, remote, localVersion)
	} else {
		fmt.Fprintf(&b, "A new version is available: %s (installed: %s)", remote, localVersion)
	}
	if res.ReleaseDate != "" {
		fmt.Fprintf(&b, "\nReleased: %s", res.ReleaseDate)
	}
	if res.RepoURL != "" {
		fmt.Fprintf(&b, "\nDownload: %s", res.RepoURL)
	}
	if note := strings.TrimSpace(res.Note); note != "" {
		fmt.Fprintf(&b, "\nNote: %s", note)
	}
	return b.String()
}
