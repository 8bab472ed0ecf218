// Package update reports whether a newer release of the host tool exists.
//
// The package handles:
//   - Fetching the project's record from a remote JSON manifest, directly
//     first and then once through a configured proxy
//   - Comparing versions by their leading major.minor.patch triple
//   - Throttling network checks through a persisted cache record
//   - Running the check in the background so the host never waits on it
//     longer than a bounded timeout
//
// Nothing in here returns an error to the host: failures degrade to a
// Result that says "no update" and are written to the diagnostics log.
// Presentation of the Result is left to the caller.
//
// Example usage:
//
//	store, _ := state.NewFileStore(path)
//	fetcher := update.NewManifestFetcher(manifestURL, update.WithProxy("proxy:8080"))
//	checker := update.NewChecker(store, fetcher)
//	res := checker.Check(ctx, "mytool", version, state.Days(30), true)
//	if res.UpdateAvailable {
//	    fmt.Println(res.Message)
//	}
package update
