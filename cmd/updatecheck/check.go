package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"updatecheck/internal/config"
	"updatecheck/internal/debug"
	appErrors "updatecheck/internal/errors"
	"updatecheck/internal/state"
	"updatecheck/internal/update"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// displayDelay is how long the exit flush runs before a spinner appears.
const displayDelay = 150 * time.Millisecond

type checkOptions struct {
	project      string
	localVersion string
	frequency    string
	quiet        bool
	jsonOutput   bool
	copyURL      bool
	wait         time.Duration
	timeout      time.Duration
}

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether a newer release is available",
		Long: `Check consults the cached state, starts a background refresh of the
version manifest when the check window has elapsed, and prints a notice if a
newer release is listed. It always exits 0: a failed check is reported as
"no update".`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{failSafeAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("wait") {
				setOrWarn(cmd.ErrOrStderr(), "wait", config.KeyWaitTimeout, opts.wait)
			}
			if flags.Changed("timeout") {
				setOrWarn(cmd.ErrOrStderr(), "timeout", config.KeyTimeout, opts.timeout)
			}
			runCheck(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), *opts)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.project, "project", "", "Project name in the manifest (default from config)")
	flags.StringVar(&opts.localVersion, "local-version", "", "Installed version of the tool; empty or \"dev\" skips the check")
	flags.StringVar(&opts.frequency, "frequency", "", "Days between network checks, or \"always\" (default from config)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Refresh the cache without printing anything")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON")
	flags.BoolVar(&opts.copyURL, "copy-url", false, "Copy the download URL to the clipboard when an update is available")
	flags.DurationVar(&opts.wait, "wait", config.DefaultWaitTimeout, "How long to wait for a fresh result before using the cache")
	flags.DurationVar(&opts.timeout, "timeout", config.DefaultTimeout, "Timeout for each manifest request")
	return cmd
}

// runCheck performs the check and prints the outcome. Problems are reported
// as warnings; none of them fail the command.
func runCheck(ctx context.Context, out, errOut io.Writer, opts checkOptions) {
	logger := debug.Logger()
	if config.GetBool(config.KeySkipUpdateCheck) {
		logger.Debug("update check disabled by configuration")
		return
	}

	project := strings.TrimSpace(opts.project)
	if project == "" {
		project = strings.TrimSpace(config.GetString(config.KeyProject))
	}
	if project == "" {
		_, _ = fmt.Fprintln(errOut, "Warning: no project given (use --project or set project in config); skipping update check")
		return
	}

	frequency := resolveFrequency(opts.frequency, errOut)

	store, err := openStore()
	if err != nil {
		logger.Warn("update check skipped", appErrors.Fields(err)...)
		_, _ = fmt.Fprintf(errOut, "Warning: update check skipped: %v\n", err)
		return
	}

	timeout := config.GetDuration(config.KeyTimeout)
	fetcher := update.NewManifestFetcher(
		config.GetString(config.KeyManifestURL),
		update.WithProxy(config.GetString(config.KeyProxy)),
		update.WithFetcherLogger(logger),
	)
	checker := update.NewChecker(store, fetcher,
		update.WithLogger(logger),
		update.WithTimeout(timeout),
		update.WithWaitTimeout(config.GetDuration(config.KeyWaitTimeout)),
	)

	res := checker.Check(ctx, project, opts.localVersion, frequency, !opts.quiet)

	switch {
	case opts.jsonOutput:
		if err := writeResultJSON(out, res); err != nil {
			logger.Warn("write result", "err", err)
		}
	case !opts.quiet && res.UpdateAvailable:
		renderNotice(out, res, config.GetString(config.KeyOutputFormat))
	}

	if opts.copyURL && res.UpdateAvailable && res.RepoURL != "" {
		copyURL(errOut, res.RepoURL)
	}

	// Direct attempt plus proxy retry.
	flushBackground(ctx, checker, errOut, 2*timeout+time.Second, !opts.quiet && isTerminal(errOut))
}

// setOrWarn applies a flag value to the configuration. A failure leaves the
// configured value in place.
func setOrWarn(errOut io.Writer, flag, key string, value any) {
	if err := config.Set(key, value); err != nil {
		_, _ = fmt.Fprintf(errOut, "Warning: ignoring --%s: %v\n", flag, err)
	}
}

func resolveFrequency(flagValue string, errOut io.Writer) state.Frequency {
	raw := strings.TrimSpace(flagValue)
	if raw == "" {
		raw = config.GetString(config.KeyFrequency)
	}
	freq, err := state.ParseFrequency(raw)
	if err != nil {
		fallback, _ := state.ParseFrequency(config.DefaultFrequency)
		_, _ = fmt.Fprintf(errOut, "Warning: %v; using %s days\n", err, fallback)
		return fallback
	}
	return freq
}

// flushBackground gives the background check a chance to persist its result
// before the process exits. A spinner is shown only when the wait is
// noticeable and the output is a terminal.
func flushBackground(ctx context.Context, checker *update.Checker, errOut io.Writer, limit time.Duration, interactive bool) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	quick, quickCancel := context.WithTimeout(ctx, displayDelay)
	err := checker.Wait(quick)
	quickCancel()
	if err == nil {
		return
	}

	var display *waitDisplay
	if interactive {
		display = newWaitDisplay(errOut, "Finishing update check...")
	}
	err = checker.Wait(ctx)
	display.Stop()
	if err != nil {
		debug.Logger().Debug("update check still running at exit", "err", err)
	}
}

// checkOutput is the --json shape of update.Result.
type checkOutput struct {
	UpdateAvailable bool       `json:"update_available"`
	RemoteVersion   *string    `json:"remote_version"`
	ReleaseDate     string     `json:"release_date,omitempty"`
	RepoURL         string     `json:"repo_url,omitempty"`
	Note            string     `json:"note,omitempty"`
	LastCheckFailed bool       `json:"last_check_failed"`
	CheckedAt       *time.Time `json:"checked_at,omitempty"`
	Message         string     `json:"message,omitempty"`
}

func writeResultJSON(w io.Writer, res update.Result) error {
	payload := checkOutput{
		UpdateAvailable: res.UpdateAvailable,
		RemoteVersion:   res.RemoteVersion,
		ReleaseDate:     res.ReleaseDate,
		RepoURL:         res.RepoURL,
		Note:            res.Note,
		LastCheckFailed: res.LastCheckFailed,
		Message:         res.Message,
	}
	if !res.CheckedAt.IsZero() {
		t := res.CheckedAt.UTC()
		payload.CheckedAt = &t
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
