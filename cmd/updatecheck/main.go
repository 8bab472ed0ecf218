// Command updatecheck reports whether a newer release of a tool is listed in
// the remote version manifest. Host tools call `updatecheck check`; the
// state and config subcommands are for operators.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"updatecheck/internal/config"
	"updatecheck/internal/debug"
	appErrors "updatecheck/internal/errors"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// failSafeAnnotation marks commands that must not fail the host over
// configuration problems. They warn and continue on defaults instead.
const failSafeAnnotation = "updatecheck/fail-safe"

type rootOptions struct {
	debug        bool
	proxy        string
	manifestURL  string
	statePath    string
	stateBackend string
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "updatecheck",
		Short:         "Check a version manifest for newer releases",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd, opts)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			debug.Close()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetVersionTemplate(versionString())

	flags := root.PersistentFlags()
	flags.BoolVar(&opts.debug, "debug", false, "Write diagnostics to ~/.updatecheck/debug.log")
	flags.StringVar(&opts.proxy, "proxy", "", "Fallback HTTP proxy as host:port (or set UC_PROXY)")
	flags.StringVar(&opts.manifestURL, "manifest-url", "", "URL of the version manifest")
	flags.StringVar(&opts.statePath, "state-path", "", "Location of the cached check state")
	flags.StringVar(&opts.stateBackend, "state-backend", "", "State backend (file, sqlite)")

	root.AddCommand(newCheckCmd())
	root.AddCommand(newStateCmd())
	root.AddCommand(newConfigCmd())
	return root
}

// setup loads configuration, layers explicitly set flags on top and starts
// the debug log.
func setup(cmd *cobra.Command, opts *rootOptions) error {
	failSafe := cmd.Annotations[failSafeAnnotation] == "true"

	if err := config.Initialize(); err != nil {
		cerr := appErrors.New(appErrors.CodeConfigurationError, fmt.Sprintf("initialize config: %v", err), err)
		if !failSafe {
			return cerr
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: ignoring configuration files: %v\n", cerr)
		config.UseDefaults()
	}

	flags := cmd.Flags()
	overrides := map[string]any{}
	if flags.Changed("debug") {
		overrides[config.KeyDebug] = opts.debug
	}
	if flags.Changed("proxy") {
		overrides[config.KeyProxy] = strings.TrimSpace(opts.proxy)
	}
	if flags.Changed("manifest-url") {
		overrides[config.KeyManifestURL] = strings.TrimSpace(opts.manifestURL)
	}
	if flags.Changed("state-path") {
		overrides[config.KeyStatePath] = strings.TrimSpace(opts.statePath)
	}
	if flags.Changed("state-backend") {
		overrides[config.KeyStateBackend] = strings.TrimSpace(opts.stateBackend)
	}
	if err := config.ApplyOverrides(overrides); err != nil {
		cerr := appErrors.New(appErrors.CodeConfigurationError, fmt.Sprintf("apply flags: %v", err), err)
		if !failSafe {
			return cerr
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: ignoring command line overrides: %v\n", cerr)
	}

	if err := debug.Init(config.GetBool(config.KeyDebug)); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: debug logging disabled: %v\n", err)
	}
	return nil
}
