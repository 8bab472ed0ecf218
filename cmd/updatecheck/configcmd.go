package main

import (
	"fmt"

	"updatecheck/internal/config"
	appErrors "updatecheck/internal/errors"
	"updatecheck/internal/state"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Change persistent settings",
	}
	cmd.AddCommand(newSetFrequencyCmd())
	return cmd
}

func newSetFrequencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-frequency <days|always>",
		Short: "Set how often the manifest is consulted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			freq, err := state.ParseFrequency(args[0])
			if err != nil {
				return appErrors.New(appErrors.CodeConfigurationError, err.Error(), err)
			}
			if err := config.SaveFrequency(freq.String()); err != nil {
				return err
			}
			if freq.Always {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Update checks will run on every invocation.")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Update checks will run every %d day(s).\n", freq.Days)
			return nil
		},
	}
}
