package main

import (
	"encoding/json"
	"fmt"

	"updatecheck/internal/state"

	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the cached check state",
	}

	cmd.AddCommand(newStateShowCmd())
	cmd.AddCommand(newStatePathCmd())
	cmd.AddCommand(newStateResetCmd())
	return cmd
}

func newStateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the cached check state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			rec, err := store.Load(false)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func newStatePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the location of the cached check state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), store.Location())
			return nil
		},
	}
}

func newStateResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the cached check state so the next check goes online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}

			// The lock file stays: another process may be waiting on it.
			lock := state.NewFileLock(state.LockPath(store.Location()))
			if err := lock.Lock(); err != nil {
				return fmt.Errorf("acquire state lock: %w", err)
			}
			err = store.Remove()
			if uerr := lock.Unlock(); uerr != nil && err == nil {
				err = uerr
			}
			if err != nil {
				return fmt.Errorf("remove state: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", store.Location())
			return nil
		},
	}
}
