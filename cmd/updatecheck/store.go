package main

import (
	"fmt"
	"strings"

	"updatecheck/internal/config"
	"updatecheck/internal/debug"
	appErrors "updatecheck/internal/errors"
	"updatecheck/internal/state"
)

// resettableStore is a state store an operator can delete.
type resettableStore interface {
	state.Store
	Remove() error
}

// openStore builds the configured state backend.
func openStore() (resettableStore, error) {
	path, err := config.StatePath()
	if err != nil {
		return nil, appErrors.New(appErrors.CodeConfigurationError, "resolve state path", err)
	}

	opts := []state.Option{state.WithLogger(debug.Logger())}
	backend := strings.ToLower(strings.TrimSpace(config.GetString(config.KeyStateBackend)))
	switch backend {
	case "", "file", "json":
		s, err := state.NewFileStore(path, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := state.NewSQLiteStore(path, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, appErrors.New(appErrors.CodeConfigurationError,
			fmt.Sprintf("unknown state backend %q (want file or sqlite)", backend), nil)
	}
}
