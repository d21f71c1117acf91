package main

import (
	"errors"
	"fmt"
	"os"

	"igpost/internal/authflow"
	"igpost/internal/upload"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		if isUsageError(err) {
			os.Exit(2)
		}

		os.Exit(1)
	}
}

// isUsageError reports whether the error is the caller's fault (bad input
// or missing credentials) rather than an unexpected failure. Usage errors
// get a distinct exit code so scripts can tell them apart.
func isUsageError(err error) bool {
	return errors.Is(err, upload.ErrAmbiguousSource) ||
		errors.Is(err, upload.ErrMissingSource) ||
		errors.Is(err, upload.ErrSourceNotFound) ||
		errors.Is(err, upload.ErrMissingCaption) ||
		errors.Is(err, authflow.ErrNoCredentials)
}
