package services

import (
	"errors"
	"fmt"
	"os"
)

// ErrMissingCredential is returned by CreateSession when the API key of a provider is not set in the
// environment.
var ErrMissingCredential = errors.New("missing credential")

const errLoggerKey = "err"

// credential returns the value of the first non-empty environment variable in names. The environment is
// read on every call so a key exported after startup is picked up by the next session attempt.
func credential(names ...string) (string, error) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: none of %v is set", ErrMissingCredential, names)
}
