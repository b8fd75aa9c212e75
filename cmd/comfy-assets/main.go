// Command comfy-assets provisions ComfyUI model assets into a persistent
// store and renders the GUI's model search paths.
//
// Credentials are read from the environment (optionally via a .env file
// in the working directory):
//   - HF_TOKEN: Hugging Face token for gated repositories
//   - CIVITAI_API_TOKEN: Civitai API token
//
// Configuration is read from --config, ./comfy-assets.yaml, or COMFY_*
// environment variables.
package main

import (
	"errors"
	"os"

	"github.com/joho/godotenv"

	assets "github.com/rivenlake/comfy-assets"
)

// CLI exit codes for standardized error reporting.
const (
	// ExitSuccess indicates the operation completed successfully,
	// including runs where every entry was skipped.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitInvalidInput indicates invalid arguments, manifest or source.
	ExitInvalidInput = 2

	// ExitMissingCredential indicates an entry's credential scope had
	// no token.
	ExitMissingCredential = 3

	// ExitFetchError indicates a network or registry failure.
	ExitFetchError = 4

	// ExitSizeMismatch indicates size verification failed.
	ExitSizeMismatch = 5

	// ExitStoreError indicates a filesystem operation on the store failed.
	ExitStoreError = 6
)

func main() {
	// A missing .env file is fine; the environment may carry the tokens.
	_ = godotenv.Load()

	cmd := assets.NewCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCodeFromError(err))
	}
}

// exitCodeFromError maps error types to exit codes. A batch with several
// failure kinds reports the first matching class.
func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, assets.ErrInvalidManifest),
		errors.Is(err, assets.ErrInvalidKind),
		errors.Is(err, assets.ErrInvalidSource):
		return ExitInvalidInput
	case errors.Is(err, assets.ErrMissingCredential):
		return ExitMissingCredential
	case errors.Is(err, assets.ErrSizeMismatch):
		return ExitSizeMismatch
	case errors.Is(err, assets.ErrFetchFailed):
		return ExitFetchError
	case errors.Is(err, assets.ErrStoreWrite):
		return ExitStoreError
	default:
		return ExitGeneralError
	}
}
