package assets

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Sentinel errors for provisioning operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrMissingCredential indicates an entry's credential scope has no
	// token. The entry fails without affecting the rest of the batch.
	ErrMissingCredential = errors.New("assets: missing credential")

	// ErrSizeMismatch indicates a completed stream did not match the
	// registry-reported length or the entry's expected size.
	ErrSizeMismatch = errors.New("assets: size mismatch")

	// ErrFetchFailed indicates a network or registry error during a fetch.
	// Use errors.As with *FetchError to recover the HTTP status code.
	ErrFetchFailed = errors.New("assets: fetch failed")

	// ErrStoreWrite indicates a filesystem operation on the store failed.
	ErrStoreWrite = errors.New("assets: store write failed")

	// ErrInvalidKind indicates an unrecognized asset kind.
	ErrInvalidKind = errors.New("assets: invalid asset kind")

	// ErrInvalidManifest indicates a malformed or conflicting manifest.
	ErrInvalidManifest = errors.New("assets: invalid manifest")

	// ErrInvalidSource indicates a source identifier that cannot be
	// resolved to a registry URL.
	ErrInvalidSource = errors.New("assets: invalid source")
)

// FetchError carries the HTTP status of a failed registry fetch.
// StatusCode is zero for transport-level failures.
type FetchError struct {
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("assets: fetch failed: %s", e.Message)
	}
	return fmt.Sprintf("assets: fetch failed: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap makes FetchError match ErrFetchFailed under errors.Is.
func (e *FetchError) Unwrap() error { return ErrFetchFailed }

// Err aggregates the failed entries of a run into a single error,
// or nil when no entry failed. The batch summary is the only place
// per-entry failures escalate to the caller.
func (rs Results) Err() error {
	var agg *multierror.Error
	for _, r := range rs {
		if r.Outcome == OutcomeFailed && r.Err != nil {
			agg = multierror.Append(agg, fmt.Errorf("%s: %w", r.Dest, r.Err))
		}
	}
	return agg.ErrorOrNil()
}
