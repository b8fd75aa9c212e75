package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// provisioner is the concrete implementation of the Provisioner interface.
type provisioner struct {
	// cfg holds the module configuration.
	cfg Config

	// store handles local filesystem operations.
	store storeInterface

	// registry handles remote registry communication.
	registry *registryClient

	log zerolog.Logger
}

// fetchJob is a unit of work for the fetch worker pool.
type fetchJob struct {
	// index is the entry's position in the input manifest.
	index int

	entry ManifestEntry
}

// indexedResult pairs a result with its manifest position so the output
// can be reported in input order regardless of completion order.
type indexedResult struct {
	index  int
	result FetchResult
}

// Provision runs the per-entry algorithm over a bounded worker pool.
func (p *provisioner) Provision(ctx context.Context, manifest Manifest, creds Credentials, opts ...ProvisionOption) (Results, error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	rc := newRunConfig(p.cfg.Concurrency)
	for _, opt := range opts {
		opt(rc)
	}

	if err := p.store.ensureLayout(); err != nil {
		return nil, err
	}

	if len(manifest) == 0 {
		return Results{}, nil
	}

	// Buffered to the manifest length so producers and workers never
	// block on each other; every job yields exactly one result.
	jobs := make(chan fetchJob, len(manifest))
	results := make(chan indexedResult, len(manifest))

	workers := rc.concurrency
	if workers > len(manifest) {
		workers = len(manifest)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- indexedResult{
					index:  job.index,
					result: p.provisionEntry(ctx, job.entry, creds, rc),
				}
			}
		}()
	}

	for i, entry := range manifest {
		jobs <- fetchJob{index: i, entry: entry}
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make(Results, len(manifest))
	for r := range results {
		out[r.index] = r.result
	}
	return out, nil
}

// provisionEntry ensures one destination holds its complete file. Partial
// bytes only ever live under a temp name and the final path is written by
// a single atomic rename; a per-destination file lock serializes writers,
// so provisioners racing on the same entry (even from another container on
// the same volume) cannot interleave writes into one temp file. The loser
// of the race stats the published file once it gets the lock and skips.
func (p *provisioner) provisionEntry(ctx context.Context, entry ManifestEntry, creds Credentials, rc *runConfig) FetchResult {
	dest := entry.Dest()
	failed := func(err error) FetchResult {
		p.log.Warn().Str("dest", dest).Err(err).Msg("entry failed")
		return FetchResult{Dest: dest, Outcome: OutcomeFailed, Err: err}
	}

	// A cancelled run records the remaining entries as failed so the
	// one-result-per-entry guarantee holds.
	if err := ctx.Err(); err != nil {
		return failed(err)
	}

	lock, err := p.store.lockEntry(dest)
	if err != nil {
		return failed(err)
	}
	defer lock.Unlock()

	state, size, err := p.store.stat(dest)
	if err != nil {
		return failed(err)
	}
	if state == stateComplete && (entry.ExpectedSize == 0 || size == entry.ExpectedSize) {
		p.log.Debug().Str("dest", dest).Int64("size", size).Msg("already present")
		return FetchResult{Dest: dest, Outcome: OutcomeSkipped}
	}

	token, ok := creds.token(entry.Scope)
	if !ok {
		return failed(fmt.Errorf("%w: no token for scope %q", ErrMissingCredential, entry.Scope))
	}

	var offset int64
	if state == statePartial {
		offset = size
	}
	// A leftover at least as large as the asset cannot be resumed; the
	// registry would reject the range. Restart it from zero.
	if offset > 0 && entry.ExpectedSize > 0 && offset >= entry.ExpectedSize {
		if err := p.store.discardTemp(dest); err != nil {
			return failed(err)
		}
		offset = 0
	}

	stream, err := p.registry.open(ctx, entry.Source, token, offset)
	if err != nil && offset > 0 && isRangeRejected(err) {
		// The registry cannot serve the requested range, so the temp
		// file is useless. Restart from zero instead of wedging every
		// rerun on the same leftover.
		if derr := p.store.discardTemp(dest); derr != nil {
			return failed(derr)
		}
		offset = 0
		stream, err = p.registry.open(ctx, entry.Source, token, 0)
	}
	if err != nil {
		return failed(err)
	}
	defer stream.body.Close()

	// A registry that ignored the range request returns the full body;
	// restart the temp file from zero.
	tmp, start, err := p.store.openTemp(dest, stream.resumed)
	if err != nil {
		return failed(err)
	}

	var reader io.Reader = stream.body
	if rc.progressFn != nil {
		reader = &progressReader{reader: stream.body, onProgress: func(delta int64) {
			rc.progressFn(dest, delta)
		}}
	}

	written, copyErr := io.Copy(tmp, reader)
	closeErr := tmp.Close()

	if copyErr != nil {
		if ctx.Err() != nil {
			// Cancellation must not leave partial state behind.
			p.store.discardTemp(dest)
			return failed(ctx.Err())
		}
		// Keep the temp file: a rerun resumes from it.
		return failed(&FetchError{Message: fmt.Sprintf("streaming %s: %v", entry.Source, copyErr)})
	}
	if closeErr != nil {
		// The stream completed; a close failure is a local disk problem.
		return failed(fmt.Errorf("%w: closing temp for %s: %v", ErrStoreWrite, dest, closeErr))
	}

	total := start + written
	if stream.totalSize >= 0 && total != stream.totalSize {
		p.store.discardTemp(dest)
		return failed(fmt.Errorf("%w: got %d bytes, registry reported %d", ErrSizeMismatch, total, stream.totalSize))
	}
	if entry.ExpectedSize > 0 && total != entry.ExpectedSize {
		p.store.discardTemp(dest)
		return failed(fmt.Errorf("%w: got %d bytes, expected %d", ErrSizeMismatch, total, entry.ExpectedSize))
	}

	if err := p.store.publish(dest, total); err != nil {
		if errors.Is(err, ErrSizeMismatch) {
			p.store.discardTemp(dest)
		}
		return failed(err)
	}

	p.log.Info().Str("dest", dest).Int64("bytes", written).Bool("resumed", stream.resumed).Msg("downloaded")
	return FetchResult{Dest: dest, Outcome: OutcomeDownloaded, BytesWritten: written}
}

// isRangeRejected reports whether a fetch failed because the registry
// cannot satisfy the requested byte range.
func isRangeRejected(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode == http.StatusRequestedRangeNotSatisfiable
}

// Installed returns the files present in the store.
func (p *provisioner) Installed(ctx context.Context, kinds ...AssetKind) ([]StoreFile, error) {
	return p.store.list(kinds...)
}

// StoreDir returns the resolved store root directory.
func (p *provisioner) StoreDir() string {
	return p.store.basePath()
}
