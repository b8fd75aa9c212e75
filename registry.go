package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// registryClient performs authenticated streaming fetches against the
// model-hosting registries. It follows redirects (the default http.Client
// behavior; Hugging Face resolves to signed CDN URLs) and asks for a byte
// range when resuming a partial temp file.
type registryClient struct {
	// hfBase is the Hugging Face base URL.
	hfBase string

	// civitaiBase is the Civitai base URL.
	civitaiBase string

	// httpClient is used for all HTTP requests.
	httpClient HTTPClient

	log zerolog.Logger
}

// newRegistryClient creates a registry client. Base URLs are normalized by
// removing trailing slashes.
func newRegistryClient(cfg Config, client HTTPClient, log zerolog.Logger) *registryClient {
	hf := cfg.HuggingFaceURL
	if hf == "" {
		hf = DefaultHuggingFaceURL
	}
	civitai := cfg.CivitaiURL
	if civitai == "" {
		civitai = DefaultCivitaiURL
	}
	return &registryClient{
		hfBase:      strings.TrimRight(hf, "/"),
		civitaiBase: strings.TrimRight(civitai, "/"),
		httpClient:  client,
		log:         log,
	}
}

// resolveSource turns a manifest source identifier into a fetchable URL.
func (r *registryClient) resolveSource(source string) (string, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return source, nil

	case strings.HasPrefix(source, "civitai:"):
		id := strings.TrimPrefix(source, "civitai:")
		if id == "" {
			return "", fmt.Errorf("%w: %q has no model version id", ErrInvalidSource, source)
		}
		return r.civitaiBase + "/api/download/models/" + id, nil

	default:
		ref := strings.TrimPrefix(source, "hf:")
		// owner/repo/path/to/file → owner/repo resolve path/to/file
		parts := strings.SplitN(ref, "/", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return "", fmt.Errorf("%w: %q is not owner/repo/file", ErrInvalidSource, source)
		}
		return r.hfBase + "/" + parts[0] + "/" + parts[1] + "/resolve/main/" + parts[2], nil
	}
}

// fetchStream is an open registry download.
type fetchStream struct {
	// body streams the asset bytes. The caller must close it.
	body io.ReadCloser

	// totalSize is the registry-reported full size of the asset,
	// or -1 when the registry did not report one.
	totalSize int64

	// resumed reports whether the registry honored the requested range,
	// in which case body starts at the requested offset.
	resumed bool
}

// open starts an authenticated streaming GET for a source. A non-zero
// offset requests the remainder of the file via a Range header; registries
// that ignore it return the full body and resumed is false.
func (r *registryClient) open(ctx context.Context, source, token string, offset int64) (*fetchStream, error) {
	url, err := r.resolveSource(source)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &fetchStream{body: resp.Body, totalSize: resp.ContentLength}, nil

	case http.StatusPartialContent:
		total := totalFromContentRange(resp.Header.Get("Content-Range"))
		if total < 0 && resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}
		r.log.Debug().Str("source", source).Int64("offset", offset).Msg("resuming partial download")
		return &fetchStream{body: resp.Body, totalSize: total, resumed: true}, nil

	default:
		resp.Body.Close()
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("fetching %s", source),
		}
	}
}

// totalFromContentRange extracts the complete length from a Content-Range
// header like "bytes 100-999/1000". Returns -1 when unavailable.
func totalFromContentRange(header string) int64 {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return -1
	}
	total := header[idx+1:]
	if total == "*" {
		return -1
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// progressReader wraps an io.Reader and reports progress as bytes are read.
type progressReader struct {
	reader     io.Reader
	onProgress func(delta int64)
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 && pr.onProgress != nil {
		pr.onProgress(int64(n))
	}
	return
}
