package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// countingHandler serves fixed bodies per path and counts hits.
type countingHandler struct {
	mu     sync.Mutex
	hits   map[string]int
	bodies map[string][]byte
}

func newCountingHandler() *countingHandler {
	return &countingHandler{
		hits:   make(map[string]int),
		bodies: make(map[string][]byte),
	}
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.hits[r.URL.Path]++
	body, ok := h.bodies[r.URL.Path]
	h.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Write(body)
}

func (h *countingHandler) hitCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func newTestProvisioner(t *testing.T, client HTTPClient) (Provisioner, string) {
	t.Helper()
	dir := t.TempDir()
	prov, err := NewProvisioner(Config{StoreDir: dir}, WithHTTPClient(client))
	if err != nil {
		t.Fatalf("NewProvisioner() error = %v", err)
	}
	return prov, dir
}

func TestProvisionEndToEnd(t *testing.T) {
	handler := newCountingHandler()
	body := bytes.Repeat([]byte("x"), 1000)
	handler.bodies["/model.bin"] = body

	server := httptest.NewServer(handler)
	defer server.Close()

	prov, dir := newTestProvisioner(t, server.Client())

	manifest := Manifest{{
		Source:       server.URL + "/model.bin",
		Kind:         KindDiffusionModel,
		Name:         "model.bin",
		ExpectedSize: 1000,
	}}

	results, err := prov.Provision(context.Background(), manifest, Credentials{})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	r := results[0]
	if r.Dest != "diffusion_models/model.bin" {
		t.Errorf("Dest = %q", r.Dest)
	}
	if r.Outcome != OutcomeDownloaded {
		t.Errorf("Outcome = %q, want downloaded", r.Outcome)
	}
	if r.BytesWritten != 1000 {
		t.Errorf("BytesWritten = %d, want 1000", r.BytesWritten)
	}

	data, err := os.ReadFile(filepath.Join(dir, "diffusion_models", "model.bin"))
	if err != nil {
		t.Fatalf("reading published file: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Error("published contents differ from registry body")
	}

	t.Run("second run is a no-op", func(t *testing.T) {
		results, err := prov.Provision(context.Background(), manifest, Credentials{})
		if err != nil {
			t.Fatalf("Provision() error = %v", err)
		}
		if results[0].Outcome != OutcomeSkipped {
			t.Errorf("Outcome = %q, want skipped", results[0].Outcome)
		}
		if results[0].BytesWritten != 0 {
			t.Errorf("BytesWritten = %d, want 0", results[0].BytesWritten)
		}
		if hits := handler.hitCount("/model.bin"); hits != 1 {
			t.Errorf("server hits = %d, want 1 (no network call for skipped entry)", hits)
		}
	})
}

func TestProvisionPartialFailureIsolation(t *testing.T) {
	handler := newCountingHandler()
	handler.bodies["/a.bin"] = []byte("aaaa")
	handler.bodies["/c.bin"] = []byte("cc")

	server := httptest.NewServer(handler)
	defer server.Close()

	prov, dir := newTestProvisioner(t, server.Client())

	manifest := Manifest{
		{Source: server.URL + "/a.bin", Kind: KindVAE, Name: "a.bin"},
		{Source: server.URL + "/b.bin", Kind: KindVAE, Name: "b.bin", Scope: ScopeCivitai},
		{Source: server.URL + "/c.bin", Kind: KindLoRA, Name: "c.bin"},
	}

	// No civitai token: entry 2 must fail without blocking 1 and 3.
	results, err := prov.Provision(context.Background(), manifest, Credentials{ScopeHuggingFace: "hf_x"})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	if results[0].Outcome != OutcomeDownloaded {
		t.Errorf("entry 0 outcome = %q, want downloaded", results[0].Outcome)
	}
	if results[1].Outcome != OutcomeFailed {
		t.Errorf("entry 1 outcome = %q, want failed", results[1].Outcome)
	}
	if !errors.Is(results[1].Err, ErrMissingCredential) {
		t.Errorf("entry 1 error = %v, want ErrMissingCredential", results[1].Err)
	}
	if results[2].Outcome != OutcomeDownloaded {
		t.Errorf("entry 2 outcome = %q, want downloaded", results[2].Outcome)
	}

	// The failed entry never touched the network.
	if hits := handler.hitCount("/b.bin"); hits != 0 {
		t.Errorf("server hits for credential-less entry = %d, want 0", hits)
	}

	// Downloaded entries are in the store; the failed one is not.
	if _, err := os.Stat(filepath.Join(dir, "vae", "a.bin")); err != nil {
		t.Errorf("entry 0 not published: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "vae", "b.bin")); !os.IsNotExist(err) {
		t.Error("failed entry must not be published")
	}

	// The batch error aggregates the failure.
	if batchErr := results.Err(); !errors.Is(batchErr, ErrMissingCredential) {
		t.Errorf("Results.Err() = %v, want ErrMissingCredential", batchErr)
	}
}

func TestProvisionSizeMismatch(t *testing.T) {
	handler := newCountingHandler()
	handler.bodies["/short.bin"] = bytes.Repeat([]byte("y"), 500)

	server := httptest.NewServer(handler)
	defer server.Close()

	prov, dir := newTestProvisioner(t, server.Client())

	manifest := Manifest{{
		Source:       server.URL + "/short.bin",
		Kind:         KindTextEncoder,
		Name:         "short.bin",
		ExpectedSize: 1000,
	}}

	results, err := prov.Provision(context.Background(), manifest, Credentials{})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	if results[0].Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %q, want failed", results[0].Outcome)
	}
	if !errors.Is(results[0].Err, ErrSizeMismatch) {
		t.Errorf("error = %v, want ErrSizeMismatch", results[0].Err)
	}

	// Nothing published, temp discarded.
	if _, err := os.Stat(filepath.Join(dir, "text_encoders", "short.bin")); !os.IsNotExist(err) {
		t.Error("truncated download must not be published")
	}
	if _, err := os.Stat(filepath.Join(dir, partialDirName, "text_encoders", "short.bin.partial")); !os.IsNotExist(err) {
		t.Error("temp file must be discarded on size mismatch")
	}
}

func TestProvisionRedownloadsWrongSize(t *testing.T) {
	handler := newCountingHandler()
	handler.bodies["/f.bin"] = []byte("12345")

	server := httptest.NewServer(handler)
	defer server.Close()

	prov, dir := newTestProvisioner(t, server.Client())

	// A stale file of the wrong size at the final path.
	stale := filepath.Join(dir, "vae", "f.bin")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(stale, []byte("123"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	manifest := Manifest{{
		Source:       server.URL + "/f.bin",
		Kind:         KindVAE,
		Name:         "f.bin",
		ExpectedSize: 5,
	}}

	results, err := prov.Provision(context.Background(), manifest, Credentials{})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if results[0].Outcome != OutcomeDownloaded {
		t.Fatalf("Outcome = %q, want downloaded", results[0].Outcome)
	}

	data, _ := os.ReadFile(stale)
	if string(data) != "12345" {
		t.Errorf("contents = %q, want %q", data, "12345")
	}
}

func TestProvisionAtomicVisibility(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first half "))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		close(inFlight)
		<-release
		w.Write([]byte("second half"))
	}))
	defer server.Close()

	prov, dir := newTestProvisioner(t, server.Client())
	final := filepath.Join(dir, "checkpoints", "big.bin")

	manifest := Manifest{{
		Source: server.URL + "/big.bin",
		Kind:   KindCheckpoint,
		Name:   "big.bin",
	}}

	done := make(chan Results, 1)
	go func() {
		results, _ := prov.Provision(context.Background(), manifest, Credentials{})
		done <- results
	}()

	<-inFlight
	// The download is mid-stream: the final path must not exist yet.
	if _, err := os.Stat(final); !os.IsNotExist(err) {
		t.Error("final path visible during in-flight download")
	}
	close(release)

	results := <-done
	if results[0].Outcome != OutcomeDownloaded {
		t.Fatalf("Outcome = %q, want downloaded", results[0].Outcome)
	}
	data, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("reading published file: %v", err)
	}
	if string(data) != "first half second half" {
		t.Errorf("contents = %q", data)
	}
}

func TestProvisionCancellation(t *testing.T) {
	handler := newCountingHandler()
	handler.bodies["/fast.bin"] = []byte("done")

	started := make(chan struct{})
	mux := http.NewServeMux()
	mux.Handle("/fast.bin", handler)
	mux.HandleFunc("/slow.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("beginning"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		close(started)
		<-r.Context().Done()
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	prov, dir := newTestProvisioner(t, server.Client())

	manifest := Manifest{
		{Source: server.URL + "/fast.bin", Kind: KindVAE, Name: "fast.bin"},
		{Source: server.URL + "/slow.bin", Kind: KindVAE, Name: "slow.bin"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Results, 1)
	go func() {
		results, _ := prov.Provision(ctx, manifest, Credentials{}, WithConcurrency(2))
		done <- results
	}()

	<-started
	cancel()

	var results Results
	select {
	case results = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Provision did not return after cancellation")
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[1].Outcome != OutcomeFailed {
		t.Errorf("in-flight entry outcome = %q, want failed", results[1].Outcome)
	}

	// No partial state visible for the cancelled entry; already-completed
	// entries stay intact.
	if _, err := os.Stat(filepath.Join(dir, "vae", "slow.bin")); !os.IsNotExist(err) {
		t.Error("cancelled entry must not appear at its final path")
	}
	if _, err := os.Stat(filepath.Join(dir, partialDirName, "vae", "slow.bin.partial")); !os.IsNotExist(err) {
		t.Error("cancelled entry must not leave a temp file")
	}
	if results[0].Outcome == OutcomeDownloaded {
		if _, err := os.Stat(filepath.Join(dir, "vae", "fast.bin")); err != nil {
			t.Errorf("completed entry's file should stay intact: %v", err)
		}
	}
}

func TestProvisionResume(t *testing.T) {
	full := []byte("0123456789abcdef")

	t.Run("resumes crash leftover with range request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rng := r.Header.Get("Range")
			if rng == "" {
				w.Write(full)
				return
			}
			offset, err := parseRangeOffset(rng)
			if err != nil {
				t.Errorf("bad range header %q", rng)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", offset, len(full)-1, len(full)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(full[offset:])
		}))
		defer server.Close()

		dir := t.TempDir()
		prov, err := NewProvisioner(Config{StoreDir: dir}, WithHTTPClient(server.Client()))
		if err != nil {
			t.Fatalf("NewProvisioner() error = %v", err)
		}

		// Simulate a crash that left the first 6 bytes in the temp area.
		tmp := filepath.Join(dir, partialDirName, "loras", "x.bin.partial")
		os.MkdirAll(filepath.Dir(tmp), 0o755)
		if err := os.WriteFile(tmp, full[:6], 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		manifest := Manifest{{
			Source:       server.URL + "/x.bin",
			Kind:         KindLoRA,
			Name:         "x.bin",
			ExpectedSize: int64(len(full)),
		}}

		results, err := prov.Provision(context.Background(), manifest, Credentials{})
		if err != nil {
			t.Fatalf("Provision() error = %v", err)
		}
		if results[0].Outcome != OutcomeDownloaded {
			t.Fatalf("Outcome = %q, want downloaded (err=%v)", results[0].Outcome, results[0].Err)
		}
		if results[0].BytesWritten != int64(len(full)-6) {
			t.Errorf("BytesWritten = %d, want %d", results[0].BytesWritten, len(full)-6)
		}

		data, _ := os.ReadFile(filepath.Join(dir, "loras", "x.bin"))
		if !bytes.Equal(data, full) {
			t.Errorf("contents = %q, want %q", data, full)
		}
	})

	t.Run("restarts when registry ignores range", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Full body regardless of any Range header.
			w.Write(full)
		}))
		defer server.Close()

		dir := t.TempDir()
		prov, err := NewProvisioner(Config{StoreDir: dir}, WithHTTPClient(server.Client()))
		if err != nil {
			t.Fatalf("NewProvisioner() error = %v", err)
		}

		tmp := filepath.Join(dir, partialDirName, "loras", "y.bin.partial")
		os.MkdirAll(filepath.Dir(tmp), 0o755)
		os.WriteFile(tmp, full[:6], 0o644)

		manifest := Manifest{{
			Source:       server.URL + "/y.bin",
			Kind:         KindLoRA,
			Name:         "y.bin",
			ExpectedSize: int64(len(full)),
		}}

		results, err := prov.Provision(context.Background(), manifest, Credentials{})
		if err != nil {
			t.Fatalf("Provision() error = %v", err)
		}
		if results[0].Outcome != OutcomeDownloaded {
			t.Fatalf("Outcome = %q, want downloaded (err=%v)", results[0].Outcome, results[0].Err)
		}

		data, _ := os.ReadFile(filepath.Join(dir, "loras", "y.bin"))
		if !bytes.Equal(data, full) {
			t.Errorf("contents = %q, want %q (stale temp bytes must not double up)", data, full)
		}
	})
}

func TestProvisionStoreWriteError(t *testing.T) {
	handler := newCountingHandler()
	handler.bodies["/z.bin"] = []byte("zzz")

	server := httptest.NewServer(handler)
	defer server.Close()

	base, err := newStore(Config{StoreDir: t.TempDir()})
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}

	p := &provisioner{
		cfg:      Config{},
		store:    &publishFailStore{store: base},
		registry: newRegistryClient(Config{}, server.Client(), zerolog.Nop()),
		log:      zerolog.Nop(),
	}

	manifest := Manifest{{Source: server.URL + "/z.bin", Kind: KindVAE, Name: "z.bin"}}
	results, err := p.Provision(context.Background(), manifest, Credentials{})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	if results[0].Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %q, want failed", results[0].Outcome)
	}
	if !errors.Is(results[0].Err, ErrStoreWrite) {
		t.Errorf("error = %v, want ErrStoreWrite", results[0].Err)
	}
}

// publishFailStore fails every publish to exercise store error reporting.
type publishFailStore struct {
	*store
}

func (s *publishFailStore) publish(dest string, size int64) error {
	return fmt.Errorf("%w: publishing %s: no space left on device", ErrStoreWrite, dest)
}

func TestProvisionInputOrder(t *testing.T) {
	handler := newCountingHandler()
	manifest := Manifest{}
	names := []string{"n1.bin", "n2.bin", "n3.bin", "n4.bin", "n5.bin"}

	server := httptest.NewServer(handler)
	defer server.Close()

	for i, name := range names {
		handler.bodies["/"+name] = bytes.Repeat([]byte("d"), (i+1)*100)
		manifest = append(manifest, ManifestEntry{
			Source: server.URL + "/" + name,
			Kind:   KindCheckpoint,
			Name:   name,
		})
	}

	prov, _ := newTestProvisioner(t, server.Client())

	results, err := prov.Provision(context.Background(), manifest, Credentials{}, WithConcurrency(4))
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if len(results) != len(manifest) {
		t.Fatalf("got %d results, want %d", len(results), len(manifest))
	}
	for i, r := range results {
		if r.Dest != manifest[i].Dest() {
			t.Errorf("results[%d].Dest = %q, want %q", i, r.Dest, manifest[i].Dest())
		}
		if r.Outcome != OutcomeDownloaded {
			t.Errorf("results[%d].Outcome = %q", i, r.Outcome)
		}
	}
}

func TestProvisionValidation(t *testing.T) {
	prov, _ := newTestProvisioner(t, http.DefaultClient)

	t.Run("empty manifest", func(t *testing.T) {
		results, err := prov.Provision(context.Background(), Manifest{}, Credentials{})
		if err != nil {
			t.Fatalf("Provision() error = %v", err)
		}
		if len(results) != 0 {
			t.Errorf("got %d results, want 0", len(results))
		}
	})

	t.Run("duplicate destination rejected", func(t *testing.T) {
		manifest := Manifest{
			{Source: "https://a.example/f", Kind: KindVAE, Name: "same.bin"},
			{Source: "https://b.example/f", Kind: KindVAE, Name: "same.bin"},
		}
		_, err := prov.Provision(context.Background(), manifest, Credentials{})
		if !errors.Is(err, ErrInvalidManifest) {
			t.Errorf("error = %v, want ErrInvalidManifest", err)
		}
	})
}

func TestProvisionProgress(t *testing.T) {
	handler := newCountingHandler()
	handler.bodies["/p.bin"] = bytes.Repeat([]byte("p"), 256)

	server := httptest.NewServer(handler)
	defer server.Close()

	prov, _ := newTestProvisioner(t, server.Client())

	var mu sync.Mutex
	var total int64
	manifest := Manifest{{Source: server.URL + "/p.bin", Kind: KindVAE, Name: "p.bin"}}

	_, err := prov.Provision(context.Background(), manifest, Credentials{},
		WithProgress(func(dest string, delta int64) {
			if dest != "vae/p.bin" {
				t.Errorf("progress dest = %q", dest)
			}
			mu.Lock()
			total += delta
			mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if total != 256 {
		t.Errorf("progress total = %d, want 256", total)
	}
}

// parseRangeOffset reads the start offset from a header like "bytes=6-".
func parseRangeOffset(rng string) (int, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-")
	return strconv.Atoi(trimmed)
}

func TestProvisionConcurrentWriters(t *testing.T) {
	handler := newCountingHandler()
	body := bytes.Repeat([]byte("w"), 1000)
	handler.bodies["/shared.bin"] = body

	// A small delay keeps both runs in flight at once.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		handler.ServeHTTP(w, r)
	}))
	defer server.Close()

	dir := t.TempDir()
	manifest := Manifest{{
		Source:       server.URL + "/shared.bin",
		Kind:         KindCheckpoint,
		Name:         "shared.bin",
		ExpectedSize: 1000,
	}}

	// Two provisioners sharing one store directory, as two containers
	// mounting the same volume would.
	runs := make(chan Results, 2)
	for i := 0; i < 2; i++ {
		prov, err := NewProvisioner(Config{StoreDir: dir}, WithHTTPClient(server.Client()))
		if err != nil {
			t.Fatalf("NewProvisioner() error = %v", err)
		}
		go func() {
			results, err := prov.Provision(context.Background(), manifest, Credentials{})
			if err != nil {
				t.Errorf("Provision() error = %v", err)
			}
			runs <- results
		}()
	}

	var outcomes []Outcome
	for i := 0; i < 2; i++ {
		select {
		case results := <-runs:
			if len(results) != 1 {
				t.Fatalf("got %d results, want 1", len(results))
			}
			if results[0].Err != nil {
				t.Fatalf("entry failed: %v", results[0].Err)
			}
			outcomes = append(outcomes, results[0].Outcome)
		case <-time.After(30 * time.Second):
			t.Fatal("provisioning runs did not finish")
		}
	}

	// The destination lock serializes the writers: exactly one fetches,
	// the other finds the published file once it gets the lock.
	if hits := handler.hitCount("/shared.bin"); hits != 1 {
		t.Errorf("server hits = %d, want 1", hits)
	}
	downloaded, skipped := 0, 0
	for _, o := range outcomes {
		switch o {
		case OutcomeDownloaded:
			downloaded++
		case OutcomeSkipped:
			skipped++
		}
	}
	if downloaded != 1 || skipped != 1 {
		t.Errorf("outcomes = %v, want one downloaded and one skipped", outcomes)
	}

	data, err := os.ReadFile(filepath.Join(dir, "checkpoints", "shared.bin"))
	if err != nil {
		t.Fatalf("reading published file: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Errorf("published file holds %d bytes, want %d intact bytes", len(data), len(body))
	}
}

func TestProvisionVerifiesTempFile(t *testing.T) {
	handler := newCountingHandler()
	handler.bodies["/v.bin"] = bytes.Repeat([]byte("v"), 20)

	server := httptest.NewServer(handler)
	defer server.Close()

	prov, dir := newTestProvisioner(t, server.Client())
	tmp := filepath.Join(dir, partialDirName, "vae", "v.bin.partial")

	manifest := Manifest{{Source: server.URL + "/v.bin", Kind: KindVAE, Name: "v.bin"}}

	// Grow the temp file from outside while the stream is in flight; the
	// byte count the provisioner streamed no longer matches the file, so
	// the rename must not happen.
	var tamper sync.Once
	results, err := prov.Provision(context.Background(), manifest, Credentials{},
		WithProgress(func(dest string, delta int64) {
			tamper.Do(func() {
				f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					t.Errorf("opening temp for tampering: %v", err)
					return
				}
				f.Write(bytes.Repeat([]byte("x"), 64))
				f.Close()
			})
		}))
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	if results[0].Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %q, want failed", results[0].Outcome)
	}
	if !errors.Is(results[0].Err, ErrSizeMismatch) {
		t.Errorf("error = %v, want ErrSizeMismatch", results[0].Err)
	}
	if _, err := os.Stat(filepath.Join(dir, "vae", "v.bin")); !os.IsNotExist(err) {
		t.Error("mismatched temp must not be published")
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("mismatched temp must be discarded")
	}
}

func TestProvisionStaleTemp(t *testing.T) {
	full := []byte("0123456789abcdef")

	t.Run("oversized leftover restarts from zero", func(t *testing.T) {
		var (
			mu       sync.Mutex
			sawRange bool
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Range") != "" {
				mu.Lock()
				sawRange = true
				mu.Unlock()
			}
			w.Write(full)
		}))
		defer server.Close()

		dir := t.TempDir()
		prov, err := NewProvisioner(Config{StoreDir: dir}, WithHTTPClient(server.Client()))
		if err != nil {
			t.Fatalf("NewProvisioner() error = %v", err)
		}

		// Upstream republished a smaller file: the leftover is larger
		// than the asset and cannot be resumed.
		tmp := filepath.Join(dir, partialDirName, "loras", "o.bin.partial")
		os.MkdirAll(filepath.Dir(tmp), 0o755)
		if err := os.WriteFile(tmp, bytes.Repeat([]byte("s"), len(full)+4), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		manifest := Manifest{{
			Source:       server.URL + "/o.bin",
			Kind:         KindLoRA,
			Name:         "o.bin",
			ExpectedSize: int64(len(full)),
		}}

		results, err := prov.Provision(context.Background(), manifest, Credentials{})
		if err != nil {
			t.Fatalf("Provision() error = %v", err)
		}
		if results[0].Outcome != OutcomeDownloaded {
			t.Fatalf("Outcome = %q, want downloaded (err=%v)", results[0].Outcome, results[0].Err)
		}
		mu.Lock()
		ranged := sawRange
		mu.Unlock()
		if ranged {
			t.Error("oversized leftover must not be resumed with a range request")
		}

		data, _ := os.ReadFile(filepath.Join(dir, "loras", "o.bin"))
		if !bytes.Equal(data, full) {
			t.Errorf("contents = %q, want %q", data, full)
		}
	})

	t.Run("range rejection restarts from zero", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Range") != "" {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			w.Write(full)
		}))
		defer server.Close()

		dir := t.TempDir()
		prov, err := NewProvisioner(Config{StoreDir: dir}, WithHTTPClient(server.Client()))
		if err != nil {
			t.Fatalf("NewProvisioner() error = %v", err)
		}

		// No expected size is known, so the rerun discovers the stale
		// leftover only from the registry's range rejection.
		tmp := filepath.Join(dir, partialDirName, "loras", "r.bin.partial")
		os.MkdirAll(filepath.Dir(tmp), 0o755)
		if err := os.WriteFile(tmp, bytes.Repeat([]byte("s"), len(full)), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		manifest := Manifest{{Source: server.URL + "/r.bin", Kind: KindLoRA, Name: "r.bin"}}

		results, err := prov.Provision(context.Background(), manifest, Credentials{})
		if err != nil {
			t.Fatalf("Provision() error = %v", err)
		}
		if results[0].Outcome != OutcomeDownloaded {
			t.Fatalf("Outcome = %q, want downloaded (err=%v)", results[0].Outcome, results[0].Err)
		}
		if results[0].BytesWritten != int64(len(full)) {
			t.Errorf("BytesWritten = %d, want %d", results[0].BytesWritten, len(full))
		}

		data, _ := os.ReadFile(filepath.Join(dir, "loras", "r.bin"))
		if !bytes.Equal(data, full) {
			t.Errorf("contents = %q, want %q", data, full)
		}
	})
}

func TestProvisionTempCloseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	base, err := newStore(Config{StoreDir: t.TempDir()})
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}

	p := &provisioner{
		cfg:      Config{},
		store:    &closeFailStore{store: base},
		registry: newRegistryClient(Config{}, server.Client(), zerolog.Nop()),
		log:      zerolog.Nop(),
	}

	manifest := Manifest{{Source: server.URL + "/c.bin", Kind: KindVAE, Name: "c.bin"}}
	results, err := p.Provision(context.Background(), manifest, Credentials{})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	if results[0].Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %q, want failed", results[0].Outcome)
	}
	if !errors.Is(results[0].Err, ErrStoreWrite) {
		t.Errorf("error = %v, want ErrStoreWrite", results[0].Err)
	}
	if errors.Is(results[0].Err, ErrFetchFailed) {
		t.Error("a local close failure must not be classified as a fetch error")
	}
}

// closeFailStore hands out already-closed temp files so every temp close
// fails.
type closeFailStore struct {
	*store
}

func (s *closeFailStore) openTemp(dest string, resume bool) (*os.File, int64, error) {
	f, off, err := s.store.openTemp(dest, resume)
	if err != nil {
		return nil, 0, err
	}
	f.Close()
	return f, off, nil
}
