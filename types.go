package assets

import (
	"fmt"
	"path"
	"strings"
)

// Config configures the provisioning module.
type Config struct {
	// StoreDir is the root of the persistent asset store (the mounted
	// volume in a cloud deployment). If empty, uses the
	// COMFY_ASSETS_DIR environment variable or a platform default.
	StoreDir string

	// HuggingFaceURL is the base URL for Hugging Face sources.
	// Defaults to DefaultHuggingFaceURL.
	HuggingFaceURL string

	// CivitaiURL is the base URL for Civitai sources.
	// Defaults to DefaultCivitaiURL.
	CivitaiURL string

	// Concurrency is the default number of concurrent fetches.
	// Defaults to DefaultConcurrency.
	Concurrency int
}

// Registry base URL defaults.
const (
	DefaultHuggingFaceURL = "https://huggingface.co"
	DefaultCivitaiURL     = "https://civitai.com"
)

// AssetKind is the semantic category of a model file. It determines the
// subdirectory of the store the file is published into.
type AssetKind string

// Asset kinds recognized by the store layout.
const (
	KindCheckpoint     AssetKind = "checkpoints"
	KindDiffusionModel AssetKind = "diffusion_models"
	KindVAE            AssetKind = "vae"
	KindLoRA           AssetKind = "loras"
	KindTextEncoder    AssetKind = "text_encoders"
	KindControlNet     AssetKind = "controlnet"
)

// Kinds returns all asset kinds in store-layout order.
func Kinds() []AssetKind {
	return []AssetKind{
		KindCheckpoint,
		KindDiffusionModel,
		KindVAE,
		KindLoRA,
		KindTextEncoder,
		KindControlNet,
	}
}

// ParseAssetKind parses a kind name into an AssetKind.
// Returns ErrInvalidKind if the name is not a recognized kind.
func ParseAssetKind(s string) (AssetKind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// ManifestEntry is one requested asset: a remote source and the store
// location it must end up at.
type ManifestEntry struct {
	// Source identifies the remote object. Accepted forms:
	//   - a full http(s) URL
	//   - "hf:owner/repo/path/to/file" (or the same without the prefix),
	//     resolved against the Hugging Face base URL
	//   - "civitai:<modelVersionID>", resolved against the Civitai base URL
	Source string `json:"source" yaml:"source"`

	// Kind selects the store subdirectory.
	Kind AssetKind `json:"kind" yaml:"kind"`

	// Name is the file name within the kind subdirectory.
	Name string `json:"name" yaml:"name"`

	// ExpectedSize is the expected file size in bytes. Zero means unknown;
	// when set it is used for skip detection and completeness verification.
	ExpectedSize int64 `json:"expected_size,omitempty" yaml:"expected_size,omitempty"`

	// Scope names the credential that authorizes the fetch. Empty means
	// the source is fetched anonymously.
	Scope CredentialScope `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// Dest returns the entry's destination path relative to the store root,
// e.g. "diffusion_models/model.safetensors".
func (e ManifestEntry) Dest() string {
	return path.Join(string(e.Kind), e.Name)
}

// ParseDest splits a destination path like "vae/flux2-vae.safetensors"
// into its asset kind and file name.
func ParseDest(dest string) (AssetKind, string, error) {
	dir, name := path.Split(path.Clean(dest))
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" || name == "" || strings.Contains(dir, "/") {
		return "", "", fmt.Errorf("%w: destination %q must be <kind>/<file>", ErrInvalidManifest, dest)
	}
	kind, err := ParseAssetKind(dir)
	if err != nil {
		return "", "", err
	}
	return kind, name, nil
}

// Outcome is the per-entry result of a provisioning run.
type Outcome string

// Per-entry outcomes.
const (
	// OutcomeSkipped means the destination already held the complete file
	// and no network call was made.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeDownloaded means the file was fetched and published.
	OutcomeDownloaded Outcome = "downloaded"

	// OutcomeFailed means the entry could not be provisioned. Err holds
	// the cause; other entries are unaffected.
	OutcomeFailed Outcome = "failed"
)

// FetchResult is the outcome for a single manifest entry.
type FetchResult struct {
	// Dest is the entry's destination path relative to the store root.
	Dest string `json:"dest"`

	// Outcome classifies what happened to the entry.
	Outcome Outcome `json:"outcome"`

	// BytesWritten is the number of bytes fetched during this run.
	// Zero for skipped entries.
	BytesWritten int64 `json:"bytes_written"`

	// Err is the cause of a failed outcome, nil otherwise.
	Err error `json:"-"`
}

// Results is the ordered outcome list of one provisioning run,
// one element per manifest entry in input order.
type Results []FetchResult

// Downloaded returns the number of downloaded entries.
func (rs Results) Downloaded() int { return rs.count(OutcomeDownloaded) }

// Skipped returns the number of skipped entries.
func (rs Results) Skipped() int { return rs.count(OutcomeSkipped) }

// Failed returns the number of failed entries.
func (rs Results) Failed() int { return rs.count(OutcomeFailed) }

func (rs Results) count(o Outcome) int {
	n := 0
	for _, r := range rs {
		if r.Outcome == o {
			n++
		}
	}
	return n
}
