package assets

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Manifest is the list of requested assets for one provisioning run.
type Manifest []ManifestEntry

// Validate checks that every entry has a source, a recognized kind, a file
// name, and that no two entries share a destination path.
func (m Manifest) Validate() error {
	seen := make(map[string]int, len(m))
	for i, e := range m {
		if e.Source == "" {
			return fmt.Errorf("%w: entry %d has no source", ErrInvalidManifest, i)
		}
		if e.Name == "" {
			return fmt.Errorf("%w: entry %d has no file name", ErrInvalidManifest, i)
		}
		if _, err := ParseAssetKind(string(e.Kind)); err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrInvalidManifest, i, err)
		}
		dest := e.Dest()
		if prev, dup := seen[dest]; dup {
			return fmt.Errorf("%w: entries %d and %d share destination %q", ErrInvalidManifest, prev, i, dest)
		}
		seen[dest] = i
	}
	return nil
}

// FilterKinds returns the entries whose kind is in kinds.
// An empty kinds list returns the manifest unchanged.
func (m Manifest) FilterKinds(kinds ...AssetKind) Manifest {
	if len(kinds) == 0 {
		return m
	}
	want := make(map[AssetKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out Manifest
	for _, e := range m {
		if want[e.Kind] {
			out = append(out, e)
		}
	}
	return out
}

// manifestFile is the on-disk YAML form of a manifest.
type manifestFile struct {
	Entries []manifestFileEntry `yaml:"entries"`
}

// manifestFileEntry accepts either an explicit kind/name pair or a combined
// "dest" path, and a human-readable size ("18GB") or a byte count.
type manifestFileEntry struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
	Kind   string `yaml:"kind"`
	Name   string `yaml:"name"`
	Size   string `yaml:"size"`
	Scope  string `yaml:"scope"`
}

// LoadManifest reads manifest entries from a YAML file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return parseManifest(data)
}

func parseManifest(data []byte) (Manifest, error) {
	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	manifest := make(Manifest, 0, len(mf.Entries))
	for i, fe := range mf.Entries {
		entry := ManifestEntry{
			Source: fe.Source,
			Scope:  CredentialScope(fe.Scope),
		}

		switch {
		case fe.Dest != "":
			kind, name, err := ParseDest(fe.Dest)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			entry.Kind, entry.Name = kind, name
		default:
			kind, err := ParseAssetKind(fe.Kind)
			if err != nil {
				return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidManifest, i, err)
			}
			entry.Kind, entry.Name = kind, fe.Name
		}

		if fe.Size != "" {
			var sz datasize.ByteSize
			if err := sz.UnmarshalText([]byte(fe.Size)); err != nil {
				return nil, fmt.Errorf("%w: entry %d: bad size %q", ErrInvalidManifest, i, fe.Size)
			}
			entry.ExpectedSize = int64(sz.Bytes())
		}

		manifest = append(manifest, entry)
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}
