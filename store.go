package assets

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// completionState describes what the store holds for a destination path.
type completionState int

const (
	// stateAbsent means neither the final path nor a temp file exists.
	stateAbsent completionState = iota

	// statePartial means bytes exist only under the temp name. A partial
	// file is never observable at the final path.
	statePartial

	// stateComplete means the final path holds a published file.
	stateComplete
)

// partialDirName is the store subdirectory holding in-flight temp files.
const partialDirName = ".partial"

// defaultLockTimeout is the maximum wait for another writer to release a
// destination. A loser that times out fails the entry; the rerun skips it
// once the winner has published.
const defaultLockTimeout = 30 * time.Second

// entryLock is a held per-destination write lock.
type entryLock interface {
	// Unlock releases the lock. Safe to call multiple times.
	Unlock() error
}

// StoreFile describes one file materialized in the store.
type StoreFile struct {
	// Dest is the path relative to the store root.
	Dest string `json:"dest"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// ModTime is the file's last modification time.
	ModTime time.Time `json:"mod_time"`
}

// storeInterface defines the persistent-store operations the provisioning
// engine needs. Implemented by *store for production and by mocks in tests.
type storeInterface interface {
	// basePath returns the store root directory.
	basePath() string

	// ensureLayout creates the kind subdirectories and the temp area.
	ensureLayout() error

	// lockEntry acquires the cross-process write lock for a destination,
	// blocking until the current writer releases it or a timeout expires.
	lockEntry(dest string) (entryLock, error)

	// stat reports the completion state and size for a destination path.
	stat(dest string) (completionState, int64, error)

	// openTemp opens the temp file for a destination. With resume it
	// appends to an existing temp file and returns its current size;
	// otherwise the temp file is truncated.
	openTemp(dest string, resume bool) (*os.File, int64, error)

	// publish atomically moves the temp file to the final path after
	// checking that it holds exactly size bytes. The size check guards
	// the rename itself: the streamed byte count alone cannot prove the
	// temp file was not touched by anything else.
	publish(dest string, size int64) error

	// discardTemp removes the temp file for a destination, if any.
	discardTemp(dest string) error

	// list returns the files present in the store, optionally limited
	// to the given kinds.
	list(kinds ...AssetKind) ([]StoreFile, error)
}

// store is the filesystem-backed persistent asset store. Files are written
// under .partial/ and published with an atomic rename, so a reader never
// observes a truncated file at a final path. A per-destination file lock
// keeps concurrent provisioners (in this process or another container on
// the same volume) from interleaving writes into one temp file.
type store struct {
	baseDir     string
	lockTimeout time.Duration
}

var _ storeInterface = (*store)(nil)

// storeDirEnvVar overrides the store location when set.
const storeDirEnvVar = "COMFY_ASSETS_DIR"

// newStore creates a store rooted at the configured directory.
// Resolution order: COMFY_ASSETS_DIR, Config.StoreDir, platform default.
func newStore(cfg Config) (*store, error) {
	baseDir := os.Getenv(storeDirEnvVar)
	if baseDir == "" {
		baseDir = cfg.StoreDir
	}
	if baseDir == "" {
		def, err := defaultStoreDir()
		if err != nil {
			return nil, fmt.Errorf("resolving default store dir: %w", err)
		}
		baseDir = def
	}

	s := &store{baseDir: baseDir, lockTimeout: defaultLockTimeout}
	if err := s.ensureLayout(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *store) basePath() string { return s.baseDir }

// ensureLayout creates one subdirectory per asset kind plus the temp area.
func (s *store) ensureLayout() error {
	for _, kind := range Kinds() {
		if err := os.MkdirAll(filepath.Join(s.baseDir, string(kind)), 0o755); err != nil {
			return fmt.Errorf("%w: creating %s: %v", ErrStoreWrite, kind, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(s.baseDir, partialDirName), 0o755); err != nil {
		return fmt.Errorf("%w: creating temp area: %v", ErrStoreWrite, err)
	}
	return nil
}

// finalPath returns the absolute path a destination publishes to.
func (s *store) finalPath(dest string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(dest))
}

// tempPath returns the temp file path for a destination. The temp name is
// deterministic so a rerun after a crash can resume the partial bytes.
func (s *store) tempPath(dest string) string {
	return filepath.Join(s.baseDir, partialDirName, filepath.FromSlash(dest)+".partial")
}

// lockPath returns the lock file path for a destination.
func (s *store) lockPath(dest string) string {
	return filepath.Join(s.baseDir, partialDirName, filepath.FromSlash(dest)+".lock")
}

func (s *store) lockEntry(dest string) (entryLock, error) {
	path := s.lockPath(dest)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	lock, err := newFileLock(path, s.lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	if err := lock.Lock(); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("%w: locking %s: %v", ErrStoreWrite, dest, err)
	}
	return lock, nil
}

func (s *store) stat(dest string) (completionState, int64, error) {
	if info, err := os.Stat(s.finalPath(dest)); err == nil {
		if info.IsDir() {
			return stateAbsent, 0, fmt.Errorf("%w: %s is a directory", ErrStoreWrite, dest)
		}
		return stateComplete, info.Size(), nil
	} else if !os.IsNotExist(err) {
		return stateAbsent, 0, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	if info, err := os.Stat(s.tempPath(dest)); err == nil {
		return statePartial, info.Size(), nil
	} else if !os.IsNotExist(err) {
		return stateAbsent, 0, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	return stateAbsent, 0, nil
}

func (s *store) openTemp(dest string, resume bool) (*os.File, int64, error) {
	tmp := s.tempPath(dest)
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	var offset int64
	if resume {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("%w: %v", ErrStoreWrite, err)
		}
		offset = info.Size()
	}
	return f, offset, nil
}

func (s *store) publish(dest string, size int64) error {
	tmp := s.tempPath(dest)
	info, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	if info.Size() != size {
		return fmt.Errorf("%w: temp file for %s holds %d bytes, expected %d", ErrSizeMismatch, dest, info.Size(), size)
	}

	final := s.finalPath(dest)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("%w: publishing %s: %v", ErrStoreWrite, dest, err)
	}
	return nil
}

func (s *store) discardTemp(dest string) error {
	if err := os.Remove(s.tempPath(dest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	return nil
}

func (s *store) list(kinds ...AssetKind) ([]StoreFile, error) {
	if len(kinds) == 0 {
		kinds = Kinds()
	}

	var files []StoreFile
	for _, kind := range kinds {
		dir := filepath.Join(s.baseDir, string(kind))
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return fs.SkipAll
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(s.baseDir, p)
			if err != nil {
				return err
			}
			files = append(files, StoreFile{
				Dest:    filepath.ToSlash(rel),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: listing %s: %v", ErrStoreWrite, kind, err)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Dest < files[j].Dest })
	return files, nil
}
