//go:build darwin

package assets

import (
	"os"
	"path/filepath"
)

// defaultStoreDir returns the default store directory for macOS.
// Returns ~/Library/Application Support/comfy-assets/store
func defaultStoreDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "Application Support", "comfy-assets", "store"), nil
}
