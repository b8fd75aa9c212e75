//go:build linux

package assets

import (
	"os"
	"path/filepath"
)

// defaultStoreDir returns the default store directory for Linux.
// Uses $XDG_DATA_HOME/comfy-assets/store if set,
// otherwise ~/.local/share/comfy-assets/store
func defaultStoreDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "comfy-assets", "store"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "comfy-assets", "store"), nil
}
