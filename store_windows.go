//go:build windows

package assets

import (
	"os"
	"path/filepath"
)

// defaultStoreDir returns the default store directory for Windows.
// Returns %APPDATA%\comfy-assets\store
func defaultStoreDir() (string, error) {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		appData = filepath.Join(home, "AppData", "Roaming")
	}
	return filepath.Join(appData, "comfy-assets", "store"), nil
}
