// Package assets provisions large pretrained model files into a
// persistent, container-restart-surviving store.
//
// The package serves two primary use cases:
//
//  1. Programmatic API via the Provisioner interface - Applications use
//     NewProvisioner to create a Provisioner and call Provision with a
//     manifest of requested assets.
//
//  2. CLI via NewCommand - a complete Cobra command tree providing
//     "pull", "fetch", "list", "paths" and "config" commands.
//
// # Idempotence
//
// Provisioning is safe to run repeatedly. A destination that already
// holds the complete file is skipped without a network call, so re-running
// after a partial failure only fetches what is still missing, and
// re-running after a complete run is a no-op.
//
// # Atomic publication
//
// Downloads stream into a temp file under .partial/ and are moved to the
// final path with a single atomic rename after size verification. A
// reader of the store never observes a truncated file at a final path,
// even across concurrently running containers sharing the same volume.
// A per-destination file lock serializes writers, so provisioners racing
// on one entry cannot interleave writes; the loser finds the published
// file and skips.
//
// # Storage
//
// The store root is resolved from the COMFY_ASSETS_DIR environment
// variable, then Config.StoreDir, then a platform default:
//   - Linux: $XDG_DATA_HOME/comfy-assets/store or ~/.local/share/comfy-assets/store
//   - macOS: ~/Library/Application Support/comfy-assets/store
//   - Windows: %APPDATA%\comfy-assets\store
//
// In a cloud deployment the store root is the mounted persistent volume.
package assets
