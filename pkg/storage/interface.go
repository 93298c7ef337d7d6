package storage

import (
	"context"
	"time"

	"pagepair/pkg/models"
)

// RunStore persists and retrieves pairing run manifests
type RunStore interface {
	// SaveManifest stores a finished run manifest and updates the compare
	// key's latest pointer
	SaveManifest(manifest *models.RunManifest) error

	// LatestManifest retrieves the most recent manifest for a compare key.
	// Returns status RunStatusNotFound (with a nil manifest and nil error)
	// when the compare has no stored runs, RunStatusDBError on lookup or
	// decode failure, and otherwise the stored manifest's own status.
	LatestManifest(compareKey string) (status models.RunStatus, manifest *models.RunManifest, err error)

	// ListManifests returns stored manifests for a compare key, newest
	// first. A limit of zero or less returns all of them.
	ListManifests(compareKey string, limit int) ([]models.RunManifest, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// RunCount returns the number of stored run manifests across all compares
	RunCount() (int, error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// ManifestStore combines run persistence and admin access for components
// that need both
type ManifestStore interface {
	RunStore
	StoreAdmin
}
