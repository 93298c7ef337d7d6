package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"pagepair/pkg/log"
	"pagepair/pkg/models"
	"pagepair/pkg/utils"
)

const (
	runKeyPrefix    = "run:"    // Prefix for per-run manifest keys in DB
	latestKeyPrefix = "latest:" // Prefix for per-compare latest-manifest pointers
	runsDBDir       = "runs_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the ManifestStore interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	ctx      context.Context // Parent context
	keyCount atomic.Int64    // Cached run-key count for O(1) RunCount
}

// NewBadgerStore initializes and returns a new BadgerStore under stateDir.
// One database holds the manifests for every configured compare key.
func NewBadgerStore(ctx context.Context, stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger,
		ctx: ctx,
	}

	dbPath := filepath.Join(stateDir, runsDBDir)
	logger.Infof("Initializing run manifest database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	dbLogger := log.NewBadgerAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(dbLogger).    // Badger Info chatter lands at Debug
		WithNumVersionsToKeep(1) // Only the latest version of each key matters

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", dbPath, err)
	}

	count, err := store.countRunKeys()
	if err != nil {
		logger.Warnf("Failed to count existing run keys: %v", err)
	} else {
		store.keyCount.Store(int64(count))
	}

	logger.Info("Run manifest database initialized successfully.")
	return store, nil
}

// countRunKeys performs a one-time run-key scan (used only during initialization).
func (s *BadgerStore) countRunKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(runKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// runKey builds the per-run key. The zero-padded timestamp makes keys sort
// chronologically within a compare key's prefix.
func runKey(compareKey string, startedAt time.Time, runID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", runKeyPrefix, compareKey, startedAt.UTC().UnixNano(), runID))
}

// latestKey builds the per-compare latest-manifest pointer key
func latestKey(compareKey string) []byte {
	return []byte(latestKeyPrefix + compareKey)
}

// SaveManifest implements the ManifestStore interface
func (s *BadgerStore) SaveManifest(manifest *models.RunManifest) error {
	if s.db == nil {
		return errors.New("run manifest DB not initialized")
	}
	if manifest == nil || manifest.RunID == "" || manifest.CompareKey == "" {
		return fmt.Errorf("manifest needs a run ID and compare key")
	}

	key := runKey(manifest.CompareKey, manifest.StartedAt, manifest.RunID)
	manifestBytes, errJson := json.Marshal(manifest)
	if errJson != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal manifest for run '%s': %w", utils.ErrParsing, manifest.RunID, errJson)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		if errSet := txn.SetEntry(badger.NewEntry(key, manifestBytes)); errSet != nil {
			return errSet
		}
		return txn.SetEntry(badger.NewEntry(latestKey(manifest.CompareKey), manifestBytes))
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in SaveManifest: %v", err)
		return fmt.Errorf("%w: saving manifest for run '%s': %w", utils.ErrDatabase, manifest.RunID, err)
	}
	if isNew {
		s.keyCount.Add(1)
	}

	s.log.Debugf("Saved manifest for run '%s' (compare '%s', status '%s')",
		manifest.RunID, manifest.CompareKey, manifest.Status)
	return nil
}

// LatestManifest implements the ManifestStore interface
func (s *BadgerStore) LatestManifest(compareKey string) (models.RunStatus, *models.RunManifest, error) {
	status := models.RunStatusNotFound
	var manifest *models.RunManifest
	key := latestKey(compareKey)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			status = models.RunStatusNotFound
			return nil // No stored runs is not an error here
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting latest manifest for '%s': %w", utils.ErrDatabase, compareKey, errGet)
		}

		return item.Value(func(val []byte) error {
			var decoded models.RunManifest
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				return fmt.Errorf("%w: corrupt manifest value for '%s': %w", utils.ErrDatabase, compareKey, errJson)
			}
			manifest = &decoded
			status = decoded.Status
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in LatestManifest for '%s': %v", compareKey, errView)
		return models.RunStatusDBError, nil, errView
	}
	return status, manifest, nil
}

// ListManifests implements the ManifestStore interface
func (s *BadgerStore) ListManifests(compareKey string, limit int) ([]models.RunManifest, error) {
	manifests := []models.RunManifest{}
	prefix := []byte(runKeyPrefix + compareKey + ":")

	errView := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			errVal := item.Value(func(val []byte) error {
				var decoded models.RunManifest
				if errJson := json.Unmarshal(val, &decoded); errJson != nil {
					s.log.Warnf("Skipping corrupt manifest at key '%s': %v", string(item.Key()), errJson)
					return nil // Keep scanning
				}
				manifests = append(manifests, decoded)
				return nil
			})
			if errVal != nil {
				return fmt.Errorf("%w: reading manifest at key '%s': %w", utils.ErrDatabase, string(item.Key()), errVal)
			}
		}
		return nil
	})

	if errView != nil {
		s.log.Errorf("DB View error in ListManifests for '%s': %v", compareKey, errView)
		return nil, errView
	}

	// Keys scan oldest first; callers want newest first
	slices.Reverse(manifests)
	if limit > 0 && len(manifests) > limit {
		manifests = manifests[:limit]
	}
	return manifests, nil
}

// RunCount implements the ManifestStore interface.
// Returns the cached run-key count (O(1)) maintained by atomic increments on writes.
func (s *BadgerStore) RunCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// RunGC reclaims space in the run store's value log on a fixed cadence.
// Blocks until ctx is cancelled; callers start it in a goroutine. Watch and
// MCP serve can hold the store open for days, and superseded manifests pile
// up as stale value log entries without this.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debugf("Run store GC started (every %v)", interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Debugf("Run store GC stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			s.gcCycle()
		}
	}
}

// gcCycle rewrites value log files until Badger reports nothing left worth
// reclaiming. Most cycles are no-ops; only real rewrites are logged.
func (s *BadgerStore) gcCycle() {
	rewritten := 0
	for {
		// Rewrite a log file only when at least half of it is stale
		err := s.db.RunValueLogGC(0.5)
		if err == nil {
			rewritten++
			continue
		}
		switch {
		case errors.Is(err, badger.ErrNoRewrite):
			if rewritten > 0 {
				s.log.Infof("Run store GC rewrote %d value log file(s)", rewritten)
			}
		default:
			s.log.Errorf("Run store GC error: %v", err)
		}
		return
	}
}

// Close implements the ManifestStore interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing run manifest DB...")
		err := s.db.Close()
		if err != nil {
			s.log.Errorf("Error closing run manifest DB: %v", err)
			return err
		}
		s.log.Info("Run manifest DB closed.")
		return nil
	}
	s.log.Info("Run manifest DB already closed or was not initialized.")
	return nil
}
