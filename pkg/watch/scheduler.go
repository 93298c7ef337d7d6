package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pagepair/pkg/config"
	"pagepair/pkg/orchestrate"
	"pagepair/pkg/storage"
)

// Scheduler re-resolves URL pairs for compares on a fixed interval. Last-run
// times come from the run store, so a restarted watch picks up the schedule
// where the previous process left off.
type Scheduler struct {
	appCfg      *config.AppConfig
	compareKeys []string
	interval    time.Duration
	store       storage.RunStore
	log         *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool
	current  *orchestrate.Orchestrator
}

// NewScheduler creates a new watch scheduler. The store must be non-nil; it
// is both the schedule source and where finished manifests land.
func NewScheduler(appCfg *config.AppConfig, compareKeys []string, interval time.Duration, store storage.RunStore, log *logrus.Entry) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		appCfg:      appCfg,
		compareKeys: compareKeys,
		interval:    interval,
		store:       store,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		inFlight:    make(map[string]bool),
	}
}

// Run starts the watch scheduler and blocks until stopped
func (s *Scheduler) Run() error {
	s.log.Infof("Starting watch mode for %d compares with interval %v", len(s.compareKeys), s.interval)
	s.logSchedule()

	// Run initial batch for compares that are already due
	s.runDue()

	// Start the ticker for periodic checks
	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.runDue()
		}
	}
}

// Stop stops the watch scheduler and cancels any batch in progress
func (s *Scheduler) Stop() {
	s.log.Info("Stopping watch scheduler...")
	s.cancel()

	s.mu.Lock()
	if s.current != nil {
		s.current.Cancel()
	}
	s.mu.Unlock()
}

// runDue re-pairs every compare whose interval has elapsed
func (s *Scheduler) runDue() {
	due := s.takeDue()
	if len(due) == 0 {
		s.logNextRun()
		return
	}

	s.log.Infof("Re-pairing %d due compares: %v", len(due), due)

	orch := orchestrate.NewOrchestrator(s.appCfg, due, s.store, s.log.Logger)

	s.mu.Lock()
	s.current = orch
	s.mu.Unlock()

	// Run in a goroutine so shutdown stays responsive
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(due)

		results := orch.Run()

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()

		for _, result := range results {
			if result.Error != nil {
				s.log.Warnf("Compare '%s' failed: %v", result.CompareKey, result.Error)
			}
		}

		s.logNextRun()
	}()
}

// takeDue returns the compares whose interval has elapsed and marks them in
// flight, so a batch outliving the next tick is not started twice
func (s *Scheduler) takeDue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for _, key := range s.compareKeys {
		if s.inFlight[key] || !s.isDue(key) {
			continue
		}
		due = append(due, key)
		s.inFlight[key] = true
	}
	return due
}

// release clears the in-flight marks for a finished batch
func (s *Scheduler) release(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.inFlight, key)
	}
}

// lastRun returns when the compare's most recent stored run finished.
// A missing or unreadable manifest counts as never run.
func (s *Scheduler) lastRun(compareKey string) (time.Time, bool) {
	_, manifest, err := s.store.LatestManifest(compareKey)
	if err != nil || manifest == nil {
		return time.Time{}, false
	}
	return manifest.FinishedAt, true
}

// isDue checks whether enough time has passed since the compare's last run
func (s *Scheduler) isDue(compareKey string) bool {
	last, ok := s.lastRun(compareKey)
	if !ok {
		return true
	}
	return time.Since(last) >= s.interval
}

// nextRunTime returns when the compare should next run
func (s *Scheduler) nextRunTime(compareKey string) time.Time {
	last, ok := s.lastRun(compareKey)
	if !ok {
		return time.Now()
	}
	return last.Add(s.interval)
}

// calculateTickInterval returns how often to check for due compares
func (s *Scheduler) calculateTickInterval() time.Duration {
	// Check at least every minute, or every 1/10th of the interval
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

// logSchedule logs the current schedule
func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, key := range s.compareKeys {
		status, manifest, err := s.store.LatestManifest(key)
		if err != nil || manifest == nil {
			s.log.Infof("  %s: never run, will run immediately", key)
			continue
		}
		s.log.Infof("  %s: last run %v (%s, %d pairs), next run %v",
			key,
			manifest.FinishedAt.Format(time.RFC3339),
			status,
			len(manifest.Pairs),
			manifest.FinishedAt.Add(s.interval).Format(time.RFC3339))
	}
}

// logNextRun logs when the next run will occur
func (s *Scheduler) logNextRun() {
	var nextRuns []struct {
		key  string
		time time.Time
	}

	for _, key := range s.compareKeys {
		nextRuns = append(nextRuns, struct {
			key  string
			time time.Time
		}{key, s.nextRunTime(key)})
	}

	// Sort by next run time
	sort.Slice(nextRuns, func(i, j int) bool {
		return nextRuns[i].time.Before(nextRuns[j].time)
	})

	if len(nextRuns) > 0 {
		next := nextRuns[0]
		until := time.Until(next.time)
		if until < 0 {
			until = 0
		}
		s.log.Infof("Next re-pairing: %s in %v (at %s)", next.key, until.Round(time.Second), next.time.Format("15:04:05"))
	}
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days
func ParseInterval(s string) (time.Duration, error) {
	// Try standard parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	// Check for day suffix
	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
