package eventlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically purges expired events of terminal runs.
type Janitor struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a retention janitor. Events older than retention
// are purged once their run is terminal.
func NewJanitor(store *Store, retention, interval time.Duration, logger *zap.Logger) *Janitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the GC loop.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Info("event log janitor started",
		zap.Duration("retention", j.retention),
		zap.Duration("interval", j.interval))
}

// Stop terminates the loop and waits for the current sweep to finish.
func (j *Janitor) Stop() {
	j.cancel()
	j.wg.Wait()
	j.logger.Info("event log janitor stopped")
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case now := <-ticker.C:
			j.Sweep(now)
		}
	}
}

// Sweep runs one GC pass with the given reference time.
func (j *Janitor) Sweep(now time.Time) {
	deleted, err := j.store.DeleteExpired(j.ctx, now.Add(-j.retention))
	if err != nil {
		j.logger.Error("event log sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		j.logger.Info("purged expired run events", zap.Int64("deleted", deleted))
	}
}
