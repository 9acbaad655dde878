package store

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Reaper sweeps expired duel records on a fixed interval. It holds no
// locks across I/O because it performs none: eviction is a pure map
// operation under the store's own mutex.
type Reaper struct {
	store    *Store
	interval time.Duration
	log      *logrus.Entry
	stopChan chan struct{}
}

// NewReaper builds a reaper over store, waking every interval (60s in
// production; tests may use a shorter interval).
func NewReaper(store *Store, interval time.Duration, log *logrus.Entry) *Reaper {
	return &Reaper{
		store:    store,
		interval: interval,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called. Intended to be launched
// with `go reaper.Start()`.
func (r *Reaper) Start() {
	r.log.WithField("interval", r.interval).Info("reaper starting")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopChan:
			r.log.Info("reaper stopping")
			return
		}
	}
}

// Stop halts the sweep loop.
func (r *Reaper) Stop() {
	close(r.stopChan)
}

func (r *Reaper) sweep() {
	r.store.mu.RLock()
	expired := make([]string, 0)
	now := time.Now()
	for id, e := range r.store.duels {
		if now.After(e.expiresAt) {
			expired = append(expired, id)
		}
	}
	r.store.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	for _, id := range expired {
		r.store.evict(id)
	}
	r.log.WithField("count", len(expired)).Info("reaper evicted expired duels")
}
