package tasks

import (
	"context"
	"time"

	"github.com/kestrel-tracker/kestrel/journal"
	"github.com/kestrel-tracker/kestrel/persistence"
	"github.com/kestrel-tracker/kestrel/pkg/log"
	"github.com/kestrel-tracker/kestrel/pkg/stop"
	"github.com/kestrel-tracker/kestrel/stats"
	"github.com/kestrel-tracker/kestrel/storage"
)

// Dependencies are the components a Runner sweeps. PeerStore is the only
// mandatory field. Keys enables the key-expiry loop, Journal together with
// Backend enables the journal-flush loop, and Stats, when set, adds event
// counters and uptime to the heartbeat line.
type Dependencies struct {
	PeerStore storage.PeerStore
	Keys      storage.KeyStore
	Journal   *journal.Journal
	Backend   persistence.Backend
	Stats     *stats.Stats
}

// Runner owns the four periodic loops and stops them together.
type Runner struct {
	cfg       Config
	group     *stop.Group
	heartbeat func()
}

// NewRunner validates cfg, starts every loop its Dependencies enable, and
// returns a Runner ready to be stopped.
func NewRunner(provided Config, deps Dependencies) *Runner {
	cfg := provided.Validate()
	r := &Runner{cfg: cfg, group: stop.NewGroup()}

	r.heartbeat = func() {
		torrents := deps.PeerStore.Count()
		seeders, leechers := deps.PeerStore.PeerCounts()
		stats.SetSwarmSizes(torrents, seeders, leechers)

		fields := log.Fields{"torrents": torrents, "seeders": seeders, "leechers": leechers}
		if deps.Stats != nil {
			announces, scrapes, completed := deps.Stats.Snapshot()
			fields["announces"] = announces
			fields["scrapes"] = scrapes
			fields["completed"] = completed
			fields["uptime"] = deps.Stats.Uptime()
		}
		log.Info("heartbeat", fields)
	}

	r.group.AddFunc(runLoop(cfg.PeerGCInterval, func() {
		cutoff := time.Now().Add(-cfg.PeerLifetime)
		n := deps.PeerStore.CollectGarbage(cutoff)
		if n > 0 {
			log.Debug("swept timed-out peers", log.Fields{"count": n})
		}
	}))

	if deps.Keys != nil {
		r.group.AddFunc(runLoop(cfg.KeyGCInterval, func() {
			n := deps.Keys.Sweep(time.Now())
			if n > 0 {
				log.Debug("swept expired keys", log.Fields{"count": n})
			}
		}))
	}

	if deps.Journal != nil && deps.Backend != nil {
		r.group.AddFunc(runLoop(cfg.JournalFlushInterval, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.JournalFlushTimeout)
			defer cancel()
			if err := deps.Journal.Flush(ctx, deps.Backend); err != nil {
				log.Error("journal flush failed", log.Err(err))
			}
		}))
	}

	r.group.AddFunc(runLoop(cfg.HeartbeatInterval, r.heartbeat))

	return r
}

// Heartbeat runs the heartbeat tick immediately, out of band from its
// ticker. cmd/kestrel wires this to a platform reload signal so an
// operator can ask for a fresh log line without waiting for the next
// interval.
func (r *Runner) Heartbeat() {
	r.heartbeat()
}

// Stop shuts down every loop, returning a channel that closes once all
// have exited.
func (r *Runner) Stop() <-chan error {
	c := make(chan error)
	go func() {
		for _, err := range r.group.Stop() {
			c <- err
		}
		close(c)
	}()
	return c
}

// runLoop builds a stop.Func that runs fn on a time.Ticker until stopped.
func runLoop(interval time.Duration, fn func()) stop.Func {
	stopping := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopping:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return func() <-chan error {
		c := make(chan error)
		go func() {
			close(stopping)
			<-done
			close(c)
		}()
		return c
	}
}
