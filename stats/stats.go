// Package stats implements a means of tracking processing statistics for
// the tracker, exposed both as Prometheus gauges and as the periodic
// heartbeat log line emitted by the tasks package (C12).
package stats

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event identifies a countable occurrence recorded through RecordEvent.
type Event int

const (
	Announce Event = iota
	Scrape
	Completed
	ClusterRequest
	ClusterError
)

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_stats_events_total",
		Help: "The total number of tracker events processed, by kind.",
	}, []string{"event"})

	torrentsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kestrel_stats_torrents",
		Help: "The current number of torrents held in the swarm store.",
	})

	seedersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kestrel_stats_seeders",
		Help: "The current number of seeders across all swarms.",
	})

	leechersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kestrel_stats_leechers",
		Help: "The current number of leechers across all swarms.",
	})
)

func init() {
	prometheus.MustRegister(eventsTotal, torrentsGauge, seedersGauge, leechersGauge)
}

func (e Event) String() string {
	switch e {
	case Announce:
		return "announce"
	case Scrape:
		return "scrape"
	case Completed:
		return "completed"
	case ClusterRequest:
		return "cluster_request"
	case ClusterError:
		return "cluster_error"
	default:
		return "unknown"
	}
}

// Stats accumulates event counts behind a channel, the same way the
// teacher's tracker/stats package does, so RecordEvent never blocks a hot
// request path on map/counter contention.
type Stats struct {
	start     time.Time
	events    chan Event
	done      chan struct{}
	announces atomic.Uint64
	scrapes   atomic.Uint64
	completed atomic.Uint64
}

// New allocates a Stats and starts its event-handling goroutine.
func New(chanSize int) *Stats {
	s := &Stats{
		start:  time.Now(),
		events: make(chan Event, chanSize),
		done:   make(chan struct{}),
	}
	go s.handleEvents()
	return s
}

// RecordEvent queues an event for counting. It blocks while the channel's
// buffer is full; calling it after Close panics, the same contract the
// teacher's implementation has.
func (s *Stats) RecordEvent(e Event) {
	s.events <- e
}

// Close stops the Stats' event-handling goroutine.
func (s *Stats) Close() {
	close(s.events)
	<-s.done
}

// Stop adapts Close to the stop.Stopper contract used throughout the rest
// of the repository.
func (s *Stats) Stop() <-chan error {
	c := make(chan error)
	go func() {
		s.Close()
		close(c)
	}()
	return c
}

func (s *Stats) handleEvents() {
	defer close(s.done)
	for e := range s.events {
		eventsTotal.WithLabelValues(e.String()).Inc()
		switch e {
		case Announce:
			s.announces.Add(1)
		case Scrape:
			s.scrapes.Add(1)
		case Completed:
			s.completed.Add(1)
		}
	}
}

// Uptime returns how long this Stats has been running.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.start)
}

// Snapshot reads the running totals.
func (s *Stats) Snapshot() (announces, scrapes, completed uint64) {
	return s.announces.Load(), s.scrapes.Load(), s.completed.Load()
}

// SetSwarmSizes publishes the current torrent/seeder/leecher counts as
// Prometheus gauges; the tasks heartbeat loop calls this once per tick.
func SetSwarmSizes(torrents int, seeders, leechers uint64) {
	torrentsGauge.Set(float64(torrents))
	seedersGauge.Set(float64(seeders))
	leechersGauge.Set(float64(leechers))
}

// Heartbeat is a snapshot of the counters above, formatted for the
// heartbeat log line.
type Heartbeat struct {
	Uptime   time.Duration
	Torrents int
	Seeders  uint64
	Leechers uint64
}
