// Package middleware implements frontend.TrackerLogic by executing a
// configurable chain of pre- and post-announce/scrape hooks around the
// sharded swarm store, per §4.2-§4.4 and §5.
package middleware

import (
	"context"
	"time"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/frontend"
	"github.com/kestrel-tracker/kestrel/journal"
	"github.com/kestrel-tracker/kestrel/pkg/log"
	"github.com/kestrel-tracker/kestrel/pkg/stop"
	"github.com/kestrel-tracker/kestrel/stats"
	"github.com/kestrel-tracker/kestrel/storage"
)

// Config holds the configuration common across all middleware.
type Config struct {
	AnnounceInterval    time.Duration `yaml:"announce_interval"`
	MinAnnounceInterval time.Duration `yaml:"min_announce_interval"`

	// PersistenceEnabled controls whether an emptied torrent is retained
	// in the store (so its completed counter survives until the next
	// flush reads it) or removed outright.
	PersistenceEnabled bool `yaml:"-"`
}

// LogFields renders the current config as a set of logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"announceInterval":    cfg.AnnounceInterval,
		"minAnnounceInterval": cfg.MinAnnounceInterval,
		"persistenceEnabled":  cfg.PersistenceEnabled,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything invalid, warning to the logger
// when a value is changed.
func (cfg Config) Validate() Config {
	valid := cfg

	if cfg.AnnounceInterval <= 0 {
		valid.AnnounceInterval = 2 * time.Minute
		log.Warn("falling back to default configuration", log.Fields{
			"name": "middleware.AnnounceInterval", "provided": cfg.AnnounceInterval, "default": valid.AnnounceInterval,
		})
	}
	if cfg.MinAnnounceInterval <= 0 {
		valid.MinAnnounceInterval = time.Minute
		log.Warn("falling back to default configuration", log.Fields{
			"name": "middleware.MinAnnounceInterval", "provided": cfg.MinAnnounceInterval, "default": valid.MinAnnounceInterval,
		})
	}

	return valid
}

var _ frontend.TrackerLogic = &Logic{}

// Options configures the optional hooks NewLogic wires in addition to
// the mandatory swarm-interaction and response hooks.
type Options struct {
	Whitelist  storage.AccessList
	Blacklist  storage.AccessList
	Keys       storage.KeyStore
	Users      storage.UserStore
	Journal    *journal.Journal
	Stats      *stats.Stats
	RequireKey bool
}

// NewLogic creates a new instance of a TrackerLogic that executes a chain
// of middleware hooks around peerStore.
func NewLogic(provided Config, peerStore storage.PeerStore, opts Options) *Logic {
	cfg := provided.Validate()
	l := &Logic{
		announceInterval:    cfg.AnnounceInterval,
		minAnnounceInterval: cfg.MinAnnounceInterval,
		peerStore:           peerStore,
	}

	if opts.Blacklist != nil {
		l.preHooks = append(l.preHooks, &blacklistHook{list: opts.Blacklist})
	}
	if opts.Whitelist != nil {
		l.preHooks = append(l.preHooks, &whitelistHook{list: opts.Whitelist})
	}
	if opts.RequireKey && opts.Keys != nil {
		l.preHooks = append(l.preHooks, &keyHook{keys: opts.Keys})
	}
	l.preHooks = append(l.preHooks, &responseHook{store: peerStore})

	l.postHooks = append(l.postHooks, &swarmInteractionHook{store: peerStore, keepIfEmpty: cfg.PersistenceEnabled})
	if opts.Users != nil {
		l.postHooks = append(l.postHooks, &userAccountingHook{users: opts.Users})
	}
	if opts.Journal != nil {
		l.postHooks = append(l.postHooks, &journalHook{journal: opts.Journal, store: peerStore})
	}
	if opts.Stats != nil {
		l.postHooks = append(l.postHooks, &statsHook{stats: opts.Stats})
	}

	return l
}

// Logic is an implementation of frontend.TrackerLogic that functions by
// executing a series of middleware hooks.
type Logic struct {
	announceInterval    time.Duration
	minAnnounceInterval time.Duration
	peerStore           storage.PeerStore
	preHooks            []Hook
	postHooks           []Hook
}

// HandleAnnounce generates a response for an Announce.
func (l *Logic) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest) (*bittorrent.AnnounceResponse, error) {
	resp := &bittorrent.AnnounceResponse{
		Interval:    int32(l.announceInterval / time.Second),
		MinInterval: int32(l.minAnnounceInterval / time.Second),
		Compact:     req.Compact,
	}

	for _, h := range l.preHooks {
		if err := h.HandleAnnounce(ctx, req, resp); err != nil {
			return nil, err
		}
	}

	log.Debug("generated announce response", log.Fields{"infohash": req.InfoHash.String()})
	return resp, nil
}

// AfterAnnounce does something with the results of an Announce after it
// has been completed: applies the swarm mutation, then any accounting and
// persistence hooks.
func (l *Logic) AfterAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) {
	for _, h := range l.postHooks {
		if err := h.HandleAnnounce(ctx, req, resp); err != nil {
			log.Error("post-announce hooks failed", log.Err(err))
			return
		}
	}
}

// HandleScrape generates a response for a Scrape.
func (l *Logic) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest) (*bittorrent.ScrapeResponse, error) {
	resp := &bittorrent.ScrapeResponse{
		Files: make(map[bittorrent.InfoHash]bittorrent.Scrape, len(req.InfoHashes)),
	}

	for _, h := range l.preHooks {
		if err := h.HandleScrape(ctx, req, resp); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// AfterScrape does something with the results of a Scrape after it has
// been completed.
func (l *Logic) AfterScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) {
	for _, h := range l.postHooks {
		if err := h.HandleScrape(ctx, req, resp); err != nil {
			log.Error("post-scrape hooks failed", log.Err(err))
			return
		}
	}
}

// Stop stops the Logic, stopping any hook that implements stop.Stopper.
func (l *Logic) Stop() <-chan error {
	stopGroup := stop.NewGroup()
	for _, hook := range l.preHooks {
		if stoppable, ok := hook.(stop.Stopper); ok {
			stopGroup.Add(stoppable)
		}
	}
	for _, hook := range l.postHooks {
		if stoppable, ok := hook.(stop.Stopper); ok {
			stopGroup.Add(stoppable)
		}
	}

	c := make(chan error)
	go func() {
		for _, err := range stopGroup.Stop() {
			c <- err
		}
		close(c)
	}()
	return c
}
