// Package tasks implements the four independent periodic sweeps (C12):
// peer timeout, key expiry, journal flush and heartbeat, each on its own
// time.Ticker and composed under one stop.Group so a single Stop call
// tears them all down together.
package tasks

import (
	"time"

	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// Config holds the configuration of every periodic task.
type Config struct {
	PeerGCInterval       time.Duration `yaml:"peer_gc_interval"`
	PeerLifetime         time.Duration `yaml:"peer_lifetime"`
	KeyGCInterval        time.Duration `yaml:"key_gc_interval"`
	JournalFlushInterval time.Duration `yaml:"journal_flush_interval"`
	JournalFlushTimeout  time.Duration `yaml:"journal_flush_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
}

// LogFields renders the current config as a set of logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"peerGCInterval":       cfg.PeerGCInterval,
		"peerLifetime":         cfg.PeerLifetime,
		"keyGCInterval":        cfg.KeyGCInterval,
		"journalFlushInterval": cfg.JournalFlushInterval,
		"journalFlushTimeout":  cfg.JournalFlushTimeout,
		"heartbeatInterval":    cfg.HeartbeatInterval,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything invalid, warning to the logger
// when a value is changed.
func (cfg Config) Validate() Config {
	valid := cfg

	if cfg.PeerGCInterval <= 0 {
		valid.PeerGCInterval = 3 * time.Minute
		log.Warn("falling back to default configuration", log.Fields{
			"name": "tasks.PeerGCInterval", "provided": cfg.PeerGCInterval, "default": valid.PeerGCInterval,
		})
	}
	if cfg.PeerLifetime <= 0 {
		valid.PeerLifetime = 30 * time.Minute
		log.Warn("falling back to default configuration", log.Fields{
			"name": "tasks.PeerLifetime", "provided": cfg.PeerLifetime, "default": valid.PeerLifetime,
		})
	}
	if cfg.KeyGCInterval <= 0 {
		valid.KeyGCInterval = time.Minute
		log.Warn("falling back to default configuration", log.Fields{
			"name": "tasks.KeyGCInterval", "provided": cfg.KeyGCInterval, "default": valid.KeyGCInterval,
		})
	}
	if cfg.JournalFlushInterval <= 0 {
		valid.JournalFlushInterval = 30 * time.Second
		log.Warn("falling back to default configuration", log.Fields{
			"name": "tasks.JournalFlushInterval", "provided": cfg.JournalFlushInterval, "default": valid.JournalFlushInterval,
		})
	}
	if cfg.JournalFlushTimeout <= 0 {
		valid.JournalFlushTimeout = 10 * time.Second
		log.Warn("falling back to default configuration", log.Fields{
			"name": "tasks.JournalFlushTimeout", "provided": cfg.JournalFlushTimeout, "default": valid.JournalFlushTimeout,
		})
	}
	if cfg.HeartbeatInterval <= 0 {
		valid.HeartbeatInterval = time.Minute
		log.Warn("falling back to default configuration", log.Fields{
			"name": "tasks.HeartbeatInterval", "provided": cfg.HeartbeatInterval, "default": valid.HeartbeatInterval,
		})
	}

	return valid
}
