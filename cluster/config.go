// Package cluster implements the master/slave link that lets a fleet of
// tracker processes share one logical swarm view: every slave forwards its
// announces and scrapes to a single master over a WebSocket, and the
// master runs the real middleware.Logic against its own storage.
package cluster

import (
	"time"

	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// Config configures the master side of the cluster link.
type Config struct {
	Addr            string        `yaml:"addr"`
	HandshakeToken  string        `yaml:"handshake_token"`
	Encoding        string        `yaml:"encoding"` // msgpack, json, gob
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":            cfg.Addr,
		"encoding":        cfg.Encoding,
		"readBufferSize":  cfg.ReadBufferSize,
		"writeBufferSize": cfg.WriteBufferSize,
		"writeTimeout":    cfg.WriteTimeout,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything invalid, warning to the logger
// when a value is changed. It does not check Addr or HandshakeToken, since
// those are only required in master mode; the caller enforces that.
func (cfg Config) Validate() Config {
	valid := cfg

	if cfg.Encoding == "" {
		valid.Encoding = "msgpack"
	}
	if cfg.ReadBufferSize <= 0 {
		valid.ReadBufferSize = 4096
	}
	if cfg.WriteBufferSize <= 0 {
		valid.WriteBufferSize = 4096
	}
	if cfg.WriteTimeout <= 0 {
		valid.WriteTimeout = 5 * time.Second
		log.Warn("falling back to default configuration", log.Fields{
			"name": "cluster.master.WriteTimeout", "provided": cfg.WriteTimeout, "default": valid.WriteTimeout,
		})
	}

	return valid
}

// SlaveConfig configures the slave side of the cluster link.
type SlaveConfig struct {
	MasterAddr        string        `yaml:"master_addr"`
	HandshakeToken    string        `yaml:"handshake_token"`
	Encoding          string        `yaml:"encoding"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg SlaveConfig) LogFields() log.Fields {
	return log.Fields{
		"masterAddr":        cfg.MasterAddr,
		"encoding":          cfg.Encoding,
		"requestTimeout":    cfg.RequestTimeout,
		"reconnectInterval": cfg.ReconnectInterval,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything invalid, warning to the logger
// when a value is changed.
func (cfg SlaveConfig) Validate() SlaveConfig {
	valid := cfg

	if cfg.Encoding == "" {
		valid.Encoding = "msgpack"
	}
	if cfg.RequestTimeout <= 0 {
		valid.RequestTimeout = 10 * time.Second
		log.Warn("falling back to default configuration", log.Fields{
			"name": "cluster.slave.RequestTimeout", "provided": cfg.RequestTimeout, "default": valid.RequestTimeout,
		})
	}
	if cfg.ReconnectInterval <= 0 {
		valid.ReconnectInterval = 5 * time.Second
		log.Warn("falling back to default configuration", log.Fields{
			"name": "cluster.slave.ReconnectInterval", "provided": cfg.ReconnectInterval, "default": valid.ReconnectInterval,
		})
	}

	return valid
}
