// Package config loads and validates the namespaced YAML configuration
// document that drives cmd/kestrel, following the teacher's pattern of
// per-component Config structs with a warn-and-default Validate method.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v2"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/cluster"
	"github.com/kestrel-tracker/kestrel/frontend/http"
	"github.com/kestrel-tracker/kestrel/frontend/udp"
	"github.com/kestrel-tracker/kestrel/frontend/webtorrent"
	"github.com/kestrel-tracker/kestrel/middleware"
	"github.com/kestrel-tracker/kestrel/persistence"
	"github.com/kestrel-tracker/kestrel/storage/memory"
	"github.com/kestrel-tracker/kestrel/tasks"
)

// identifierPattern is the only defence against identifier injection in
// the persistence layer, per §4.5: every operator-configurable table and
// column name must match it before any SQL is built.
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,30}$`)

// ValidateIdentifier reports an error if name is not a safe SQL
// identifier. It is the repository's sole gate against identifier
// injection in the persistence layer.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("config: %q is not a valid identifier (must match %s)", name, identifierPattern.String())
	}
	return nil
}

// ClusterMode is the per-process cluster role, per §4.7.
type ClusterMode string

const (
	Standalone ClusterMode = "standalone"
	Master     ClusterMode = "master"
	Slave      ClusterMode = "slave"
)

// SchemaConfig mirrors persistence.Schema in YAML-friendly form so every
// table/column name can be validated before it ever reaches persistence.
type SchemaConfig struct {
	TorrentsTable        string `yaml:"torrents_table"`
	TorrentsInfoHashCol  string `yaml:"torrents_infohash_col"`
	TorrentsCompletedCol string `yaml:"torrents_completed_col"`
	TorrentsUpdatedCol   string `yaml:"torrents_updated_col"`

	WhitelistTable       string `yaml:"whitelist_table"`
	WhitelistInfoHashCol string `yaml:"whitelist_infohash_col"`

	BlacklistTable       string `yaml:"blacklist_table"`
	BlacklistInfoHashCol string `yaml:"blacklist_infohash_col"`

	KeysTable      string `yaml:"keys_table"`
	KeysKeyCol     string `yaml:"keys_key_col"`
	KeysExpiresCol string `yaml:"keys_expires_col"`

	UsersTable         string `yaml:"users_table"`
	UsersIDCol         string `yaml:"users_id_col"`
	UsersExternalIDCol string `yaml:"users_external_id_col"`
	UsersSecretKeyCol  string `yaml:"users_secret_key_col"`
	UsersUploadedCol   string `yaml:"users_uploaded_col"`
	UsersDownloadedCol string `yaml:"users_downloaded_col"`
	UsersCompletedCol  string `yaml:"users_completed_col"`
}

// withDefaults fills any unset identifier from persistence.DefaultSchema,
// so an operator only needs to override the names that actually collide
// with something else in their database.
func (s SchemaConfig) withDefaults() SchemaConfig {
	d := persistence.DefaultSchema()
	if s.TorrentsTable == "" {
		s.TorrentsTable = d.TorrentsTable
	}
	if s.TorrentsInfoHashCol == "" {
		s.TorrentsInfoHashCol = d.TorrentsInfoHashCol
	}
	if s.TorrentsCompletedCol == "" {
		s.TorrentsCompletedCol = d.TorrentsCompletedCol
	}
	if s.TorrentsUpdatedCol == "" {
		s.TorrentsUpdatedCol = d.TorrentsUpdatedCol
	}
	if s.WhitelistTable == "" {
		s.WhitelistTable = d.WhitelistTable
	}
	if s.WhitelistInfoHashCol == "" {
		s.WhitelistInfoHashCol = d.WhitelistInfoHashCol
	}
	if s.BlacklistTable == "" {
		s.BlacklistTable = d.BlacklistTable
	}
	if s.BlacklistInfoHashCol == "" {
		s.BlacklistInfoHashCol = d.BlacklistInfoHashCol
	}
	if s.KeysTable == "" {
		s.KeysTable = d.KeysTable
	}
	if s.KeysKeyCol == "" {
		s.KeysKeyCol = d.KeysKeyCol
	}
	if s.KeysExpiresCol == "" {
		s.KeysExpiresCol = d.KeysExpiresCol
	}
	if s.UsersTable == "" {
		s.UsersTable = d.UsersTable
	}
	if s.UsersIDCol == "" {
		s.UsersIDCol = d.UsersIDCol
	}
	if s.UsersExternalIDCol == "" {
		s.UsersExternalIDCol = d.UsersExternalIDCol
	}
	if s.UsersSecretKeyCol == "" {
		s.UsersSecretKeyCol = d.UsersSecretKeyCol
	}
	if s.UsersUploadedCol == "" {
		s.UsersUploadedCol = d.UsersUploadedCol
	}
	if s.UsersDownloadedCol == "" {
		s.UsersDownloadedCol = d.UsersDownloadedCol
	}
	if s.UsersCompletedCol == "" {
		s.UsersCompletedCol = d.UsersCompletedCol
	}
	return s
}

// fields returns every identifier this schema carries, for validation.
func (s SchemaConfig) fields() []string {
	return []string{
		s.TorrentsTable, s.TorrentsInfoHashCol, s.TorrentsCompletedCol, s.TorrentsUpdatedCol,
		s.WhitelistTable, s.WhitelistInfoHashCol,
		s.BlacklistTable, s.BlacklistInfoHashCol,
		s.KeysTable, s.KeysKeyCol, s.KeysExpiresCol,
		s.UsersTable, s.UsersIDCol, s.UsersExternalIDCol, s.UsersSecretKeyCol,
		s.UsersUploadedCol, s.UsersDownloadedCol, s.UsersCompletedCol,
	}
}

// PersistenceConfig configures the optional durability layer (C7).
type PersistenceConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Dialect  string        `yaml:"dialect"` // sqlite, mysql, postgres
	DSN      string        `yaml:"dsn"`
	Schema   SchemaConfig  `yaml:"schema"`
}

// ClusterConfig configures the master/slave link (C11).
type ClusterConfig struct {
	Mode       ClusterMode     `yaml:"mode"`
	Master     cluster.Config  `yaml:"master"`
	Slave      cluster.SlaveConfig `yaml:"slave"`
}

// Config is the root namespaced document loaded from YAML.
type Config struct {
	Kestrel struct {
		MetricsAddr      string                      `yaml:"metrics_addr"`
		Middleware       middleware.Config           `yaml:"middleware"`
		Storage          memory.Config               `yaml:"storage"`
		RequestSanitizer bittorrent.RequestSanitizer `yaml:"request_sanitizer"`
		HTTP             http.Config                 `yaml:"http"`
		UDP              udp.Config                  `yaml:"udp"`
		WebTorrent       webtorrent.Config           `yaml:"webtorrent"`
		Persistence      PersistenceConfig           `yaml:"persistence"`
		Cluster          ClusterConfig               `yaml:"cluster"`
		Tasks            tasks.Config                `yaml:"tasks"`
	} `yaml:"kestrel"`
}

// Parse reads and unmarshals the YAML document at path.
func Parse(path string) (*Config, error) {
	contents, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate runs every identifier check and component Validate method,
// returning a bittorrent.TrackerError of kind ConfigInvalid on the first
// unrecoverable problem (bad identifiers, missing DSN); recoverable
// component-level problems are warned-and-defaulted in place.
func (c *Config) Validate() error {
	c.Kestrel.Middleware = c.Kestrel.Middleware.Validate()
	c.Kestrel.Storage = c.Kestrel.Storage.Validate()
	if c.Kestrel.HTTP.Addr != "" {
		c.Kestrel.HTTP = c.Kestrel.HTTP.Validate()
	}
	if c.Kestrel.UDP.Addr != "" {
		c.Kestrel.UDP = c.Kestrel.UDP.Validate()
	}
	if c.Kestrel.WebTorrent.Addr != "" {
		c.Kestrel.WebTorrent = c.Kestrel.WebTorrent.Validate()
	}
	c.Kestrel.Tasks = c.Kestrel.Tasks.Validate()

	if c.Kestrel.Persistence.Enabled {
		if c.Kestrel.Persistence.DSN == "" {
			return &bittorrent.TrackerError{Kind: bittorrent.ConfigInvalid, Message: "config: persistence.dsn must be set when persistence is enabled"}
		}
		switch c.Kestrel.Persistence.Dialect {
		case "sqlite", "mysql", "postgres":
		default:
			return &bittorrent.TrackerError{Kind: bittorrent.ConfigInvalid, Message: fmt.Sprintf("config: unknown persistence dialect %q", c.Kestrel.Persistence.Dialect)}
		}
		c.Kestrel.Persistence.Schema = c.Kestrel.Persistence.Schema.withDefaults()
		for _, field := range c.Kestrel.Persistence.Schema.fields() {
			if err := ValidateIdentifier(field); err != nil {
				return &bittorrent.TrackerError{Kind: bittorrent.ConfigInvalid, Message: err.Error()}
			}
		}
	}

	switch c.Kestrel.Cluster.Mode {
	case "", Standalone, Master, Slave:
	default:
		return &bittorrent.TrackerError{Kind: bittorrent.ConfigInvalid, Message: fmt.Sprintf("config: unknown cluster mode %q", c.Kestrel.Cluster.Mode)}
	}
	if c.Kestrel.Cluster.Mode == Slave && c.Kestrel.Cluster.Slave.MasterAddr == "" {
		return &bittorrent.TrackerError{Kind: bittorrent.ConfigInvalid, Message: "config: cluster.slave.master_addr must be set in slave mode"}
	}

	return nil
}
