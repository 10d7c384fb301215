package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/cluster"
	"github.com/kestrel-tracker/kestrel/config"
	"github.com/kestrel-tracker/kestrel/frontend"
	httpfrontend "github.com/kestrel-tracker/kestrel/frontend/http"
	udpfrontend "github.com/kestrel-tracker/kestrel/frontend/udp"
	"github.com/kestrel-tracker/kestrel/frontend/webtorrent"
	"github.com/kestrel-tracker/kestrel/journal"
	"github.com/kestrel-tracker/kestrel/middleware"
	"github.com/kestrel-tracker/kestrel/persistence"
	"github.com/kestrel-tracker/kestrel/pkg/log"
	"github.com/kestrel-tracker/kestrel/pkg/stop"
	"github.com/kestrel-tracker/kestrel/stats"
	"github.com/kestrel-tracker/kestrel/storage"
	"github.com/kestrel-tracker/kestrel/storage/memory"
	"github.com/kestrel-tracker/kestrel/tasks"
)

func decodeHex20(s string) (bittorrent.InfoHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return bittorrent.InfoHash{}, fmt.Errorf("invalid hex identifier %q: %w", s, err)
	}
	if len(b) != 20 {
		return bittorrent.InfoHash{}, fmt.Errorf("identifier %q is not 20 bytes", s)
	}
	return bittorrent.InfoHashFromBytes(b), nil
}

// openPersistence opens the configured SQL backend, creates its schema if
// needed and loads its durable state into the in-memory stores, per §4.5
// and §4.6.
func openPersistence(cfg config.PersistenceConfig, peerStore storage.PeerStore, whitelist, blacklist storage.AccessList, keys storage.KeyStore, users storage.UserStore) (persistence.Backend, error) {
	schema := persistence.Schema(cfg.Schema)

	var backend persistence.Backend
	var err error
	switch cfg.Dialect {
	case "sqlite":
		backend, err = persistence.OpenSQLite(cfg.DSN, schema)
	case "mysql":
		backend, err = persistence.OpenMySQL(cfg.DSN, schema)
	case "postgres":
		backend, err = persistence.OpenPostgres(cfg.DSN, schema)
	default:
		return nil, fmt.Errorf("unknown persistence dialect %q", cfg.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", cfg.Dialect, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := backend.CreateSchema(ctx); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := backend.LoadTorrents(ctx, func(records []persistence.TorrentRecord) error {
		for _, rec := range records {
			ih, err := decodeHex20(rec.InfoHash)
			if err != nil {
				return err
			}
			entry := storage.NewTorrentEntry()
			entry.Completed = rec.Completed
			entry.Updated = time.Unix(rec.Updated, 0)
			peerStore.Put(ih, entry)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("loading torrents: %w", err)
	}

	if whitelist != nil {
		if err := backend.LoadWhitelist(ctx, func(hashes []string) error {
			for _, h := range hashes {
				ih, err := decodeHex20(h)
				if err != nil {
					return err
				}
				whitelist.Add(ih)
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("loading whitelist: %w", err)
		}
	}

	if blacklist != nil {
		if err := backend.LoadBlacklist(ctx, func(hashes []string) error {
			for _, h := range hashes {
				ih, err := decodeHex20(h)
				if err != nil {
					return err
				}
				blacklist.Add(ih)
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("loading blacklist: %w", err)
		}
	}

	if keys != nil {
		if err := backend.LoadKeys(ctx, func(records []persistence.KeyRecord) error {
			for _, rec := range records {
				key, err := decodeHex20(rec.Key)
				if err != nil {
					return err
				}
				keys.Add(key, rec.ExpiresAt)
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("loading keys: %w", err)
		}
	}

	if users != nil {
		if err := backend.LoadUsers(ctx, func(records []persistence.UserRecord) error {
			for _, rec := range records {
				id, err := decodeHex20(rec.ID)
				if err != nil {
					return err
				}
				secretBytes, err := hex.DecodeString(rec.SecretKey)
				if err != nil || len(secretBytes) != 20 {
					return fmt.Errorf("invalid secret key for user %q", rec.ID)
				}
				var secret [20]byte
				copy(secret[:], secretBytes)

				users.Put(storage.UserEntry{
					ID:         bittorrent.UserID(id),
					ExternalID: rec.ExternalID,
					SecretKey:  secret,
					Uploaded:   rec.Uploaded,
					Downloaded: rec.Downloaded,
					Completed:  rec.Completed,
					Active:     true,
				})
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("loading users: %w", err)
		}
	}

	return backend, nil
}

// run wires up and starts every component cfg describes, blocking until
// shutdown is signaled.
func run(cfg *config.Config) error {
	peerStore := memory.New(cfg.Kestrel.Storage)

	var whitelist, blacklist storage.AccessList
	var keys storage.KeyStore
	var users storage.UserStore
	var j *journal.Journal
	var backend persistence.Backend

	if cfg.Kestrel.Persistence.Enabled {
		whitelist = memory.NewAccessList()
		blacklist = memory.NewAccessList()
		keys = memory.NewKeyStore()
		users = memory.NewUserStore()
		j = journal.New()

		var err error
		backend, err = openPersistence(cfg.Kestrel.Persistence, peerStore, whitelist, blacklist, keys, users)
		if err != nil {
			return err
		}
		log.Info("loaded persisted state", log.Fields{"dialect": cfg.Kestrel.Persistence.Dialect})
	}

	statistics := stats.New(1024)
	sg := stop.NewGroup()
	sg.Add(peerStore)
	sg.Add(statistics)
	if backend != nil {
		sg.AddFunc(func() <-chan error {
			c := make(chan error, 1)
			c <- backend.Close()
			close(c)
			return c
		})
	}

	sanitizer := cfg.Kestrel.RequestSanitizer

	var logic frontend.TrackerLogic
	var slave *cluster.Slave
	var master *cluster.Master

	switch cfg.Kestrel.Cluster.Mode {
	case config.Slave:
		s, err := cluster.NewSlave(cfg.Kestrel.Cluster.Slave)
		if err != nil {
			return fmt.Errorf("starting cluster slave: %w", err)
		}
		slave = s
		logic = slave
		sg.Add(slave)

	default: // Standalone and Master both run the real logic locally.
		mwCfg := cfg.Kestrel.Middleware
		mwCfg.PersistenceEnabled = cfg.Kestrel.Persistence.Enabled
		l := middleware.NewLogic(mwCfg, peerStore, middleware.Options{
			Whitelist:  whitelist,
			Blacklist:  blacklist,
			Keys:       keys,
			Users:      users,
			Journal:    j,
			Stats:      statistics,
			RequireKey: keys != nil,
		})
		logic = l
		sg.Add(l)

		if cfg.Kestrel.Cluster.Mode == config.Master {
			m, err := cluster.NewMaster(l, cfg.Kestrel.Cluster.Master)
			if err != nil {
				return fmt.Errorf("starting cluster master: %w", err)
			}
			master = m
			sg.Add(master)
		}
	}

	if cfg.Kestrel.HTTP.Addr != "" {
		sg.Add(httpfrontend.NewFrontend(logic, &sanitizer, cfg.Kestrel.HTTP))
	}
	if cfg.Kestrel.UDP.Addr != "" {
		f, err := udpfrontend.NewFrontend(logic, &sanitizer, cfg.Kestrel.UDP)
		if err != nil {
			return fmt.Errorf("starting udp frontend: %w", err)
		}
		sg.Add(f)
	}
	if cfg.Kestrel.WebTorrent.Addr != "" {
		sg.Add(webtorrent.NewFrontend(logic, &sanitizer, cfg.Kestrel.WebTorrent))
	}

	runner := tasks.NewRunner(cfg.Kestrel.Tasks, tasks.Dependencies{
		PeerStore: peerStore,
		Keys:      keys,
		Journal:   j,
		Backend:   backend,
		Stats:     statistics,
	})
	sg.Add(runner)

	waitForShutdown(sg, runner)
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM arrives, then stops every
// component in sg, logging any errors it reports. A heartbeat signal
// (SIGUSR1 on Unix, SIGHUP on Windows, see signal_unix.go/signal_windows.go)
// triggers an out-of-band heartbeat log line without otherwise interrupting
// the wait, mirroring the teacher's cmd/chihaya reload-signal split.
func waitForShutdown(sg *stop.Group, runner *tasks.Runner) {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	heartbeat := makeHeartbeatChan()

	for {
		select {
		case sig := <-shutdown:
			log.Info("received shutdown signal", log.Fields{"signal": sig.String()})
			for _, err := range sg.Stop() {
				log.Error("error shutting down", log.Err(err))
			}
			return
		case <-heartbeat:
			runner.Heartbeat()
		}
	}
}
