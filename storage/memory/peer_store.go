// Package memory implements the in-memory swarm store (C2), the peer
// lifecycle engine (C3), the access-control sets (C4) and the optional
// user-accounting component (C5).
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/pkg/log"
	"github.com/kestrel-tracker/kestrel/pkg/timecache"
	"github.com/kestrel-tracker/kestrel/storage"
)

// ShardCount is the fixed fan-out of the sharded swarm store. Per §4.1 the
// shard index is the first byte of the infohash, so this is not
// configurable: it is exactly the number of values a byte can take.
const ShardCount = 256

// Default config constants.
const (
	defaultGCInterval   = 3 * time.Minute
	defaultPeerLifetime = 30 * time.Minute
)

// Config holds the configuration of the memory PeerStore.
type Config struct {
	GarbageCollectionInterval time.Duration `yaml:"gc_interval"`
	PeerLifetime              time.Duration `yaml:"peer_lifetime"`
}

// LogFields renders the current config as a set of logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"gcInterval":   cfg.GarbageCollectionInterval,
		"peerLifetime": cfg.PeerLifetime,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything invalid, warning to the logger
// when a value is changed.
func (cfg Config) Validate() Config {
	valid := cfg

	if cfg.GarbageCollectionInterval <= 0 {
		valid.GarbageCollectionInterval = defaultGCInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name": "memory.GarbageCollectionInterval", "provided": cfg.GarbageCollectionInterval, "default": valid.GarbageCollectionInterval,
		})
	}

	if cfg.PeerLifetime <= 0 {
		valid.PeerLifetime = defaultPeerLifetime
		log.Warn("falling back to default configuration", log.Fields{
			"name": "memory.PeerLifetime", "provided": cfg.PeerLifetime, "default": valid.PeerLifetime,
		})
	}

	return valid
}

// shard is one of the 256 independently lockable partitions of the store.
type shard struct {
	sync.RWMutex
	torrents map[bittorrent.InfoHash]storage.TorrentEntry
}

// peerStore is the 256-way sharded implementation of storage.PeerStore.
type peerStore struct {
	cfg    Config
	shards [ShardCount]*shard

	closed chan struct{}
	wg     sync.WaitGroup
}

var _ storage.PeerStore = (*peerStore)(nil)

// New creates a new PeerStore backed by memory, per §4.1.
func New(provided Config) storage.PeerStore {
	cfg := provided.Validate()

	ps := &peerStore{
		cfg:    cfg,
		closed: make(chan struct{}),
	}
	for i := range ps.shards {
		ps.shards[i] = &shard{torrents: make(map[bittorrent.InfoHash]storage.TorrentEntry)}
	}

	return ps
}

// shardIndex implements the deterministic, branch-free shard dispatch
// pinned by §4.1: the first byte of the infohash.
func shardIndex(ih bittorrent.InfoHash) uint8 {
	return ih[0]
}

func (ps *peerStore) shardFor(ih bittorrent.InfoHash) *shard {
	return ps.shards[shardIndex(ih)]
}

// cloneEntry deep-copies a TorrentEntry's peer maps so that returned
// snapshots never alias the store's internal state (§4.1: "snapshot must
// be internally consistent").
func cloneEntry(e storage.TorrentEntry) storage.TorrentEntry {
	out := storage.TorrentEntry{
		Seeds:     make(map[bittorrent.PeerID]storage.TorrentPeer, len(e.Seeds)),
		Leechers:  make(map[bittorrent.PeerID]storage.TorrentPeer, len(e.Leechers)),
		Completed: e.Completed,
		Updated:   e.Updated,
	}
	for k, v := range e.Seeds {
		out.Seeds[k] = v
	}
	for k, v := range e.Leechers {
		out.Leechers[k] = v
	}
	return out
}

// Announce implements the §4.2 state-transition table.
func (ps *peerStore) Announce(ih bittorrent.InfoHash, p storage.TorrentPeer, event bittorrent.Event, keepIfEmpty bool) (storage.AnnounceResult, error) {
	select {
	case <-ps.closed:
		panic("storage/memory: attempted to use a stopped peer store")
	default:
	}

	sh := ps.shardFor(ih)
	sh.Lock()

	entry, ok := sh.torrents[ih]
	if !ok {
		entry = storage.NewTorrentEntry()
	}

	p.Updated = timecache.Now()

	switch event {
	case bittorrent.Stopped:
		delete(entry.Seeds, p.ID)
		delete(entry.Leechers, p.ID)
	case bittorrent.Completed:
		if p.Left == 0 {
			delete(entry.Leechers, p.ID)
			entry.Seeds[p.ID] = p
		} else {
			delete(entry.Seeds, p.ID)
			entry.Leechers[p.ID] = p
		}
		entry.Completed++
	default: // Started or None
		if p.Left == 0 {
			delete(entry.Leechers, p.ID)
			entry.Seeds[p.ID] = p
		} else {
			delete(entry.Seeds, p.ID)
			entry.Leechers[p.ID] = p
		}
	}

	entry.Updated = timecache.Now()

	removed := false
	if len(entry.Seeds) == 0 && len(entry.Leechers) == 0 && !keepIfEmpty {
		delete(sh.torrents, ih)
		removed = true
	} else {
		sh.torrents[ih] = entry
	}

	snapshot := cloneEntry(entry)
	sh.Unlock()

	return storage.AnnounceResult{Entry: snapshot, Removed: removed}, nil
}

// incrementPeerID returns (id + 1) mod 2^160, per the deterministic
// peer-selection rule in §9.
func incrementPeerID(id bittorrent.PeerID) bittorrent.PeerID {
	var out bittorrent.PeerID
	copy(out[:], id[:])
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

// selectDeterministic returns up to numWant peers of address family af from
// candidates, iterating PeerID ascending starting from start and wrapping,
// per the deterministic selection rule in §9.
func selectDeterministic(candidates map[bittorrent.PeerID]storage.TorrentPeer, af bittorrent.AddressFamily, numWant int, start bittorrent.PeerID, exclude bittorrent.PeerID, out []bittorrent.Peer) []bittorrent.Peer {
	if numWant <= 0 || len(candidates) == 0 {
		return out
	}

	ids := make([]bittorrent.PeerID, 0, len(candidates))
	for id, peer := range candidates {
		if id == exclude {
			continue
		}
		if peer.IP.AddressFamily != af {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return out
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	startIdx := sort.Search(len(ids), func(i int) bool { return !ids[i].Less(start) })

	for i := 0; i < len(ids) && len(out) < cap(out); i++ {
		id := ids[(startIdx+i)%len(ids)]
		out = append(out, candidates[id].Peer())
	}

	return out
}

// AnnouncePeers implements the peer-selection policy from §4.2: seeds are
// preferred for a leecher requester, leechers are preferred for a seeder
// requester, and the response never exceeds min(numWant, available).
func (ps *peerStore) AnnouncePeers(ih bittorrent.InfoHash, seeder bool, numWant int, af bittorrent.AddressFamily, requester bittorrent.PeerID) ([]bittorrent.Peer, error) {
	select {
	case <-ps.closed:
		panic("storage/memory: attempted to use a stopped peer store")
	default:
	}

	if numWant > bittorrent.MaxNumWant {
		numWant = bittorrent.MaxNumWant
	}

	sh := ps.shardFor(ih)
	sh.RLock()
	entry, ok := sh.torrents[ih]
	if !ok {
		sh.RUnlock()
		return nil, storage.ErrResourceDoesNotExist
	}

	start := incrementPeerID(requester)
	out := make([]bittorrent.Peer, 0, numWant)

	if seeder {
		out = selectDeterministic(entry.Leechers, af, numWant, start, requester, out)
	} else {
		out = selectDeterministic(entry.Seeds, af, numWant, start, requester, out)
		if len(out) < numWant {
			out = selectDeterministic(entry.Leechers, af, numWant, start, requester, out)
		}
	}

	sh.RUnlock()
	return out, nil
}

// ScrapeSwarm returns the summary state of the swarm identified by ih.
func (ps *peerStore) ScrapeSwarm(ih bittorrent.InfoHash) storage.Scrape {
	sh := ps.shardFor(ih)
	sh.RLock()
	defer sh.RUnlock()

	entry, ok := sh.torrents[ih]
	if !ok {
		return storage.Scrape{}
	}
	return storage.Scrape{
		Complete:   uint32(len(entry.Seeds)),
		Incomplete: uint32(len(entry.Leechers)),
		Downloaded: entry.Completed,
	}
}

// Get returns a consistent snapshot of the TorrentEntry for ih, if any.
func (ps *peerStore) Get(ih bittorrent.InfoHash) (storage.TorrentEntry, bool) {
	sh := ps.shardFor(ih)
	sh.RLock()
	defer sh.RUnlock()

	entry, ok := sh.torrents[ih]
	if !ok {
		return storage.TorrentEntry{}, false
	}
	return cloneEntry(entry), true
}

// Put inserts or replaces the TorrentEntry for ih.
func (ps *peerStore) Put(ih bittorrent.InfoHash, entry storage.TorrentEntry) {
	sh := ps.shardFor(ih)
	sh.Lock()
	sh.torrents[ih] = cloneEntry(entry)
	sh.Unlock()
}

// Delete removes the TorrentEntry for ih.
func (ps *peerStore) Delete(ih bittorrent.InfoHash) (storage.TorrentEntry, bool) {
	sh := ps.shardFor(ih)
	sh.Lock()
	defer sh.Unlock()

	entry, ok := sh.torrents[ih]
	if ok {
		delete(sh.torrents, ih)
	}
	return entry, ok
}

// ForEachShard invokes fn once per shard with a copy of that shard's current
// set of infohashes; the shard's read lock is released before fn is called.
func (ps *peerStore) ForEachShard(fn func(infoHashes []bittorrent.InfoHash)) {
	for _, sh := range ps.shards {
		sh.RLock()
		ihs := make([]bittorrent.InfoHash, 0, len(sh.torrents))
		for ih := range sh.torrents {
			ihs = append(ihs, ih)
		}
		sh.RUnlock()

		fn(ihs)
	}
}

// Count returns the number of torrents held, computed by iterating shards.
func (ps *peerStore) Count() int {
	var n int
	for _, sh := range ps.shards {
		sh.RLock()
		n += len(sh.torrents)
		sh.RUnlock()
	}
	return n
}

// PeerCounts returns the total seeder and leecher counts across all shards.
func (ps *peerStore) PeerCounts() (seeders, leechers uint64) {
	for _, sh := range ps.shards {
		sh.RLock()
		for _, entry := range sh.torrents {
			seeders += uint64(len(entry.Seeds))
			leechers += uint64(len(entry.Leechers))
		}
		sh.RUnlock()
	}
	return
}

// CollectGarbage evicts peers whose last announce predates cutoff,
// iterating shards (and torrents within a shard) one at a time so that
// announces may interleave with the sweep, per §4.8.
func (ps *peerStore) CollectGarbage(cutoff time.Time) int {
	select {
	case <-ps.closed:
		return 0
	default:
	}

	var evicted int
	start := time.Now()

	for _, sh := range ps.shards {
		sh.RLock()
		ihs := make([]bittorrent.InfoHash, 0, len(sh.torrents))
		for ih := range sh.torrents {
			ihs = append(ihs, ih)
		}
		sh.RUnlock()

		for _, ih := range ihs {
			sh.Lock()
			entry, ok := sh.torrents[ih]
			if !ok {
				sh.Unlock()
				continue
			}

			for id, peer := range entry.Seeds {
				if peer.Updated.Before(cutoff) {
					delete(entry.Seeds, id)
					evicted++
				}
			}
			for id, peer := range entry.Leechers {
				if peer.Updated.Before(cutoff) {
					delete(entry.Leechers, id)
					evicted++
				}
			}

			if len(entry.Seeds) == 0 && len(entry.Leechers) == 0 {
				delete(sh.torrents, ih)
			} else {
				sh.torrents[ih] = entry
			}
			sh.Unlock()
		}
	}

	log.Debug("storage: peer garbage collection finished", log.Fields{"evicted": evicted, "timeTaken": time.Since(start)})
	return evicted
}

// Stop shuts the store down.
func (ps *peerStore) Stop() <-chan error {
	c := make(chan error)
	go func() {
		close(ps.closed)
		ps.wg.Wait()

		for i := range ps.shards {
			ps.shards[i] = &shard{torrents: make(map[bittorrent.InfoHash]storage.TorrentEntry)}
		}
		close(c)
	}()
	return c
}
