// Package journal implements the update journal and write-behind flush
// (C6): every persistent mutation is recorded under a monotonic timestamp
// and later collapsed down to one record per entity before being handed
// to the persistence backend, bounding SQL round-trips to O(distinct
// entities) rather than O(events), per §4.4.
package journal

import (
	"context"
	"sync"

	"github.com/kestrel-tracker/kestrel/persistence"
	"github.com/kestrel-tracker/kestrel/pkg/log"
	"github.com/kestrel-tracker/kestrel/pkg/timecache"
)

// Action identifies whether a record reflects an upsert or a deletion.
type Action uint8

const (
	Upsert Action = iota
	Delete
)

// EntityKind identifies which persisted collection a record belongs to.
type EntityKind uint8

const (
	EntityTorrent EntityKind = iota
	EntityWhitelist
	EntityBlacklist
	EntityKey
	EntityUser
)

func (k EntityKind) String() string {
	switch k {
	case EntityTorrent:
		return "torrent"
	case EntityWhitelist:
		return "whitelist"
	case EntityBlacklist:
		return "blacklist"
	case EntityKey:
		return "key"
	case EntityUser:
		return "user"
	default:
		return "unknown"
	}
}

// UpdateRecord is one journaled mutation. Payload holds the dialect-
// independent persistence record for Kind (persistence.TorrentRecord,
// persistence.KeyRecord, persistence.UserRecord, or a bare hex string for
// whitelist/blacklist entries).
type UpdateRecord struct {
	Timestamp int64
	Kind      EntityKind
	EntityID  string
	Payload   interface{}
	Action    Action
}

type entityKey struct {
	kind EntityKind
	id   string
}

// Journal accumulates UpdateRecords between flushes.
type Journal struct {
	mu      sync.Mutex
	records map[int64]UpdateRecord
	latest  map[entityKey]int64
	lastTS  int64
}

// New allocates an empty Journal.
func New() *Journal {
	return &Journal{
		records: make(map[int64]UpdateRecord),
		latest:  make(map[entityKey]int64),
	}
}

// Record appends a mutation to the journal under a fresh monotonic
// timestamp and returns it.
func (j *Journal) Record(kind EntityKind, entityID string, payload interface{}, action Action) int64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	ts := timecache.Now().UnixNano()
	if ts <= j.lastTS {
		ts = j.lastTS + 1
	}
	j.lastTS = ts

	j.records[ts] = UpdateRecord{Timestamp: ts, Kind: kind, EntityID: entityID, Payload: payload, Action: action}
	j.latest[entityKey{kind, entityID}] = ts

	return ts
}

// Len returns the number of un-flushed records currently held.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

type collapsedEntry struct {
	key entityKey
	ts  int64
	rec UpdateRecord
}

// snapshot collapses the journal by entity-id, keeping the record with the
// greatest timestamp per entity (steps 1-2 of §4.4).
func (j *Journal) snapshot() map[EntityKind][]collapsedEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	byKind := make(map[EntityKind][]collapsedEntry)
	for key, ts := range j.latest {
		byKind[key.kind] = append(byKind[key.kind], collapsedEntry{key: key, ts: ts, rec: j.records[ts]})
	}
	return byKind
}

// removeIfUnchanged deletes, for each entity in entries, every journaled
// record at or before the flushed timestamp (the winning record and the
// ones it superseded), and drops the latest-index entry only for a key
// whose winning timestamp is still ts — a newer record recorded
// concurrently with the flush must survive.
func (j *Journal) removeIfUnchanged(entries []collapsedEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	flushed := make(map[entityKey]int64, len(entries))
	for _, e := range entries {
		flushed[e.key] = e.ts
		if j.latest[e.key] == e.ts {
			delete(j.latest, e.key)
		}
	}
	for ts, rec := range j.records {
		if winner, ok := flushed[entityKey{rec.Kind, rec.EntityID}]; ok && ts <= winner {
			delete(j.records, ts)
		}
	}
}

// Flush submits the collapsed journal to backend, one transaction per
// entity kind (step 3), removing exactly the timestamps that participated
// in a successful kind (step 4) and leaving the rest in place for the next
// flush to retry (step 5). It returns the first error encountered, having
// still attempted every other kind.
//
// Flush never holds the journal lock while calling into backend: it
// snapshots, releases, awaits the backend, then re-acquires briefly to
// remove what succeeded, per the copy-then-await rule in §9.
func (j *Journal) Flush(ctx context.Context, backend persistence.Backend) error {
	byKind := j.snapshot()
	if len(byKind) == 0 {
		return nil
	}

	var firstErr error
	for kind, entries := range byKind {
		if err := flushKind(ctx, backend, kind, entries); err != nil {
			log.Error("journal: flush failed for entity kind", log.Fields{"kind": kind.String(), "error": err})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		j.removeIfUnchanged(entries)
	}

	return firstErr
}

func flushKind(ctx context.Context, backend persistence.Backend, kind EntityKind, entries []collapsedEntry) error {
	switch kind {
	case EntityTorrent:
		var upserts []persistence.TorrentRecord
		var deletes []string
		for _, e := range entries {
			if e.rec.Action == Delete {
				deletes = append(deletes, e.rec.EntityID)
				continue
			}
			upserts = append(upserts, e.rec.Payload.(persistence.TorrentRecord))
		}
		return backend.SaveTorrents(ctx, upserts, deletes)

	case EntityWhitelist:
		var adds, removes []string
		for _, e := range entries {
			if e.rec.Action == Delete {
				removes = append(removes, e.rec.EntityID)
			} else {
				adds = append(adds, e.rec.EntityID)
			}
		}
		return backend.SaveWhitelist(ctx, adds, removes)

	case EntityBlacklist:
		var adds, removes []string
		for _, e := range entries {
			if e.rec.Action == Delete {
				removes = append(removes, e.rec.EntityID)
			} else {
				adds = append(adds, e.rec.EntityID)
			}
		}
		return backend.SaveBlacklist(ctx, adds, removes)

	case EntityKey:
		var upserts []persistence.KeyRecord
		var removes []string
		for _, e := range entries {
			if e.rec.Action == Delete {
				removes = append(removes, e.rec.EntityID)
				continue
			}
			upserts = append(upserts, e.rec.Payload.(persistence.KeyRecord))
		}
		return backend.SaveKeys(ctx, upserts, removes)

	case EntityUser:
		var upserts []persistence.UserRecord
		var deletes []string
		for _, e := range entries {
			if e.rec.Action == Delete {
				deletes = append(deletes, e.rec.EntityID)
				continue
			}
			upserts = append(upserts, e.rec.Payload.(persistence.UserRecord))
		}
		return backend.SaveUsers(ctx, upserts, deletes)

	default:
		return nil
	}
}
