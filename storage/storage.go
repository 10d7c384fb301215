// Copyright 2013 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package storage implements a high-level abstraction over the in-memory
// swarm state engine (C2/C3), the access-control sets (C4) and the optional
// user-accounting component (C5) that sit at the core of the tracker.
package storage

import (
	"time"

	"github.com/kestrel-tracker/kestrel/bittorrent"
)

// ErrResourceDoesNotExist is returned by storage methods when the requested
// swarm, peer, key or user is not present.
var ErrResourceDoesNotExist = bittorrent.ErrResourceDoesNotExist

// TorrentPeer is a single participant in one swarm, as specified in the
// Data Model (§3).
type TorrentPeer struct {
	ID         bittorrent.PeerID
	IP         bittorrent.IP
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      bittorrent.Event
	Updated    time.Time

	IsWebTorrent bool
	Offer        *bittorrent.WebRTCOffer
}

// Peer renders the TorrentPeer as the wire-independent bittorrent.Peer used
// in responses.
func (p TorrentPeer) Peer() bittorrent.Peer {
	return bittorrent.Peer{ID: p.ID, IP: p.IP, Port: p.Port}
}

// TorrentEntry holds all state for one infohash, per §3.
type TorrentEntry struct {
	Seeds     map[bittorrent.PeerID]TorrentPeer
	Leechers  map[bittorrent.PeerID]TorrentPeer
	Completed uint32
	Updated   time.Time
}

// NewTorrentEntry allocates an empty TorrentEntry.
func NewTorrentEntry() TorrentEntry {
	return TorrentEntry{
		Seeds:    make(map[bittorrent.PeerID]TorrentPeer),
		Leechers: make(map[bittorrent.PeerID]TorrentPeer),
	}
}

// Scrape summarizes a swarm's state.
type Scrape = bittorrent.Scrape

// AnnounceResult is returned by PeerStore.Announce: the caller uses it to
// decide whether to delete an emptied, non-persistent torrent and to build
// the wire response.
type AnnounceResult struct {
	Entry   TorrentEntry
	Removed bool
}

// PeerStore is the sharded swarm store (C2) combined with the peer
// lifecycle engine (C3). A single implementation is expected to back every
// front-end (HTTP, UDP, WebTorrent).
type PeerStore interface {
	// Announce applies the §4.2 state-transition table for peerID within
	// the swarm identified by ih and returns the resulting TorrentEntry
	// snapshot captured after the mutation.
	//
	// keepIfEmpty controls whether an emptied torrent is retained (true
	// when persistence is enabled) or removed (false).
	Announce(ih bittorrent.InfoHash, p TorrentPeer, event bittorrent.Event, keepIfEmpty bool) (AnnounceResult, error)

	// AnnouncePeers returns up to numWant peers of address family af from
	// the swarm identified by ih, preferring the opposite class from the
	// requester (seeds for a leecher, leechers for a seeder), using the
	// deterministic selection order from §9.
	AnnouncePeers(ih bittorrent.InfoHash, seeder bool, numWant int, af bittorrent.AddressFamily, requester bittorrent.PeerID) ([]bittorrent.Peer, error)

	// ScrapeSwarm returns the summary state of the swarm identified by ih.
	ScrapeSwarm(ih bittorrent.InfoHash) Scrape

	// Get returns a consistent snapshot of the TorrentEntry for ih, if any.
	Get(ih bittorrent.InfoHash) (TorrentEntry, bool)

	// Put inserts or replaces the TorrentEntry for ih atomically with
	// respect to concurrent readers.
	Put(ih bittorrent.InfoHash, entry TorrentEntry)

	// Delete removes the TorrentEntry for ih, returning the previous value
	// if one existed.
	Delete(ih bittorrent.InfoHash) (TorrentEntry, bool)

	// ForEachShard invokes fn once per shard with a copy of that shard's
	// infohashes, taken under the shard's read lock; the lock is released
	// before fn runs, so sweeps never hold the whole store at once.
	ForEachShard(fn func(infoHashes []bittorrent.InfoHash))

	// Count returns the number of torrents currently held. It is computed
	// by iterating shards and may not represent a single global snapshot.
	Count() int

	// PeerCounts returns the total number of seeders and leechers held
	// across every shard. It is computed by iterating shards and may
	// observe intermediate values between shards.
	PeerCounts() (seeders, leechers uint64)

	// CollectGarbage evicts every peer whose last announce predates
	// cutoff, iterating shards one at a time so announces may interleave.
	// It returns the number of peers evicted.
	CollectGarbage(cutoff time.Time) int

	// Stop shuts the store down, releasing any background goroutines.
	Stop() <-chan error
}

// AccessList is a set of InfoHashes used for whitelist/blacklist policy
// (C4). Implementations guarantee O(1) amortized membership tests.
type AccessList interface {
	Add(ih bittorrent.InfoHash)
	Remove(ih bittorrent.InfoHash)
	Contains(ih bittorrent.InfoHash) bool
	Clear()
	Len() int
	Each(fn func(bittorrent.InfoHash))
}

// KeyStore holds time-limited authorization tokens (C4). A Key is an
// InfoHash-shaped token paired with a Unix expiry timestamp; expiry 0 means
// "never".
type KeyStore interface {
	Add(key bittorrent.InfoHash, expiresAt int64)
	Remove(key bittorrent.InfoHash)
	// Check returns true iff key is present and not expired as of now.
	Check(key bittorrent.InfoHash, now time.Time) bool
	// Sweep removes every key whose expiry is non-zero and before now,
	// returning the number removed.
	Sweep(now time.Time) int
	Len() int
}

// UserEntry is the per-user accounting record (C5).
type UserEntry struct {
	ID            bittorrent.UserID
	ExternalID    string
	SecretKey     [20]byte
	Uploaded      int64
	Downloaded    int64
	Completed     uint32
	Active        bool
	Updated       time.Time
	ActiveTorrent map[bittorrent.InfoHash]int64 // infohash -> last-active unix seconds
}

// UserStore holds per-user accounting records (C5). A looked-up InfoHash
// that is present in a user's ActiveTorrent map but absent from the swarm
// store is a benign stale reference, never an error (§9).
type UserStore interface {
	Get(id bittorrent.UserID) (UserEntry, bool)
	Put(entry UserEntry)
	Delete(id bittorrent.UserID)
	Each(fn func(UserEntry))
}
