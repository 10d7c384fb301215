package middleware

import (
	"context"
	"time"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/journal"
	"github.com/kestrel-tracker/kestrel/persistence"
	"github.com/kestrel-tracker/kestrel/storage"
)

// userAccountingHook maintains per-user upload/download/completed
// counters and the weak active-torrent map, per §"User accounting" (C5).
// It is a no-op for requests that carry no resolvable user (no key, or
// a key not bound to a user).
type userAccountingHook struct {
	users storage.UserStore
}

func (h *userAccountingHook) userIDFor(req *bittorrent.AnnounceRequest) (bittorrent.UserID, bool) {
	if len(req.Key) != 20 {
		return bittorrent.UserID{}, false
	}
	return bittorrent.UserIDFromBytes([]byte(req.Key)), true
}

func (h *userAccountingHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error {
	id, ok := h.userIDFor(req)
	if !ok {
		return nil
	}

	entry, found := h.users.Get(id)
	if !found {
		return nil
	}

	entry.Uploaded += int64(req.Uploaded)
	entry.Downloaded += int64(req.Downloaded)
	if req.Event == bittorrent.Completed {
		entry.Completed++
	}
	entry.Active = req.Event != bittorrent.Stopped
	entry.Updated = time.Now()
	if entry.ActiveTorrent == nil {
		entry.ActiveTorrent = make(map[bittorrent.InfoHash]int64)
	}
	if req.Event == bittorrent.Stopped {
		delete(entry.ActiveTorrent, req.InfoHash)
	} else {
		entry.ActiveTorrent[req.InfoHash] = entry.Updated.Unix()
	}

	h.users.Put(entry)
	return nil
}

func (h *userAccountingHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) error {
	return nil
}

// journalHook records every mutating announce into the update journal for
// eventual SQL persistence, per §4.4 (C6).
type journalHook struct {
	journal *journal.Journal
	store   storage.PeerStore
}

func (h *journalHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error {
	scrape := h.store.ScrapeSwarm(req.InfoHash)
	h.journal.Record(journal.EntityTorrent, req.InfoHash.String(), persistence.TorrentRecord{
		InfoHash:  req.InfoHash.String(),
		Completed: scrape.Downloaded,
		Updated:   time.Now().Unix(),
	}, journal.Upsert)
	return nil
}

func (h *journalHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) error {
	return nil
}
