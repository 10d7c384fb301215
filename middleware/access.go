package middleware

import (
	"context"
	"time"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/storage"
)

// ErrNotWhitelisted is returned when an infohash is absent from an
// enabled whitelist.
var ErrNotWhitelisted = bittorrent.NewPolicyError("unknown info_hash")

// ErrBlacklisted is returned when an infohash is present on the
// blacklist.
var ErrBlacklisted = bittorrent.NewPolicyError("forbidden info_hash")

// ErrInvalidKey is returned when a required key is missing or expired.
var ErrInvalidKey = bittorrent.NewPolicyError("invalid or expired key")

// whitelistHook rejects announces and filters scrapes for infohashes
// absent from list, per §4.3.
type whitelistHook struct {
	list storage.AccessList
}

func (h *whitelistHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error {
	if !h.list.Contains(req.InfoHash) {
		return ErrNotWhitelisted
	}
	return nil
}

func (h *whitelistHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) error {
	filtered := req.InfoHashes[:0]
	for _, ih := range req.InfoHashes {
		if h.list.Contains(ih) {
			filtered = append(filtered, ih)
		}
	}
	req.InfoHashes = filtered
	return nil
}

// blacklistHook rejects announces and filters scrapes for infohashes
// present on list, per §4.3.
type blacklistHook struct {
	list storage.AccessList
}

func (h *blacklistHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error {
	if h.list.Contains(req.InfoHash) {
		return ErrBlacklisted
	}
	return nil
}

func (h *blacklistHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) error {
	filtered := req.InfoHashes[:0]
	for _, ih := range req.InfoHashes {
		if !h.list.Contains(ih) {
			filtered = append(filtered, ih)
		}
	}
	req.InfoHashes = filtered
	return nil
}

// keyHook requires req.Key to name a present, unexpired key, per §4.3.
type keyHook struct {
	keys storage.KeyStore
}

func (h *keyHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error {
	if len(req.Key) != 20 {
		return ErrInvalidKey
	}
	key := bittorrent.InfoHashFromString(req.Key)
	if !h.keys.Check(key, time.Now()) {
		return ErrInvalidKey
	}
	return nil
}

func (h *keyHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) error {
	return nil
}
