package middleware

import (
	"context"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/stats"
	"github.com/kestrel-tracker/kestrel/storage"
)

// Hook abstracts the concept of anything that needs to interact with a
// BitTorrent client's request and response to a BitTorrent tracker.
type Hook interface {
	HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error
	HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) error
}

// responseHook populates resp from the swarm's current state, using
// req.Peer only to decide which class of peer to exclude and prefer; it
// never mutates the swarm. It is always the last pre-hook, so policy
// hooks run first and can short-circuit before any storage is touched.
type responseHook struct {
	store storage.PeerStore
}

func (h *responseHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error {
	scrape := h.store.ScrapeSwarm(req.InfoHash)
	resp.Complete = int32(scrape.Complete)
	resp.Incomplete = int32(scrape.Incomplete)

	seeding := req.Left == 0
	peers, err := h.store.AnnouncePeers(req.InfoHash, seeding, int(req.NumWant), req.Peer.IP.AddressFamily, req.Peer.ID)
	if err != nil && err != storage.ErrResourceDoesNotExist {
		return err
	}

	// A client that is the only participant in a swarm still expects to
	// see itself represented in the response counts.
	if len(peers) == 0 {
		if seeding {
			resp.Complete++
		} else {
			resp.Incomplete++
		}
	}

	// OffersOnly clients (WebTorrent) can't dial a raw IP:port from the peer
	// list; they rely entirely on the offer/answer relay below.
	if !req.OffersOnly {
		switch req.Peer.IP.AddressFamily {
		case bittorrent.IPv6:
			resp.IPv6Peers = peers
		default:
			resp.IPv4Peers = peers
		}
	}

	// A WebTorrent client that supplied an offer wants it relayed to some
	// subset of the peers it was just told about rather than (or alongside)
	// the peer list itself; pairing happens here so the front-end doing the
	// relay doesn't need its own view of swarm membership.
	if req.Offer != nil {
		resp.Offers = make([]bittorrent.OfferRelay, 0, len(peers))
		for _, p := range peers {
			if p.ID == req.Peer.ID {
				continue
			}
			resp.Offers = append(resp.Offers, bittorrent.OfferRelay{Offer: *req.Offer, To: p})
		}
	}

	return nil
}

func (h *responseHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) error {
	for _, ih := range req.InfoHashes {
		resp.Files[ih] = h.store.ScrapeSwarm(ih)
	}
	return nil
}

// swarmInteractionHook applies the §4.2 state-transition table. It is
// always the first post-hook: everything after it observes already
// mutated state.
type swarmInteractionHook struct {
	store       storage.PeerStore
	keepIfEmpty bool
}

func (h *swarmInteractionHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error {
	peer := storage.TorrentPeer{
		ID:           req.Peer.ID,
		IP:           req.Peer.IP,
		Port:         req.Peer.Port,
		Uploaded:     int64(req.Uploaded),
		Downloaded:   int64(req.Downloaded),
		Left:         int64(req.Left),
		Event:        req.Event,
		IsWebTorrent: req.Offer != nil || req.OffersOnly,
		Offer:        req.Offer,
	}

	_, err := h.store.Announce(req.InfoHash, peer, req.Event, h.keepIfEmpty)
	return err
}

func (h *swarmInteractionHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) error {
	// Scrapes have no effect on the swarm.
	return nil
}

// statsHook feeds the global stats.Stats counters from the post-hook
// chain, after the swarm mutation has already been applied.
type statsHook struct {
	stats *stats.Stats
}

func (h *statsHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error {
	h.stats.RecordEvent(stats.Announce)
	if req.Event == bittorrent.Completed {
		h.stats.RecordEvent(stats.Completed)
	}
	return nil
}

func (h *statsHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) error {
	h.stats.RecordEvent(stats.Scrape)
	return nil
}
