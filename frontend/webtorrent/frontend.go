// Package webtorrent implements a BitTorrent frontend for browser clients,
// relaying WebRTC offers and answers over a JSON/WebSocket transport as used
// by the WebTorrent protocol.
package webtorrent

import (
	"context"
	"encoding/hex"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/frontend"
	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// Config represents all of the configurable options for a WebTorrent
// frontend.
type Config struct {
	Addr            string        `yaml:"addr"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxOfferRelay   int           `yaml:"max_offer_relay"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":            cfg.Addr,
		"readBufferSize":  cfg.ReadBufferSize,
		"writeBufferSize": cfg.WriteBufferSize,
		"writeTimeout":    cfg.WriteTimeout,
		"maxOfferRelay":   cfg.MaxOfferRelay,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything invalid, warning to the logger
// when a value is changed.
func (cfg Config) Validate() Config {
	valid := cfg

	if cfg.Addr == "" {
		log.Fatal("webtorrent.Addr must be set", log.Fields{})
	}

	if cfg.ReadBufferSize <= 0 {
		valid.ReadBufferSize = 4096
		log.Warn("falling back to default configuration", log.Fields{
			"name": "webtorrent.ReadBufferSize", "provided": cfg.ReadBufferSize, "default": valid.ReadBufferSize,
		})
	}

	if cfg.WriteBufferSize <= 0 {
		valid.WriteBufferSize = 4096
		log.Warn("falling back to default configuration", log.Fields{
			"name": "webtorrent.WriteBufferSize", "provided": cfg.WriteBufferSize, "default": valid.WriteBufferSize,
		})
	}

	if cfg.WriteTimeout <= 0 {
		valid.WriteTimeout = 5 * time.Second
		log.Warn("falling back to default configuration", log.Fields{
			"name": "webtorrent.WriteTimeout", "provided": cfg.WriteTimeout, "default": valid.WriteTimeout,
		})
	}

	if cfg.MaxOfferRelay <= 0 {
		valid.MaxOfferRelay = 10
		log.Warn("falling back to default configuration", log.Fields{
			"name": "webtorrent.MaxOfferRelay", "provided": cfg.MaxOfferRelay, "default": valid.MaxOfferRelay,
		})
	}

	return valid
}

// Frontend holds the state of a WebTorrent frontend.
//
// Unlike the HTTP and UDP frontends, a WebTorrent client keeps a single
// long-lived socket open and reuses one peer ID across every swarm it
// announces to over that socket; peers is keyed on that peer ID so an offer
// or answer addressed to it can be delivered without a round trip through
// storage.
type Frontend struct {
	srv      *http.Server
	upgrader websocket.Upgrader

	logic     frontend.TrackerLogic
	sanitizer *bittorrent.RequestSanitizer

	mu    sync.Mutex
	peers map[bittorrent.PeerID]*peerConn

	Config
}

// peerConn serializes writes to a single client's WebSocket connection;
// gorilla/websocket forbids concurrent writers on the same Conn, and both
// the owning read loop and a relay from another peer's goroutine may write
// to it.
type peerConn struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	registeredID bittorrent.PeerID
	registered   bool
}

func (p *peerConn) writeJSON(v interface{}, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	return p.conn.WriteJSON(v)
}

// NewFrontend allocates a new instance of a Frontend that asynchronously
// serves requests. sanitizer is shared with every other frontend so that
// NumWant and scrape-batch limits are enforced consistently regardless of
// which wire protocol a client used.
func NewFrontend(logic frontend.TrackerLogic, sanitizer *bittorrent.RequestSanitizer, provided Config) *Frontend {
	cfg := provided.Validate()

	f := &Frontend{
		logic:     logic,
		sanitizer: sanitizer,
		peers:     make(map[bittorrent.PeerID]*peerConn),
		Config:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Browser clients connect from arbitrary origins; access
			// control for WebTorrent happens at the announce/scrape level
			// via the shared key/whitelist hooks, not at the handshake.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	f.srv = &http.Server{Addr: cfg.Addr, Handler: f.handler()}

	go func() {
		if err := f.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed while serving webtorrent", log.Err(err))
		}
	}()

	return f
}

// Stop provides a thread-safe way to shut down a currently running Frontend.
func (f *Frontend) Stop() <-chan error {
	c := make(chan error)
	go func() {
		if err := f.srv.Shutdown(context.Background()); err != nil {
			c <- err
			return
		}
		close(c)
	}()
	return c
}

func (f *Frontend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", f.serveWS)
	return mux
}

func (f *Frontend) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("webtorrent: upgrade failed", log.Fields{"error": err})
		return
	}

	pc := &peerConn{conn: conn}

	defer func() {
		pc.mu.Lock()
		id, known := pc.registeredID, pc.registered
		pc.mu.Unlock()
		if known {
			f.mu.Lock()
			if f.peers[id] == pc {
				delete(f.peers, id)
			}
			f.mu.Unlock()
		}
		_ = conn.Close()
	}()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Action {
		case "announce":
			start := time.Now()
			_, af, err := f.handleAnnounce(r.Context(), pc, msg)
			recordResponseDuration("announce", af, err, time.Since(start))
		case "scrape":
			start := time.Now()
			err := f.handleScrape(r.Context(), pc, msg)
			recordResponseDuration("scrape", nil, err, time.Since(start))
		case "answer":
			f.relayAnswer(msg)
		default:
			_ = pc.writeJSON(outboundError{Action: "error", FailureReason: "unknown action"}, f.WriteTimeout)
		}
	}
}

func decodeID20(s string) ([]byte, bool) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 20 {
		return nil, false
	}
	return b, true
}

func remoteIP(conn *websocket.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

type emptyParams struct{}

func (emptyParams) String(string) (string, bool) { return "", false }

func (f *Frontend) handleAnnounce(ctx context.Context, pc *peerConn, msg inboundMessage) (bittorrent.PeerID, *bittorrent.AddressFamily, error) {
	ihBytes, ok := decodeID20(msg.InfoHash)
	if !ok {
		err := bittorrent.ClientError("malformed info_hash")
		_ = pc.writeJSON(outboundError{Action: "announce", FailureReason: err.Error()}, f.WriteTimeout)
		return bittorrent.PeerID{}, nil, err
	}
	peerIDBytes, ok := decodeID20(msg.PeerID)
	if !ok {
		err := bittorrent.ClientError("malformed peer_id")
		_ = pc.writeJSON(outboundError{Action: "announce", FailureReason: err.Error()}, f.WriteTimeout)
		return bittorrent.PeerID{}, nil, err
	}
	peerID := bittorrent.PeerIDFromBytes(peerIDBytes)

	// Register this socket under the peer's ID before doing anything else
	// so that an offer triggered by a concurrent announce on another
	// socket can find it as soon as this announce is acknowledged.
	f.registerOnce(peerID, pc)

	event, _ := bittorrent.NewEvent(msg.Event)

	ip := remoteIP(pc.conn)
	if ip == nil {
		err := bittorrent.ClientError("could not determine remote IP")
		_ = pc.writeJSON(outboundError{Action: "announce", FailureReason: err.Error()}, f.WriteTimeout)
		return bittorrent.PeerID{}, nil, err
	}

	req := &bittorrent.AnnounceRequest{
		Event:      event,
		InfoHash:   bittorrent.InfoHashFromBytes(ihBytes),
		NumWant:    msg.NumWant,
		NumWantSet: msg.NumWant > 0,
		Left:       msg.Left,
		Downloaded: msg.Downloaded,
		Uploaded:   msg.Uploaded,
		OffersOnly: len(msg.Offers) > 0,
		Peer: bittorrent.Peer{
			ID: peerID,
			IP: bittorrent.IP{IP: ip},
		},
		Params: emptyParams{},
	}
	if len(msg.Offers) > 0 {
		// Only the first offer is used: it is stored against the peer's
		// swarm entry and relayed below to each paired peer. Any
		// additional offers in the same message are ignored.
		req.Offer = &bittorrent.WebRTCOffer{OfferID: msg.Offers[0].OfferID, SDP: string(msg.Offers[0].Offer)}
	}

	af := &req.Peer.IP.AddressFamily

	if err := f.sanitizer.SanitizeAnnounce(req); err != nil {
		_ = pc.writeJSON(outboundError{Action: "announce", FailureReason: err.Error()}, f.WriteTimeout)
		return bittorrent.PeerID{}, af, err
	}

	resp, err := f.logic.HandleAnnounce(ctx, req)
	if err != nil {
		_ = pc.writeJSON(outboundError{Action: "announce", FailureReason: bittorrent.AsTrackerError(err).Message}, f.WriteTimeout)
		return bittorrent.PeerID{}, af, err
	}

	_ = pc.writeJSON(outboundAnnounce{
		Action:     "announce",
		InfoHash:   msg.InfoHash,
		Interval:   resp.Interval,
		Complete:   resp.Complete,
		Incomplete: resp.Incomplete,
	}, f.WriteTimeout)

	f.relayOffers(req.Peer.ID, resp.Offers)

	go f.logic.AfterAnnounce(context.Background(), req, resp)

	return req.Peer.ID, af, nil
}

// registerOnce binds pc to peerID in the connection registry the first time
// it announces; a socket keeps one peer ID for its lifetime, so subsequent
// announces (to other swarms, or re-announces) are no-ops here.
func (f *Frontend) registerOnce(peerID bittorrent.PeerID, pc *peerConn) {
	pc.mu.Lock()
	if pc.registered {
		pc.mu.Unlock()
		return
	}
	pc.registeredID = peerID
	pc.registered = true
	pc.mu.Unlock()

	f.mu.Lock()
	f.peers[peerID] = pc
	f.mu.Unlock()
}

// relayOffers delivers each offer relay paired by responseHook to whichever
// of those peers is currently registered with a live socket, skipping ones
// that have since disconnected. No backpressure or retry is attempted: a
// dropped offer just means that pairing waits for the next announce cycle.
func (f *Frontend) relayOffers(from bittorrent.PeerID, offers []bittorrent.OfferRelay) {
	limit := f.MaxOfferRelay
	sent := 0
	for _, relay := range offers {
		if sent >= limit {
			break
		}

		f.mu.Lock()
		target, ok := f.peers[relay.To.ID]
		f.mu.Unlock()
		if !ok {
			continue
		}

		if target.writeJSON(outboundOffer{
			Action:  "offer",
			OfferID: relay.Offer.OfferID,
			Offer:   []byte(relay.Offer.SDP),
			PeerID:  from.String(),
		}, f.WriteTimeout) == nil {
			sent++
		}
	}
}

func (f *Frontend) relayAnswer(msg inboundMessage) {
	toBytes, ok := decodeID20(msg.ToPeerID)
	if !ok {
		return
	}
	to := bittorrent.PeerIDFromBytes(toBytes)

	f.mu.Lock()
	target, ok := f.peers[to]
	f.mu.Unlock()
	if !ok {
		return
	}

	_ = target.writeJSON(outboundAnswer{
		Action:  "answer",
		OfferID: msg.OfferID,
		Answer:  msg.Answer,
		PeerID:  msg.PeerID,
	}, f.WriteTimeout)
}

func (f *Frontend) handleScrape(ctx context.Context, pc *peerConn, msg inboundMessage) error {
	ihBytes, ok := decodeID20(msg.InfoHash)
	if !ok {
		err := bittorrent.ClientError("malformed info_hash")
		_ = pc.writeJSON(outboundError{Action: "scrape", FailureReason: err.Error()}, f.WriteTimeout)
		return err
	}
	ih := bittorrent.InfoHashFromBytes(ihBytes)

	req := &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{ih}, Params: emptyParams{}}
	if err := f.sanitizer.SanitizeScrape(req); err != nil {
		_ = pc.writeJSON(outboundError{Action: "scrape", FailureReason: err.Error()}, f.WriteTimeout)
		return err
	}

	resp, err := f.logic.HandleScrape(ctx, req)
	if err != nil {
		_ = pc.writeJSON(outboundError{Action: "scrape", FailureReason: bittorrent.AsTrackerError(err).Message}, f.WriteTimeout)
		return err
	}

	files := make(map[string]scrapeFile, len(resp.Files))
	for ih, scrape := range resp.Files {
		files[ih.String()] = scrapeFile{Complete: scrape.Complete, Incomplete: scrape.Incomplete, Downloaded: scrape.Downloaded}
	}
	_ = pc.writeJSON(outboundScrape{Action: "scrape", Files: files}, f.WriteTimeout)

	go f.logic.AfterScrape(context.Background(), req, resp)

	return nil
}
