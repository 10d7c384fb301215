package cluster

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/frontend"
	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// Master accepts connections from slave processes and serves every
// forwarded announce and scrape against its own TrackerLogic, the same way
// any other frontend would.
type Master struct {
	srv      *http.Server
	upgrader websocket.Upgrader
	logic    frontend.TrackerLogic
	codec    codec
	Config
}

// NewMaster allocates a new instance of a Master that asynchronously
// accepts slave connections. logic is typically backed directly by
// middleware.Logic, since the master owns the authoritative swarm state.
func NewMaster(logic frontend.TrackerLogic, provided Config) (*Master, error) {
	cfg := provided.Validate()

	c, err := newCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	m := &Master{
		logic: logic,
		codec: c,
		Config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/cluster", m.serveWS)
	m.srv = &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed while serving cluster master", log.Err(err))
		}
	}()

	return m, nil
}

// Stop provides a thread-safe way to shut down a currently running Master.
func (m *Master) Stop() <-chan error {
	c := make(chan error)
	go func() {
		if err := m.srv.Shutdown(context.Background()); err != nil {
			c <- err
			return
		}
		close(c)
	}()
	return c
}

func (m *Master) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("cluster: upgrade failed", log.Fields{"error": err})
		return
	}
	defer func() { _ = conn.Close() }()

	var hs frame
	if err := conn.ReadJSON(&hs); err != nil || hs.Kind != frameHandshake {
		return
	}
	if subtle.ConstantTimeCompare([]byte(hs.Payload), []byte(m.HandshakeToken)) != 1 {
		log.Warn("cluster: slave presented a bad handshake token", log.Fields{"remote": conn.RemoteAddr().String()})
		_ = conn.WriteJSON(frame{Kind: frameError, Payload: []byte("bad handshake token")})
		return
	}
	if err := conn.WriteJSON(frame{Kind: frameHandshakeOK}); err != nil {
		return
	}

	var writeMu sync.Mutex
	writeFrame := func(f frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(m.WriteTimeout))
		return conn.WriteJSON(f)
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		go m.handleFrame(f, writeFrame)
	}
}

func (m *Master) handleFrame(f frame, reply func(frame) error) {
	switch f.Kind {
	case frameAnnounceRequest:
		var wreq wireAnnounceRequest
		if err := m.codec.unmarshal(f.Payload, &wreq); err != nil {
			_ = reply(frame{RequestID: f.RequestID, Kind: frameError, Payload: []byte(err.Error())})
			return
		}
		req := wreq.toRequest()

		resp, err := m.logic.HandleAnnounce(context.Background(), req)
		if err != nil {
			_ = reply(frame{RequestID: f.RequestID, Kind: frameError, Payload: []byte(bittorrent.AsTrackerError(err).Message)})
			return
		}

		payload, err := m.codec.marshal(toWireAnnounceResponse(resp))
		if err != nil {
			_ = reply(frame{RequestID: f.RequestID, Kind: frameError, Payload: []byte(err.Error())})
			return
		}
		m.logic.AfterAnnounce(context.Background(), req, resp)

		_ = reply(frame{RequestID: f.RequestID, Kind: frameAnnounceResponse, Payload: payload})

	case frameScrapeRequest:
		var wreq wireScrapeRequest
		if err := m.codec.unmarshal(f.Payload, &wreq); err != nil {
			_ = reply(frame{RequestID: f.RequestID, Kind: frameError, Payload: []byte(err.Error())})
			return
		}
		req := wreq.toRequest()

		resp, err := m.logic.HandleScrape(context.Background(), req)
		if err != nil {
			_ = reply(frame{RequestID: f.RequestID, Kind: frameError, Payload: []byte(bittorrent.AsTrackerError(err).Message)})
			return
		}

		payload, err := m.codec.marshal(toWireScrapeResponse(resp))
		if err != nil {
			_ = reply(frame{RequestID: f.RequestID, Kind: frameError, Payload: []byte(err.Error())})
			return
		}
		m.logic.AfterScrape(context.Background(), req, resp)

		_ = reply(frame{RequestID: f.RequestID, Kind: frameScrapeResponse, Payload: payload})

	default:
		_ = reply(frame{RequestID: f.RequestID, Kind: frameError, Payload: []byte("unexpected frame kind")})
	}
}
