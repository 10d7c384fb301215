package cluster

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// Slave implements frontend.TrackerLogic by forwarding every Handle* call
// to a master over a reconnecting WebSocket link. AfterAnnounce and
// AfterScrape are no-ops: the master already ran its own post-hooks
// (accounting, journaling) against the authoritative storage by the time
// its response frame arrives.
type Slave struct {
	cfg   SlaveConfig
	codec codec

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan frame

	nextID  uint64
	closing chan struct{}
	closed  chan struct{}
}

// NewSlave allocates a new Slave and starts its reconnect loop in the
// background. The first connection attempt happens asynchronously; calls
// made before it completes fail with bittorrent.ClusterUnavailable.
func NewSlave(provided SlaveConfig) (*Slave, error) {
	cfg := provided.Validate()

	c, err := newCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	s := &Slave{
		cfg:     cfg,
		codec:   c,
		pending: make(map[uint64]chan frame),
		closing: make(chan struct{}),
		closed:  make(chan struct{}),
	}

	go s.connectLoop()

	return s, nil
}

// Stop provides a thread-safe way to shut down the Slave's reconnect loop
// and close its current connection, if any.
func (s *Slave) Stop() <-chan error {
	c := make(chan error)
	go func() {
		close(s.closing)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
		<-s.closed
		close(c)
	}()
	return c
}

func (s *Slave) connectLoop() {
	defer close(s.closed)
	for {
		select {
		case <-s.closing:
			return
		default:
		}

		conn, err := s.connect()
		if err != nil {
			log.Warn("cluster: could not reach master, retrying", log.Fields{"error": err, "masterAddr": s.cfg.MasterAddr})
			select {
			case <-s.closing:
				return
			case <-time.After(s.cfg.ReconnectInterval):
				continue
			}
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		s.readLoop(conn)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		s.failPending()

		select {
		case <-s.closing:
			return
		case <-time.After(s.cfg.ReconnectInterval):
		}
	}
}

func (s *Slave) connect() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.cfg.MasterAddr+"/cluster", nil)
	if err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(frame{Kind: frameHandshake, Payload: []byte(s.cfg.HandshakeToken)}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	var ack frame
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ack.Kind != frameHandshakeOK {
		_ = conn.Close()
		return nil, fmt.Errorf("cluster: handshake rejected by master")
	}

	return conn, nil
}

func (s *Slave) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}

		s.mu.Lock()
		ch, ok := s.pending[f.RequestID]
		if ok {
			delete(s.pending, f.RequestID)
		}
		s.mu.Unlock()

		if ok {
			ch <- f
		}
	}
}

func (s *Slave) failPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[uint64]chan frame)
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- frame{Kind: frameError, Payload: []byte("cluster: connection to master lost")}
	}
}

func (s *Slave) roundTrip(ctx context.Context, kind frameKind, payload []byte) (frame, error) {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return frame{}, bittorrent.NewClusterError("cluster: not connected to master")
	}

	id := atomic.AddUint64(&s.nextID, 1)
	ch := make(chan frame, 1)
	s.pending[id] = ch
	err := conn.WriteJSON(frame{RequestID: id, Kind: kind, Payload: payload})
	s.mu.Unlock()

	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return frame{}, bittorrent.NewClusterError(err.Error())
	}

	timeout := time.NewTimer(s.cfg.RequestTimeout)
	defer timeout.Stop()

	select {
	case reply := <-ch:
		if reply.Kind == frameError {
			return frame{}, bittorrent.NewClusterError(string(reply.Payload))
		}
		return reply, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return frame{}, bittorrent.NewClusterError(ctx.Err().Error())
	case <-timeout.C:
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return frame{}, bittorrent.NewClusterError("cluster: timed out waiting for master")
	}
}

// HandleAnnounce forwards req to the master and waits for its response.
func (s *Slave) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest) (*bittorrent.AnnounceResponse, error) {
	payload, err := s.codec.marshal(toWireAnnounce(req))
	if err != nil {
		return nil, err
	}

	reply, err := s.roundTrip(ctx, frameAnnounceRequest, payload)
	if err != nil {
		return nil, err
	}

	var wresp wireAnnounceResponse
	if err := s.codec.unmarshal(reply.Payload, &wresp); err != nil {
		return nil, err
	}
	return wresp.toResponse(), nil
}

// AfterAnnounce is a no-op; the master already ran its own post-hooks
// against the authoritative storage while producing the response.
func (s *Slave) AfterAnnounce(context.Context, *bittorrent.AnnounceRequest, *bittorrent.AnnounceResponse) {}

// HandleScrape forwards req to the master and waits for its response.
func (s *Slave) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest) (*bittorrent.ScrapeResponse, error) {
	payload, err := s.codec.marshal(wireScrapeRequest{InfoHashes: req.InfoHashes})
	if err != nil {
		return nil, err
	}

	reply, err := s.roundTrip(ctx, frameScrapeRequest, payload)
	if err != nil {
		return nil, err
	}

	var wresp wireScrapeResponse
	if err := s.codec.unmarshal(reply.Payload, &wresp); err != nil {
		return nil, err
	}
	return wresp.toResponse(), nil
}

// AfterScrape is a no-op for the same reason as AfterAnnounce.
func (s *Slave) AfterScrape(context.Context, *bittorrent.ScrapeRequest, *bittorrent.ScrapeResponse) {}
