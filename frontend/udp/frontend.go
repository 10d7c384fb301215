// Package udp implements a BitTorrent tracker via the UDP protocol as
// described in BEP 15.
package udp

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/frontend"
	"github.com/kestrel-tracker/kestrel/frontend/udp/bytepool"
	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// Config represents all of the configurable options for a UDP BitTorrent
// Tracker.
type Config struct {
	Addr                string `yaml:"addr"`
	EnableRequestTiming bool   `yaml:"enable_request_timing"`
	ParseOptions        `yaml:",inline"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":                cfg.Addr,
		"enableRequestTiming": cfg.EnableRequestTiming,
		"allowIPSpoofing":     cfg.AllowIPSpoofing,
	}
}

// Validate sanity checks values set in a config and returns a new config with
// default values replacing anything that is invalid.
//
// This function warns to the logger when a value is changed.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.Addr == "" {
		log.Fatal("udp.Addr must be set", log.Fields{})
	}

	return validcfg
}

// Frontend holds the state of a UDP BitTorrent Frontend.
type Frontend struct {
	socket  *net.UDPConn
	closing chan struct{}
	wg      sync.WaitGroup

	genPool *sync.Pool

	logic     frontend.TrackerLogic
	sanitizer *bittorrent.RequestSanitizer
	Config
}

// NewFrontend creates a new instance of an UDP Frontend that asynchronously
// serves requests. sanitizer is shared with every other frontend so that
// NumWant and scrape-batch limits are enforced consistently regardless of
// which wire protocol a client used.
func NewFrontend(logic frontend.TrackerLogic, sanitizer *bittorrent.RequestSanitizer, provided Config) (*Frontend, error) {
	cfg := provided.Validate()

	f := &Frontend{
		closing:   make(chan struct{}),
		logic:     logic,
		sanitizer: sanitizer,
		Config:    cfg,
		genPool: &sync.Pool{
			New: func() interface{} {
				return NewConnectionIDGenerator()
			},
		},
	}

	if err := f.listen(); err != nil {
		return nil, err
	}

	go func() {
		if err := f.serve(); err != nil {
			log.Fatal("failed while serving udp", log.Err(err))
		}
	}()

	return f, nil
}

// Stop provides a thread-safe way to shut down a currently running Frontend.
func (f *Frontend) Stop() <-chan error {
	c := make(chan error)
	go func() {
		close(f.closing)
		_ = f.socket.SetReadDeadline(time.Now())
		f.wg.Wait()
		if err := f.socket.Close(); err != nil {
			c <- err
			return
		}
		close(c)
	}()
	return c
}

// listen resolves the address and binds the server socket.
func (f *Frontend) listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", f.Addr)
	if err != nil {
		return err
	}
	f.socket, err = net.ListenUDP("udp", udpAddr)
	return err
}

// serve blocks while listening and serving UDP BitTorrent requests
// until Stop() is called or an error is returned.
func (f *Frontend) serve() error {
	pool := bytepool.New(2048)

	f.wg.Add(1)
	defer f.wg.Done()

	for {
		// Check to see if we need to shutdown.
		select {
		case <-f.closing:
			log.Debug("udp serve() received shutdown signal", log.Fields{})
			return nil
		default:
		}

		// Read a UDP packet into a reusable buffer.
		buffer := pool.Get()
		n, addr, err := f.socket.ReadFromUDP(*buffer)
		if err != nil {
			pool.Put(buffer)
			select {
			case <-f.closing:
				// The deadline we set in Stop fired; this isn't a real error.
				return nil
			default:
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return err
		}

		// We got nothin'.
		if n == 0 {
			pool.Put(buffer)
			continue
		}

		if ip := addr.IP.To4(); ip != nil {
			addr.IP = ip
		}

		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			defer pool.Put(buffer)

			var start time.Time
			if f.EnableRequestTiming {
				start = time.Now()
			}
			action, af, err := f.handleRequest(
				// Make sure the IP is copied, not referenced; buffer is reused.
				Request{(*buffer)[:n], append(net.IP{}, addr.IP...), uint16(addr.Port)},
				ResponseWriter{f.socket, addr},
			)
			if f.EnableRequestTiming {
				recordResponseDuration(action, af, err, time.Since(start))
			} else {
				recordResponseDuration(action, af, err, time.Duration(0))
			}
		}()
	}
}

// Request represents a UDP payload received by a Tracker.
type Request struct {
	Packet []byte
	IP     net.IP
	Port   uint16
}

// ResponseWriter implements the ability to respond to a Request via the
// io.Writer interface.
type ResponseWriter struct {
	socket *net.UDPConn
	addr   *net.UDPAddr
}

// Write implements the io.Writer interface for a ResponseWriter.
func (w ResponseWriter) Write(b []byte) (int, error) {
	_, _ = w.socket.WriteToUDP(b, w.addr)
	return len(b), nil
}

// handleRequest parses and responds to a UDP Request.
func (f *Frontend) handleRequest(r Request, w ResponseWriter) (actionName string, af *bittorrent.AddressFamily, err error) {
	if len(r.Packet) < 16 {
		// Malformed, no client packets are less than 16 bytes.
		// We explicitly return nothing in case this is a DoS attempt.
		err = errMalformedPacket
		return
	}

	// Parse the headers of the UDP packet.
	connID := r.Packet[0:8]
	actionID := binary.BigEndian.Uint32(r.Packet[8:12])
	txID := r.Packet[12:16]

	// Get a connection ID generator/validator from the pool.
	gen := f.genPool.Get().(*ConnectionIDGenerator)
	defer f.genPool.Put(gen)

	// If this isn't requesting a new connection ID and the connection ID is
	// invalid, then fail.
	if actionID != connectActionID && !gen.Validate(connID, r.Port, time.Now()) {
		err = errBadConnectionID
		WriteError(w, txID, err)
		return
	}

	switch actionID {
	case connectActionID:
		actionName = "connect"

		if !bytes.Equal(connID, initialConnectionID) {
			err = errMalformedPacket
			return
		}

		af = new(bittorrent.AddressFamily)
		if r.IP.To4() != nil {
			*af = bittorrent.IPv4
		} else if len(r.IP) == net.IPv6len { // implies r.IP.To4() == nil
			*af = bittorrent.IPv6
		} else {
			// Should never happen - we got the IP straight from the UDP packet.
			panic(fmt.Sprintf("udp: invalid IP: neither v4 nor v6, IP: %#v", r.IP))
		}

		WriteConnectionID(w, txID, gen.Generate(r.Port, time.Now()))

	case announceActionID, announceV6ActionID:
		actionName = "announce"

		var req *bittorrent.AnnounceRequest
		req, err = ParseAnnounce(r, actionID == announceV6ActionID, f.ParseOptions)
		if err != nil {
			WriteError(w, txID, err)
			return
		}
		if err = f.sanitizer.SanitizeAnnounce(req); err != nil {
			WriteError(w, txID, err)
			return
		}
		af = &req.Peer.IP.AddressFamily

		var resp *bittorrent.AnnounceResponse
		resp, err = f.logic.HandleAnnounce(context.Background(), req)
		if err != nil {
			WriteError(w, txID, err)
			return
		}

		WriteAnnounce(w, txID, resp, actionID == announceV6ActionID)

		go f.logic.AfterAnnounce(context.Background(), req, resp)

	case scrapeActionID:
		actionName = "scrape"

		var req *bittorrent.ScrapeRequest
		req, err = ParseScrape(r)
		if err != nil {
			WriteError(w, txID, err)
			return
		}
		if err = f.sanitizer.SanitizeScrape(req); err != nil {
			WriteError(w, txID, err)
			return
		}

		var resp *bittorrent.ScrapeResponse
		resp, err = f.logic.HandleScrape(context.Background(), req)
		if err != nil {
			WriteError(w, txID, err)
			return
		}

		WriteScrape(w, txID, req, resp)

		go f.logic.AfterScrape(context.Background(), req, resp)

	default:
		err = errUnknownAction
		WriteError(w, txID, err)
	}

	return
}
