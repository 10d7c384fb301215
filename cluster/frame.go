package cluster

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kestrel-tracker/kestrel/bittorrent"
)

// frameKind tags what a frame's Payload carries.
type frameKind uint8

const (
	frameHandshake frameKind = iota
	frameHandshakeOK
	frameAnnounceRequest
	frameAnnounceResponse
	frameScrapeRequest
	frameScrapeResponse
	frameError
)

// frame is the unit exchanged over the cluster WebSocket link. RequestID
// correlates a slave's request with the master's eventual reply; it is
// unused (zero) for the one-shot handshake frames.
type frame struct {
	RequestID uint64
	Kind      frameKind
	Payload   []byte
}

// codec encodes and decodes frame payloads using the encoding named in the
// local config. The handshake does not exchange or check the encoding, so
// frames between a master and a slave configured with different encodings
// fail to decode.
type codec struct {
	name string
}

// newCodec validates name against the encodings this package supports,
// defaulting to msgpack.
func newCodec(name string) (codec, error) {
	switch name {
	case "", "msgpack", "json", "gob":
	default:
		return codec{}, fmt.Errorf("cluster: unknown encoding %q", name)
	}
	if name == "" {
		name = "msgpack"
	}
	return codec{name: name}, nil
}

func (c codec) marshal(v interface{}) ([]byte, error) {
	switch c.name {
	case "json":
		return json.Marshal(v)
	case "gob":
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return msgpack.Marshal(v)
	}
}

func (c codec) unmarshal(b []byte, v interface{}) error {
	switch c.name {
	case "json":
		return json.Unmarshal(b, v)
	case "gob":
		return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
	default:
		return msgpack.Unmarshal(b, v)
	}
}

// wireAnnounceRequest and wireAnnounceResponse are gob/json/msgpack-safe
// mirrors of the bittorrent types, which carry a Params interface value
// that none of those codecs can round-trip on its own.
type wireAnnounceRequest struct {
	Event      bittorrent.Event
	InfoHash   bittorrent.InfoHash
	NumWant    uint32
	NumWantSet bool
	Left       uint64
	Downloaded uint64
	Uploaded   uint64
	Key        string
	OffersOnly bool
	Offer      *bittorrent.WebRTCOffer
	PeerID     bittorrent.PeerID
	PeerIP     []byte
	PeerPort   uint16
}

func toWireAnnounce(r *bittorrent.AnnounceRequest) wireAnnounceRequest {
	return wireAnnounceRequest{
		Event: r.Event, InfoHash: r.InfoHash, NumWant: r.NumWant, NumWantSet: r.NumWantSet,
		Left: r.Left, Downloaded: r.Downloaded, Uploaded: r.Uploaded, Key: r.Key,
		OffersOnly: r.OffersOnly, Offer: r.Offer,
		PeerID: r.Peer.ID, PeerIP: []byte(r.Peer.IP.IP), PeerPort: r.Peer.Port,
	}
}

// emptyParams is used to satisfy bittorrent.Params on a request rebuilt
// from the wire; individual Params lookups never cross the cluster link.
// The parsers that read query parameters have already run on whichever
// frontend first received the request, and the fields the master's hooks
// use (such as Key, read by keyHook) travel in the wire request itself.
type emptyParams struct{}

func (emptyParams) String(string) (string, bool) { return "", false }

func (w wireAnnounceRequest) toRequest() *bittorrent.AnnounceRequest {
	req := &bittorrent.AnnounceRequest{
		Event: w.Event, InfoHash: w.InfoHash, NumWant: w.NumWant, NumWantSet: w.NumWantSet,
		Left: w.Left, Downloaded: w.Downloaded, Uploaded: w.Uploaded, Key: w.Key,
		OffersOnly: w.OffersOnly, Offer: w.Offer,
		Peer:   bittorrent.Peer{ID: w.PeerID, IP: bittorrent.IP{IP: append([]byte(nil), w.PeerIP...)}, Port: w.PeerPort},
		Params: emptyParams{},
	}
	_ = req.Peer.IP.AssignFamily()
	return req
}

type wireAnnounceResponse struct {
	Complete    int32
	Incomplete  int32
	Interval    int32
	MinInterval int32
	IPv4Peers   []bittorrent.Peer
	IPv6Peers   []bittorrent.Peer
}

func toWireAnnounceResponse(r *bittorrent.AnnounceResponse) wireAnnounceResponse {
	return wireAnnounceResponse{
		Complete: r.Complete, Incomplete: r.Incomplete, Interval: r.Interval, MinInterval: r.MinInterval,
		IPv4Peers: r.IPv4Peers, IPv6Peers: r.IPv6Peers,
	}
}

func (w wireAnnounceResponse) toResponse() *bittorrent.AnnounceResponse {
	return &bittorrent.AnnounceResponse{
		Complete: w.Complete, Incomplete: w.Incomplete, Interval: w.Interval, MinInterval: w.MinInterval,
		IPv4Peers: w.IPv4Peers, IPv6Peers: w.IPv6Peers,
	}
}

type wireScrapeRequest struct {
	InfoHashes []bittorrent.InfoHash
}

func (w wireScrapeRequest) toRequest() *bittorrent.ScrapeRequest {
	return &bittorrent.ScrapeRequest{InfoHashes: w.InfoHashes, Params: emptyParams{}}
}

type wireScrapeResponse struct {
	Files map[bittorrent.InfoHash]bittorrent.Scrape
}

func toWireScrapeResponse(r *bittorrent.ScrapeResponse) wireScrapeResponse {
	return wireScrapeResponse{Files: r.Files}
}

func (w wireScrapeResponse) toResponse() *bittorrent.ScrapeResponse {
	return &bittorrent.ScrapeResponse{Files: w.Files}
}
