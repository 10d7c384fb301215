// Copyright 2016 Jimmy Zelinskie
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bittorrent defines the wire-independent identifiers and request
// and response types shared by every front-end of the tracker.
package bittorrent

import (
	"bytes"
	"encoding/hex"
	"net"
)

// idLen is the fixed byte length of every identifier type the tracker deals
// with: infohashes, peer IDs and user IDs are all 20-byte SHA-1-shaped
// values.
const idLen = 20

// InfoHash identifies a torrent. It is opaque to the tracker: whatever the
// client sends is the InfoHash, with no validation against the contents of
// any torrent metadata.
type InfoHash [idLen]byte

// InfoHashFromBytes creates an InfoHash from a byte slice.
//
// It panics if b is not 20 bytes long.
func InfoHashFromBytes(b []byte) InfoHash {
	if len(b) != idLen {
		panic("bittorrent: infohash must be 20 bytes")
	}
	var buf InfoHash
	copy(buf[:], b)
	return buf
}

// InfoHashFromString creates an InfoHash from a string.
//
// It panics if s is not 20 bytes long.
func InfoHashFromString(s string) InfoHash {
	return InfoHashFromBytes([]byte(s))
}

// String renders the InfoHash as lowercase 40-character hex.
func (i InfoHash) String() string { return hex.EncodeToString(i[:]) }

// Less reports whether i sorts before x under the InfoHash total order
// (lexicographic byte comparison).
func (i InfoHash) Less(x InfoHash) bool { return bytes.Compare(i[:], x[:]) < 0 }

// PeerID identifies a single client session within a swarm.
type PeerID [idLen]byte

// PeerIDFromBytes creates a PeerID from a byte slice.
//
// It panics if b is not 20 bytes long.
func PeerIDFromBytes(b []byte) PeerID {
	if len(b) != idLen {
		panic("bittorrent: peer ID must be 20 bytes")
	}
	var buf PeerID
	copy(buf[:], b)
	return buf
}

// PeerIDFromString creates a PeerID from a string.
//
// It panics if s is not 20 bytes long.
func PeerIDFromString(s string) PeerID {
	return PeerIDFromBytes([]byte(s))
}

// String renders the PeerID as lowercase 40-character hex.
func (p PeerID) String() string { return hex.EncodeToString(p[:]) }

// Less reports whether p sorts before x under the PeerID total order.
func (p PeerID) Less(x PeerID) bool { return bytes.Compare(p[:], x[:]) < 0 }

// UserID identifies an account tracked by the optional user-accounting
// component (C5). It is typically the SHA-1 of an externally assigned UUID
// or integer ID, but the tracker never interprets its contents.
type UserID [idLen]byte

// UserIDFromBytes creates a UserID from a byte slice.
//
// It panics if b is not 20 bytes long.
func UserIDFromBytes(b []byte) UserID {
	if len(b) != idLen {
		panic("bittorrent: user ID must be 20 bytes")
	}
	var buf UserID
	copy(buf[:], b)
	return buf
}

// String renders the UserID as lowercase 40-character hex.
func (u UserID) String() string { return hex.EncodeToString(u[:]) }

// AddressFamily represents an IP address family.
type AddressFamily uint8

const (
	// IPv4 is the address family for IPv4 addresses.
	IPv4 AddressFamily = iota
	// IPv6 is the address family for IPv6 addresses.
	IPv6
)

func (af AddressFamily) String() string {
	if af == IPv6 {
		return "IPv6"
	}
	return "IPv4"
}

// IP wraps a net.IP with its resolved AddressFamily so that front-ends don't
// need to repeatedly re-derive it.
type IP struct {
	net.IP
	AddressFamily AddressFamily
}

// AssignFamily normalizes ip.IP into its 4-byte form when possible and sets
// AddressFamily accordingly. It returns an error if ip.IP is neither a valid
// IPv4 nor IPv6 address.
func (ip *IP) AssignFamily() error {
	if v4 := ip.IP.To4(); v4 != nil {
		ip.IP = v4
		ip.AddressFamily = IPv4
		return nil
	}
	if len(ip.IP) == net.IPv6len {
		ip.AddressFamily = IPv6
		return nil
	}
	return ErrInvalidIP
}

// WebRTCOffer carries the opaque SDP payload relayed between WebTorrent
// peers. The tracker never parses or validates the SDP beyond a length
// limit; it is a pass-through carried on the offering peer's TorrentPeer
// until an answer is relayed back.
type WebRTCOffer struct {
	OfferID string
	SDP     string
}

// Peer represents a single participant in a swarm as reported in an
// announce request, or as returned to a requester in an announce response.
type Peer struct {
	ID   PeerID
	IP   IP
	Port uint16
}

// Equal reports whether p and x represent the same peer (same ID and
// endpoint).
func (p Peer) Equal(x Peer) bool { return p.EqualEndpoint(x) && p.ID == x.ID }

// EqualEndpoint reports whether p and x share the same network endpoint.
func (p Peer) EqualEndpoint(x Peer) bool { return p.Port == x.Port && p.IP.Equal(x.IP.IP) }

// ClientError represents an error that should be translated into a
// protocol-appropriate failure response rather than logged as a tracker
// fault. See ErrorKind for the taxonomy used to decide how to translate it.
type ClientError string

// Error implements the error interface for ClientError.
func (c ClientError) Error() string { return string(c) }

// ErrInvalidIP indicates an invalid IP for an Announce.
var ErrInvalidIP = ClientError("invalid IP")

// ErrResourceDoesNotExist is returned by storage methods when the requested
// swarm, peer, key, or user is not present.
var ErrResourceDoesNotExist = ClientError("resource does not exist")

// Params is used to fetch (optional) request parameters from an Announce or
// Scrape, independent of the wire protocol that produced them.
type Params interface {
	String(key string) (string, bool)
}

// AnnounceRequest represents the normalized parameters from an announce
// request, independent of the wire protocol (HTTP, UDP or WebTorrent) that
// produced it.
type AnnounceRequest struct {
	Event      Event
	InfoHash   InfoHash
	Compact    bool
	NumWant    uint32
	NumWantSet bool
	Left       uint64
	Downloaded uint64
	Uploaded   uint64
	Key        string

	// Offer and OffersOnly are populated for WebTorrent announces that
	// carry an `offer` field; OffersOnly suppresses returning already
	// known peers in favor of waiting on offer/answer relay.
	Offer      *WebRTCOffer
	OffersOnly bool

	Peer
	Params
}

// AnnounceResponse represents the parameters used to build an announce
// response.
type AnnounceResponse struct {
	Compact     bool
	Complete    int32
	Incomplete  int32
	Interval    int32
	MinInterval int32
	IPv4Peers   []Peer
	IPv6Peers   []Peer

	// Offers carries WebRTC offers to relay to a WebTorrent client that
	// just joined, one per selected peer.
	Offers []OfferRelay
}

// OfferRelay pairs a WebRTC offer with the peer that should receive it.
type OfferRelay struct {
	Offer WebRTCOffer
	To    Peer
}

// ScrapeRequest represents the parsed parameters from a scrape request.
type ScrapeRequest struct {
	InfoHashes []InfoHash
	Params     Params
}

// ScrapeResponse represents the parameters used to build a scrape response.
type ScrapeResponse struct {
	Files map[InfoHash]Scrape
}

// Scrape represents the summary state of a swarm returned in a scrape
// response.
type Scrape struct {
	Complete   uint32
	Incomplete uint32
	Downloaded uint32
}

// AnnounceHandler generates a response for an Announce.
type AnnounceHandler func(*AnnounceRequest) (*AnnounceResponse, error)

// ScrapeHandler generates a response for a Scrape.
type ScrapeHandler func(*ScrapeRequest) (*ScrapeResponse, error)
