package webtorrent

import "encoding/json"

// inboundMessage is the union of every shape a client can send over the
// socket; only the fields relevant to Action are populated by any given
// client message.
type inboundMessage struct {
	Action     string          `json:"action"`
	InfoHash   string          `json:"info_hash,omitempty"`
	PeerID     string          `json:"peer_id,omitempty"`
	Uploaded   uint64          `json:"uploaded,omitempty"`
	Downloaded uint64          `json:"downloaded,omitempty"`
	Left       uint64          `json:"left,omitempty"`
	Event      string          `json:"event,omitempty"`
	NumWant    uint32          `json:"numwant,omitempty"`
	Offers     []offerMessage  `json:"offers,omitempty"`
	ToPeerID   string          `json:"to_peer_id,omitempty"`
	OfferID    string          `json:"offer_id,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
}

// offerMessage is one entry of an announce's "offers" array: an opaque SDP
// offer tagged with a client-chosen ID used to match it to its eventual
// answer.
type offerMessage struct {
	OfferID string          `json:"offer_id"`
	Offer   json.RawMessage `json:"offer"`
}

type outboundAnnounce struct {
	Action     string `json:"action"`
	InfoHash   string `json:"info_hash"`
	Interval   int32  `json:"interval"`
	Complete   int32  `json:"complete"`
	Incomplete int32  `json:"incomplete"`
}

type scrapeFile struct {
	Complete   uint32 `json:"complete"`
	Incomplete uint32 `json:"incomplete"`
	Downloaded uint32 `json:"downloaded"`
}

type outboundScrape struct {
	Action string                `json:"action"`
	Files  map[string]scrapeFile `json:"files"`
}

// outboundOffer relays an offer to the candidate peer that was paired with
// it; PeerID identifies the offering peer so the recipient knows who to
// answer.
type outboundOffer struct {
	Action  string          `json:"action"`
	OfferID string          `json:"offer_id"`
	Offer   json.RawMessage `json:"offer"`
	PeerID  string          `json:"peer_id"`
}

// outboundAnswer relays an answer back to the peer that made the original
// offer; PeerID identifies the answering peer.
type outboundAnswer struct {
	Action  string          `json:"action"`
	OfferID string          `json:"offer_id"`
	Answer  json.RawMessage `json:"answer"`
	PeerID  string          `json:"peer_id"`
}

type outboundError struct {
	Action        string `json:"action"`
	FailureReason string `json:"failure reason"`
}
