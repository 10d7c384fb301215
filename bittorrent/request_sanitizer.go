package bittorrent

import (
	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// MaxNumWant is the hard ceiling on the number of peers a single announce
// may request, per §4.2.
const MaxNumWant = 72

// RequestSanitizer coerces unreasonable values supplied by a client into
// the bounds the tracker is willing to honor.
type RequestSanitizer struct {
	MaxScrapeInfoHashes uint32 `yaml:"max_scrape_infohashes"`
}

// SanitizeAnnounce clamps NumWant to [1, MaxNumWant] (0 or unset becomes
// MaxNumWant) and resolves the peer's address family.
func (rs *RequestSanitizer) SanitizeAnnounce(r *AnnounceRequest) error {
	switch {
	case !r.NumWantSet || r.NumWant == 0:
		r.NumWant = MaxNumWant
	case r.NumWant > MaxNumWant:
		r.NumWant = MaxNumWant
	}

	if err := r.Peer.IP.AssignFamily(); err != nil {
		return err
	}

	log.Debug("sanitized announce", log.Fields{"numwant": r.NumWant})
	return nil
}

// SanitizeScrape enforces a maximum number of infohashes for a single
// scrape request.
func (rs *RequestSanitizer) SanitizeScrape(r *ScrapeRequest) error {
	if len(r.InfoHashes) > int(rs.MaxScrapeInfoHashes) {
		r.InfoHashes = r.InfoHashes[:rs.MaxScrapeInfoHashes]
	}
	return nil
}

// LogFields renders the request sanitizer's configuration as loggable
// fields.
func (rs *RequestSanitizer) LogFields() log.Fields {
	return log.Fields{
		"maxScrapeInfohashes": rs.MaxScrapeInfoHashes,
	}
}
