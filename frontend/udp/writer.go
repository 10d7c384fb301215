package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kestrel-tracker/kestrel/bittorrent"
)

// WriteError writes the failure reason as a null-terminated string.
func WriteError(w io.Writer, txID []byte, err error) {
	// If the client wasn't at fault, acknowledge it without leaking
	// internal detail onto the wire.
	switch e := err.(type) {
	case bittorrent.ClientError:
		// already client-facing
	case *bittorrent.TrackerError:
		err = bittorrent.ClientError(e.Message)
	default:
		err = bittorrent.ClientError(fmt.Sprintf("internal error occurred: %s", err.Error()))
	}

	var buf bytes.Buffer
	writeHeader(&buf, txID, errorActionID)
	buf.WriteString(err.Error())
	buf.WriteRune('\000')
	_, _ = w.Write(buf.Bytes())
}

// WriteAnnounce encodes an announce response according to BEP 15.
func WriteAnnounce(w io.Writer, txID []byte, resp *bittorrent.AnnounceResponse, v6 bool) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, announceActionID)
	_ = binary.Write(&buf, binary.BigEndian, uint32(resp.Interval))
	_ = binary.Write(&buf, binary.BigEndian, uint32(resp.Incomplete))
	_ = binary.Write(&buf, binary.BigEndian, uint32(resp.Complete))

	peers := resp.IPv4Peers
	if v6 {
		peers = resp.IPv6Peers
	}

	for _, peer := range peers {
		if v6 {
			buf.Write(peer.IP.To16())
		} else {
			buf.Write(peer.IP.To4())
		}
		_ = binary.Write(&buf, binary.BigEndian, peer.Port)
	}

	_, _ = w.Write(buf.Bytes())
}

// WriteScrape encodes a scrape response according to BEP 15. Files are
// written in the order their info hashes appeared in req, since the wire
// format carries no key to disambiguate them on the client side.
func WriteScrape(w io.Writer, txID []byte, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, scrapeActionID)

	for _, ih := range req.InfoHashes {
		scrape := resp.Files[ih]
		_ = binary.Write(&buf, binary.BigEndian, scrape.Complete)
		_ = binary.Write(&buf, binary.BigEndian, scrape.Downloaded)
		_ = binary.Write(&buf, binary.BigEndian, scrape.Incomplete)
	}

	_, _ = w.Write(buf.Bytes())
}

// WriteConnectionID encodes a new connection response according to BEP 15.
func WriteConnectionID(w io.Writer, txID, connID []byte) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, connectActionID)
	buf.Write(connID)

	_, _ = w.Write(buf.Bytes())
}

// writeHeader writes the action and transaction ID to the provided response
// buffer.
func writeHeader(w io.Writer, txID []byte, action uint32) {
	_ = binary.Write(w, binary.BigEndian, action)
	_, _ = w.Write(txID)
}
