package webtorrent

import (
	"encoding/hex"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/middleware"
	"github.com/kestrel-tracker/kestrel/storage/memory"
)

func newTestFrontend(t *testing.T) (*Frontend, string) {
	t.Helper()
	ps := memory.New(memory.Config{})
	logic := middleware.NewLogic(middleware.Config{AnnounceInterval: 30 * time.Minute}, ps, middleware.Options{})
	sanitizer := &bittorrent.RequestSanitizer{MaxScrapeInfoHashes: 50}

	f := NewFrontend(logic, sanitizer, Config{Addr: "127.0.0.1:0"})
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { <-f.Stop() })

	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestAnnounceRoundTrip(t *testing.T) {
	_, url := newTestFrontend(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(inboundMessage{
		Action:   "announce",
		InfoHash: strings.Repeat("aa", 20),
		PeerID:   strings.Repeat("bb", 20),
		Left:     1,
	}))

	var resp outboundAnnounce
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "announce", resp.Action)
}

func TestScrapeRoundTrip(t *testing.T) {
	_, url := newTestFrontend(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(inboundMessage{
		Action:   "scrape",
		InfoHash: strings.Repeat("cc", 20),
	}))

	var resp outboundScrape
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "scrape", resp.Action)
	ihBytes, err := hex.DecodeString(strings.Repeat("cc", 20))
	require.NoError(t, err)
	require.Contains(t, resp.Files, bittorrent.InfoHashFromBytes(ihBytes).String())
}

func TestAnnounceMalformedInfoHashWritesError(t *testing.T) {
	_, url := newTestFrontend(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(inboundMessage{
		Action:   "announce",
		InfoHash: "not-hex",
		PeerID:   strings.Repeat("bb", 20),
	}))

	var resp outboundError
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "malformed info_hash", resp.FailureReason)
}

func TestOfferAnswerRelay(t *testing.T) {
	_, url := newTestFrontend(t)
	infoHash := strings.Repeat("dd", 20)
	leecherID := strings.Repeat("ee", 20)
	seederID := strings.Repeat("ff", 20)

	seeder := dial(t, url)
	require.NoError(t, seeder.WriteJSON(inboundMessage{
		Action:   "announce",
		InfoHash: infoHash,
		PeerID:   seederID,
		Left:     0,
	}))
	var seederAck outboundAnnounce
	require.NoError(t, seeder.ReadJSON(&seederAck))

	leecher := dial(t, url)
	require.NoError(t, leecher.WriteJSON(inboundMessage{
		Action:   "announce",
		InfoHash: infoHash,
		PeerID:   leecherID,
		Left:     1,
		Offers: []offerMessage{
			{OfferID: "offer-1", Offer: []byte(`{"type":"offer","sdp":"v=0"}`)},
		},
	}))
	var leecherAck outboundAnnounce
	require.NoError(t, leecher.ReadJSON(&leecherAck))

	var offer outboundOffer
	require.NoError(t, seeder.ReadJSON(&offer))
	require.Equal(t, "offer", offer.Action)
	require.Equal(t, "offer-1", offer.OfferID)
	require.Equal(t, leecherID, offer.PeerID)

	require.NoError(t, seeder.WriteJSON(inboundMessage{
		Action:   "answer",
		OfferID:  "offer-1",
		ToPeerID: leecherID,
		PeerID:   seederID,
		Answer:   []byte(`{"type":"answer","sdp":"v=0"}`),
	}))

	var answer outboundAnswer
	require.NoError(t, leecher.ReadJSON(&answer))
	require.Equal(t, "answer", answer.Action)
	require.Equal(t, "offer-1", answer.OfferID)
	require.Equal(t, seederID, answer.PeerID)
}
