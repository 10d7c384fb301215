package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/middleware"
	"github.com/kestrel-tracker/kestrel/storage/memory"
)

func TestFrontendAnnounceAndScrapeRoundTrip(t *testing.T) {
	ps := memory.New(memory.Config{})
	logic := middleware.NewLogic(middleware.Config{AnnounceInterval: 30 * time.Minute}, ps, middleware.Options{})
	sanitizer := &bittorrent.RequestSanitizer{MaxScrapeInfoHashes: 50}

	f := NewFrontend(logic, sanitizer, Config{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { <-f.Stop() })
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	infoHash := "aaaaaaaaaaaaaaaaaaaa"
	peerID := "bbbbbbbbbbbbbbbbbbbb"

	resp, err := http.Get(srv.URL + "/announce?info_hash=" + infoHash + "&peer_id=" + peerID +
		"&port=6881&uploaded=0&downloaded=0&left=0&compact=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "interval")

	// AfterAnnounce runs asynchronously; give it a moment to land.
	time.Sleep(10 * time.Millisecond)

	scrapeResp, err := http.Get(srv.URL + "/scrape?info_hash=" + infoHash)
	require.NoError(t, err)
	defer scrapeResp.Body.Close()
	scrapeBody, err := io.ReadAll(scrapeResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(scrapeBody), "files")
}

func TestFrontendAnnounceMissingInfoHashWritesFailureReason(t *testing.T) {
	ps := memory.New(memory.Config{})
	logic := middleware.NewLogic(middleware.Config{}, ps, middleware.Options{})
	sanitizer := &bittorrent.RequestSanitizer{MaxScrapeInfoHashes: 50}

	f := NewFrontend(logic, sanitizer, Config{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { <-f.Stop() })
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/announce?peer_id=bbbbbbbbbbbbbbbbbbbb&port=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "failure reason")
}
