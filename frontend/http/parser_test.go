package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func announceURL(infoHash, peerID string) string {
	return "/announce?info_hash=" + infoHash + "&peer_id=" + peerID +
		"&port=6881&uploaded=0&downloaded=0&left=0&compact=1"
}

func TestParseAnnounceRequiresInfoHash(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/announce?peer_id=aaaaaaaaaaaaaaaaaaaa&port=1", nil)
	_, err := ParseAnnounce(r, "", false)
	require.Error(t, err)
}

func TestParseAnnounceHappyPath(t *testing.T) {
	infoHash := "aaaaaaaaaaaaaaaaaaaa"
	peerID := "bbbbbbbbbbbbbbbbbbbb"
	r := httptest.NewRequest(http.MethodGet, announceURL(infoHash, peerID), nil)
	r.RemoteAddr = "203.0.113.5:51413"

	req, err := ParseAnnounce(r, "", false)
	require.NoError(t, err)
	assert.Equal(t, infoHash, string(req.InfoHash[:]))
	assert.Equal(t, peerID, string(req.Peer.ID[:]))
	assert.EqualValues(t, 6881, req.Peer.Port)
	assert.True(t, req.Compact)
	assert.Equal(t, "203.0.113.5", req.Peer.IP.IP.String())
}

func TestParseAnnounceIPSpoofing(t *testing.T) {
	infoHash := "aaaaaaaaaaaaaaaaaaaa"
	peerID := "bbbbbbbbbbbbbbbbbbbb"
	r := httptest.NewRequest(http.MethodGet, announceURL(infoHash, peerID)+"&ip=198.51.100.9", nil)
	r.RemoteAddr = "203.0.113.5:51413"

	req, err := ParseAnnounce(r, "", true)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.9", req.Peer.IP.IP.String())
}

func TestParseScrapeRequiresInfoHash(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/scrape", nil)
	_, err := ParseScrape(r)
	require.Error(t, err)
}

func TestParseScrapeCollectsMultipleInfoHashes(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/scrape?info_hash=aaaaaaaaaaaaaaaaaaaa&info_hash=bbbbbbbbbbbbbbbbbbbb", nil)
	req, err := ParseScrape(r)
	require.NoError(t, err)
	assert.Len(t, req.InfoHashes, 2)
}
