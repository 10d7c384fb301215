package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/storage/memory"
)

func testIP() bittorrent.IP {
	ip := bittorrent.IP{IP: []byte{127, 0, 0, 1}}
	_ = ip.AssignFamily()
	return ip
}

func TestLogicAnnounceRoundTrip(t *testing.T) {
	ps := memory.New(memory.Config{})
	logic := NewLogic(Config{AnnounceInterval: 30 * time.Minute}, ps, Options{})

	req := &bittorrent.AnnounceRequest{
		InfoHash: bittorrent.InfoHash{1},
		NumWant:  50,
		Left:     0,
		Peer:     bittorrent.Peer{ID: bittorrent.PeerID{1}, IP: testIP(), Port: 6881},
	}

	resp, err := logic.HandleAnnounce(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), resp.Complete) // lone seeder sees itself

	logic.AfterAnnounce(context.Background(), req, resp)

	entry, ok := ps.Get(req.InfoHash)
	require.True(t, ok)
	assert.Len(t, entry.Seeds, 1)
}

func TestLogicWhitelistRejectsUnapproved(t *testing.T) {
	wl := memory.NewAccessList()
	wl.Add(bittorrent.InfoHash{9})

	ps := memory.New(memory.Config{})
	logic := NewLogic(Config{}, ps, Options{Whitelist: wl})

	req := &bittorrent.AnnounceRequest{
		InfoHash: bittorrent.InfoHash{1},
		Peer:     bittorrent.Peer{ID: bittorrent.PeerID{1}, IP: testIP(), Port: 6881},
	}

	_, err := logic.HandleAnnounce(context.Background(), req)
	assert.Equal(t, ErrNotWhitelisted, err)
}

func TestLogicBlacklistRejectsBlocked(t *testing.T) {
	bl := memory.NewAccessList()
	bl.Add(bittorrent.InfoHash{1})

	ps := memory.New(memory.Config{})
	logic := NewLogic(Config{}, ps, Options{Blacklist: bl})

	req := &bittorrent.AnnounceRequest{
		InfoHash: bittorrent.InfoHash{1},
		Peer:     bittorrent.Peer{ID: bittorrent.PeerID{1}, IP: testIP(), Port: 6881},
	}

	_, err := logic.HandleAnnounce(context.Background(), req)
	assert.Equal(t, ErrBlacklisted, err)
}

func TestLogicScrapeReportsSwarmState(t *testing.T) {
	ps := memory.New(memory.Config{})
	logic := NewLogic(Config{AnnounceInterval: 30 * time.Minute}, ps, Options{})

	req := &bittorrent.AnnounceRequest{
		InfoHash: bittorrent.InfoHash{1},
		Left:     0,
		Peer:     bittorrent.Peer{ID: bittorrent.PeerID{1}, IP: testIP(), Port: 6881},
	}
	resp, err := logic.HandleAnnounce(context.Background(), req)
	require.NoError(t, err)
	logic.AfterAnnounce(context.Background(), req, resp)

	scrapeReq := &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{req.InfoHash}}
	scrapeResp, err := logic.HandleScrape(context.Background(), scrapeReq)
	require.NoError(t, err)
	assert.EqualValues(t, 1, scrapeResp.Files[req.InfoHash].Complete)
}
