package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/storage"
	"github.com/kestrel-tracker/kestrel/storage/memory"
)

func TestRunnerSweepsTimedOutPeers(t *testing.T) {
	peerStore := memory.New(memory.Config{})

	var ih bittorrent.InfoHash
	copy(ih[:], "aaaaaaaaaaaaaaaaaaaa")
	var pid bittorrent.PeerID
	copy(pid[:], "-KT0001-000000000001")

	_, err := peerStore.Announce(ih, storage.TorrentPeer{ID: pid, Left: 1}, bittorrent.Started, false)
	require.NoError(t, err)

	seeders, leechers := peerStore.PeerCounts()
	require.EqualValues(t, 1, leechers)
	require.Zero(t, seeders)

	r := NewRunner(Config{
		PeerGCInterval:    20 * time.Millisecond,
		PeerLifetime:      time.Nanosecond,
		KeyGCInterval:     time.Hour,
		HeartbeatInterval: time.Hour,
	}, Dependencies{PeerStore: peerStore})
	defer func() { <-r.Stop() }()

	require.Eventually(t, func() bool {
		_, leechers := peerStore.PeerCounts()
		return leechers == 0
	}, 3*time.Second, 20*time.Millisecond)
}
