package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/storage"
)

func mustIP(s string) bittorrent.IP {
	ip := bittorrent.IP{IP: []byte(s)[:4]}
	if err := ip.AssignFamily(); err != nil {
		panic(err)
	}
	return ip
}

func peerID(b byte) bittorrent.PeerID {
	var id bittorrent.PeerID
	id[len(id)-1] = b
	return id
}

func newPeer(id bittorrent.PeerID, left int64) storage.TorrentPeer {
	return storage.TorrentPeer{
		ID:   id,
		IP:   mustIP("\x7f\x00\x00\x01"),
		Port: 6881,
		Left: left,
	}
}

func TestAnnounceLeecherToSeederTransition(t *testing.T) {
	ps := New(Config{})
	ih := bittorrent.InfoHash{1}
	id := peerID(1)

	res, err := ps.Announce(ih, newPeer(id, 100), bittorrent.Started, true)
	require.NoError(t, err)
	assert.Len(t, res.Entry.Leechers, 1)
	assert.Len(t, res.Entry.Seeds, 0)

	res, err = ps.Announce(ih, newPeer(id, 0), bittorrent.Completed, true)
	require.NoError(t, err)
	assert.Len(t, res.Entry.Leechers, 0)
	assert.Len(t, res.Entry.Seeds, 1)
	assert.EqualValues(t, 1, res.Entry.Completed)
}

func TestAnnounceCompletedIncrementsEveryTime(t *testing.T) {
	ps := New(Config{})
	ih := bittorrent.InfoHash{2}
	id := peerID(1)

	_, err := ps.Announce(ih, newPeer(id, 0), bittorrent.Completed, true)
	require.NoError(t, err)
	res, err := ps.Announce(ih, newPeer(id, 0), bittorrent.Completed, true)
	require.NoError(t, err)

	assert.EqualValues(t, 2, res.Entry.Completed)
}

func TestAnnounceCompletedWithNonzeroLeftStaysLeecher(t *testing.T) {
	ps := New(Config{})
	ih := bittorrent.InfoHash{9}
	id := peerID(1)

	res, err := ps.Announce(ih, newPeer(id, 1), bittorrent.Completed, true)
	require.NoError(t, err)
	assert.Len(t, res.Entry.Seeds, 0)
	assert.Len(t, res.Entry.Leechers, 1)
	assert.EqualValues(t, 1, res.Entry.Completed)
}

func TestAnnounceStoppedRemovesPeer(t *testing.T) {
	ps := New(Config{})
	ih := bittorrent.InfoHash{3}
	id := peerID(1)

	_, err := ps.Announce(ih, newPeer(id, 0), bittorrent.Started, true)
	require.NoError(t, err)

	res, err := ps.Announce(ih, newPeer(id, 0), bittorrent.Stopped, false)
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Len(t, res.Entry.Seeds, 0)
	assert.Len(t, res.Entry.Leechers, 0)

	_, ok := ps.Get(ih)
	assert.False(t, ok)
}

func TestAnnounceKeepIfEmptyRetainsTorrent(t *testing.T) {
	ps := New(Config{})
	ih := bittorrent.InfoHash{4}
	id := peerID(1)

	_, err := ps.Announce(ih, newPeer(id, 0), bittorrent.Started, true)
	require.NoError(t, err)
	_, err = ps.Announce(ih, newPeer(id, 0), bittorrent.Stopped, true)
	require.NoError(t, err)

	_, ok := ps.Get(ih)
	assert.True(t, ok)
}

func TestAnnouncePeersPrefersOppositeClass(t *testing.T) {
	ps := New(Config{})
	ih := bittorrent.InfoHash{5}

	seeder := peerID(1)
	_, err := ps.Announce(ih, newPeer(seeder, 0), bittorrent.Started, true)
	require.NoError(t, err)

	leecher := peerID(2)
	_, err = ps.Announce(ih, newPeer(leecher, 100), bittorrent.Started, true)
	require.NoError(t, err)

	requester := peerID(200)
	peers, err := ps.AnnouncePeers(ih, false, 10, bittorrent.IPv4, requester)
	require.NoError(t, err)
	require.Len(t, peers, 2)
}

func TestAnnouncePeersClampsToMaxNumWant(t *testing.T) {
	ps := New(Config{})
	ih := bittorrent.InfoHash{6}

	for i := 0; i < 100; i++ {
		id := peerID(byte(i))
		_, err := ps.Announce(ih, newPeer(id, 100), bittorrent.Started, true)
		require.NoError(t, err)
	}

	peers, err := ps.AnnouncePeers(ih, true, 1000, bittorrent.IPv4, peerID(250))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(peers), bittorrent.MaxNumWant)
}

func TestAnnouncePeersDeterministicOrder(t *testing.T) {
	ps := New(Config{})
	ih := bittorrent.InfoHash{7}

	for i := 1; i <= 5; i++ {
		id := peerID(byte(i))
		_, err := ps.Announce(ih, newPeer(id, 100), bittorrent.Started, true)
		require.NoError(t, err)
	}

	requester := peerID(10) // requester + 1 wraps to the lowest ID, 1
	first, err := ps.AnnouncePeers(ih, true, 5, bittorrent.IPv4, requester)
	require.NoError(t, err)
	second, err := ps.AnnouncePeers(ih, true, 5, bittorrent.IPv4, requester)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, byte(1), first[0].ID[len(first[0].ID)-1])
}

func TestScrapeSwarmUnknownReturnsZeroValue(t *testing.T) {
	ps := New(Config{})
	scrape := ps.ScrapeSwarm(bittorrent.InfoHash{9})
	assert.Zero(t, scrape)
}

func TestShardIndexIsFirstInfohashByte(t *testing.T) {
	var ih bittorrent.InfoHash
	ih[0] = 0x42
	assert.EqualValues(t, 0x42, shardIndex(ih))
}

func TestCollectGarbageEvictsStalePeers(t *testing.T) {
	ps := New(Config{})
	ih := bittorrent.InfoHash{10}
	id := peerID(1)

	_, err := ps.Announce(ih, newPeer(id, 100), bittorrent.Started, true)
	require.NoError(t, err)

	evicted := ps.CollectGarbage(time.Now().Add(time.Hour))
	assert.Equal(t, 1, evicted)

	_, ok := ps.Get(ih)
	assert.False(t, ok)
}

func TestIncrementPeerIDWraps(t *testing.T) {
	var max bittorrent.PeerID
	for i := range max {
		max[i] = 0xff
	}
	wrapped := incrementPeerID(max)
	assert.Equal(t, bittorrent.PeerID{}, wrapped)
}
