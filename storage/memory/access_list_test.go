package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kestrel-tracker/kestrel/bittorrent"
)

func TestAccessListAddContainsRemove(t *testing.T) {
	al := NewAccessList()
	ih := bittorrent.InfoHash{1}

	assert.False(t, al.Contains(ih))

	al.Add(ih)
	assert.True(t, al.Contains(ih))
	assert.Equal(t, 1, al.Len())

	al.Remove(ih)
	assert.False(t, al.Contains(ih))
	assert.Equal(t, 0, al.Len())
}

func TestAccessListClear(t *testing.T) {
	al := NewAccessList()
	al.Add(bittorrent.InfoHash{1})
	al.Add(bittorrent.InfoHash{2})
	require := assert.New(t)
	require.Equal(2, al.Len())

	al.Clear()
	require.Equal(0, al.Len())
}

func TestAccessListEach(t *testing.T) {
	al := NewAccessList()
	al.Add(bittorrent.InfoHash{1})
	al.Add(bittorrent.InfoHash{2})

	var seen []bittorrent.InfoHash
	al.Each(func(ih bittorrent.InfoHash) { seen = append(seen, ih) })
	assert.Len(t, seen, 2)
}

func TestKeyStoreNeverExpires(t *testing.T) {
	ks := NewKeyStore()
	key := bittorrent.InfoHash{1}

	ks.Add(key, 0)
	assert.True(t, ks.Check(key, time.Now().Add(100*time.Hour)))
}

func TestKeyStoreExpiry(t *testing.T) {
	ks := NewKeyStore()
	key := bittorrent.InfoHash{1}
	now := time.Now()

	ks.Add(key, now.Add(time.Minute).Unix())
	assert.True(t, ks.Check(key, now))
	assert.False(t, ks.Check(key, now.Add(time.Hour)))
}

func TestKeyStoreSweepRemovesExpired(t *testing.T) {
	ks := NewKeyStore()
	now := time.Now()

	ks.Add(bittorrent.InfoHash{1}, now.Add(-time.Minute).Unix())
	ks.Add(bittorrent.InfoHash{2}, 0)

	removed := ks.Sweep(now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, ks.Len())
}

func TestKeyStoreCheckUnknownKey(t *testing.T) {
	ks := NewKeyStore()
	assert.False(t, ks.Check(bittorrent.InfoHash{99}, time.Now()))
}
