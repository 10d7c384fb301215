package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-tracker/kestrel/persistence"
)

type fakeBackend struct {
	persistence.Backend
	torrentUpserts []persistence.TorrentRecord
	torrentDeletes []string
	failTorrents   bool

	whitelistAdds []string
}

func (f *fakeBackend) SaveTorrents(ctx context.Context, upserts []persistence.TorrentRecord, deletes []string) error {
	if f.failTorrents {
		return errors.New("boom")
	}
	f.torrentUpserts = upserts
	f.torrentDeletes = deletes
	return nil
}

func (f *fakeBackend) SaveWhitelist(ctx context.Context, adds, removes []string) error {
	f.whitelistAdds = adds
	return nil
}

func (f *fakeBackend) SaveBlacklist(ctx context.Context, adds, removes []string) error { return nil }
func (f *fakeBackend) SaveKeys(ctx context.Context, upserts []persistence.KeyRecord, removes []string) error {
	return nil
}
func (f *fakeBackend) SaveUsers(ctx context.Context, upserts []persistence.UserRecord, deletes []string) error {
	return nil
}

func TestFlushCollapsesByEntity(t *testing.T) {
	j := New()
	j.Record(EntityTorrent, "aa", persistence.TorrentRecord{InfoHash: "aa", Completed: 1}, Upsert)
	j.Record(EntityTorrent, "aa", persistence.TorrentRecord{InfoHash: "aa", Completed: 2}, Upsert)
	j.Record(EntityTorrent, "bb", persistence.TorrentRecord{InfoHash: "bb", Completed: 5}, Upsert)

	backend := &fakeBackend{}
	err := j.Flush(context.Background(), backend)
	require.NoError(t, err)

	require.Len(t, backend.torrentUpserts, 2)
	assert.Equal(t, 0, j.Len())
}

func TestFlushRetainsRecordsOnFailure(t *testing.T) {
	j := New()
	j.Record(EntityTorrent, "aa", persistence.TorrentRecord{InfoHash: "aa", Completed: 1}, Upsert)
	j.Record(EntityWhitelist, "aa", nil, Upsert)

	backend := &fakeBackend{failTorrents: true}
	err := j.Flush(context.Background(), backend)
	assert.Error(t, err)

	assert.Equal(t, 1, j.Len()) // whitelist flushed and removed, torrent retried
	assert.Equal(t, []string{"aa"}, backend.whitelistAdds)
}

func TestFlushEmptyJournalIsNoop(t *testing.T) {
	j := New()
	err := j.Flush(context.Background(), &fakeBackend{})
	assert.NoError(t, err)
}

func TestRecordMonotonicTimestamps(t *testing.T) {
	j := New()
	ts1 := j.Record(EntityTorrent, "aa", nil, Upsert)
	ts2 := j.Record(EntityTorrent, "bb", nil, Upsert)
	assert.Greater(t, ts2, ts1)
}
