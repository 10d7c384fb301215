package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) Backend {
	t.Helper()
	b, err := OpenSQLite(":memory:", DefaultSchema())
	require.NoError(t, err)
	require.NoError(t, b.(*sqlBackend).CreateSchema(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSaveAndLoadTorrentsRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	err := b.SaveTorrents(ctx, []TorrentRecord{
		{InfoHash: "aa", Completed: 3, Updated: 100},
		{InfoHash: "bb", Completed: 7, Updated: 200},
	}, nil)
	require.NoError(t, err)

	var got []TorrentRecord
	err = b.LoadTorrents(ctx, func(batch []TorrentRecord) error {
		got = append(got, batch...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestSaveTorrentsUpsertUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.SaveTorrents(ctx, []TorrentRecord{{InfoHash: "aa", Completed: 1, Updated: 1}}, nil))
	require.NoError(t, b.SaveTorrents(ctx, []TorrentRecord{{InfoHash: "aa", Completed: 9, Updated: 2}}, nil))

	var got []TorrentRecord
	require.NoError(t, b.LoadTorrents(ctx, func(batch []TorrentRecord) error {
		got = append(got, batch...)
		return nil
	}))
	require.Len(t, got, 1)
	require.EqualValues(t, 9, got[0].Completed)
}

func TestSaveTorrentsDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.SaveTorrents(ctx, []TorrentRecord{{InfoHash: "aa", Completed: 1}}, nil))
	require.NoError(t, b.SaveTorrents(ctx, nil, []string{"aa"}))

	var got []TorrentRecord
	require.NoError(t, b.LoadTorrents(ctx, func(batch []TorrentRecord) error {
		got = append(got, batch...)
		return nil
	}))
	require.Len(t, got, 0)
}

func TestWhitelistAddAndRemove(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.SaveWhitelist(ctx, []string{"aa", "bb"}, nil))

	var got []string
	require.NoError(t, b.LoadWhitelist(ctx, func(batch []string) error {
		got = append(got, batch...)
		return nil
	}))
	require.Len(t, got, 2)

	require.NoError(t, b.SaveWhitelist(ctx, nil, []string{"aa"}))
	got = nil
	require.NoError(t, b.LoadWhitelist(ctx, func(batch []string) error {
		got = append(got, batch...)
		return nil
	}))
	require.Equal(t, []string{"bb"}, got)
}

func TestKeysExpiryRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.SaveKeys(ctx, []KeyRecord{{Key: "aa", ExpiresAt: 12345}}, nil))

	var got []KeyRecord
	require.NoError(t, b.LoadKeys(ctx, func(batch []KeyRecord) error {
		got = append(got, batch...)
		return nil
	}))
	require.Len(t, got, 1)
	require.EqualValues(t, 12345, got[0].ExpiresAt)
}

func TestUsersRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.SaveUsers(ctx, []UserRecord{
		{ID: "aa", ExternalID: "ext-1", SecretKey: "bb", Uploaded: 10, Downloaded: 20, Completed: 1},
	}, nil))

	var got []UserRecord
	require.NoError(t, b.LoadUsers(ctx, func(batch []UserRecord) error {
		got = append(got, batch...)
		return nil
	}))
	require.Len(t, got, 1)
	require.Equal(t, "ext-1", got[0].ExternalID)
}
