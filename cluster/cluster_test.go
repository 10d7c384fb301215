package cluster

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/middleware"
	"github.com/kestrel-tracker/kestrel/storage/memory"
)

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newTestMasterSlave(t *testing.T, encoding string) (*Master, *Slave) {
	logic := middleware.NewLogic(middleware.Config{AnnounceInterval: time.Minute}, memory.New(memory.Config{}), middleware.Options{})

	addr := freeAddr(t)
	master, err := NewMaster(logic, Config{
		Addr:           addr,
		HandshakeToken: "s3cr3t",
		Encoding:       encoding,
	})
	require.NoError(t, err)
	t.Cleanup(func() { <-master.Stop() })

	slave, err := NewSlave(SlaveConfig{
		MasterAddr:        addr,
		HandshakeToken:    "s3cr3t",
		Encoding:          encoding,
		RequestTimeout:    2 * time.Second,
		ReconnectInterval: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { <-slave.Stop() })

	require.Eventually(t, func() bool {
		slave.mu.Lock()
		defer slave.mu.Unlock()
		return slave.conn != nil
	}, 2*time.Second, 10*time.Millisecond)

	return master, slave
}

func testAnnounceRequest() *bittorrent.AnnounceRequest {
	var ih bittorrent.InfoHash
	copy(ih[:], "aaaaaaaaaaaaaaaaaaaa")
	var pid bittorrent.PeerID
	copy(pid[:], "-KT0001-000000000001")

	return &bittorrent.AnnounceRequest{
		Event:    bittorrent.Started,
		InfoHash: ih,
		Left:     100,
		Peer: bittorrent.Peer{
			ID:   pid,
			IP:   bittorrent.IP{IP: net.ParseIP("10.0.0.1").To4()},
			Port: 6881,
		},
	}
}

func TestAnnounceOverCluster(t *testing.T) {
	for _, encoding := range []string{"msgpack", "json", "gob"} {
		t.Run(encoding, func(t *testing.T) {
			_, slave := newTestMasterSlave(t, encoding)

			req := testAnnounceRequest()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			resp, err := slave.HandleAnnounce(ctx, req)
			require.NoError(t, err)
			require.NotNil(t, resp)
			require.EqualValues(t, 60, resp.Interval)

			slave.AfterAnnounce(ctx, req, resp)
		})
	}
}

func TestScrapeOverCluster(t *testing.T) {
	_, slave := newTestMasterSlave(t, "msgpack")

	announceReq := testAnnounceRequest()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := slave.HandleAnnounce(ctx, announceReq)
	require.NoError(t, err)

	scrapeReq := &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{announceReq.InfoHash}}
	resp, err := slave.HandleScrape(ctx, scrapeReq)
	require.NoError(t, err)
	require.Contains(t, resp.Files, announceReq.InfoHash)
	require.EqualValues(t, 1, resp.Files[announceReq.InfoHash].Incomplete)
}

func TestSlaveRejectsBadHandshake(t *testing.T) {
	logic := middleware.NewLogic(middleware.Config{AnnounceInterval: time.Minute}, memory.New(memory.Config{}), middleware.Options{})
	addr := freeAddr(t)
	master, err := NewMaster(logic, Config{Addr: addr, HandshakeToken: "right-token"})
	require.NoError(t, err)
	t.Cleanup(func() { <-master.Stop() })

	slave, err := NewSlave(SlaveConfig{
		MasterAddr:        addr,
		HandshakeToken:    "wrong-token",
		RequestTimeout:    500 * time.Millisecond,
		ReconnectInterval: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { <-slave.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = slave.HandleAnnounce(ctx, testAnnounceRequest())
	require.Error(t, err)
}
