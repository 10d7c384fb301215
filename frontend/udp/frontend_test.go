package udp_test

import (
	"testing"
	"time"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/frontend/udp"
	"github.com/kestrel-tracker/kestrel/middleware"
	"github.com/kestrel-tracker/kestrel/storage/memory"
)

func TestStartStopRace(t *testing.T) {
	ps := memory.New(memory.Config{})
	logic := middleware.NewLogic(middleware.Config{AnnounceInterval: 30 * time.Minute}, ps, middleware.Options{})
	sanitizer := &bittorrent.RequestSanitizer{MaxScrapeInfoHashes: 50}

	fe, err := udp.NewFrontend(logic, sanitizer, udp.Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}

	if err := <-fe.Stop(); err != nil {
		t.Fatal(err)
	}
}
