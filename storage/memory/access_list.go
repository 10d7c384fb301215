package memory

import (
	"sync"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/storage"
)

// accessList is a mutex-guarded set of InfoHashes backing the whitelist and
// blacklist policies of C4.
type accessList struct {
	mu  sync.RWMutex
	set map[bittorrent.InfoHash]struct{}
}

var _ storage.AccessList = (*accessList)(nil)

// NewAccessList allocates an empty AccessList.
func NewAccessList() storage.AccessList {
	return &accessList{set: make(map[bittorrent.InfoHash]struct{})}
}

func (a *accessList) Add(ih bittorrent.InfoHash) {
	a.mu.Lock()
	a.set[ih] = struct{}{}
	a.mu.Unlock()
}

func (a *accessList) Remove(ih bittorrent.InfoHash) {
	a.mu.Lock()
	delete(a.set, ih)
	a.mu.Unlock()
}

func (a *accessList) Contains(ih bittorrent.InfoHash) bool {
	a.mu.RLock()
	_, ok := a.set[ih]
	a.mu.RUnlock()
	return ok
}

func (a *accessList) Clear() {
	a.mu.Lock()
	a.set = make(map[bittorrent.InfoHash]struct{})
	a.mu.Unlock()
}

func (a *accessList) Len() int {
	a.mu.RLock()
	n := len(a.set)
	a.mu.RUnlock()
	return n
}

func (a *accessList) Each(fn func(bittorrent.InfoHash)) {
	a.mu.RLock()
	ihs := make([]bittorrent.InfoHash, 0, len(a.set))
	for ih := range a.set {
		ihs = append(ihs, ih)
	}
	a.mu.RUnlock()

	for _, ih := range ihs {
		fn(ih)
	}
}
