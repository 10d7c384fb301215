package memory

import (
	"sync"
	"time"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/storage"
)

// keyStore holds time-limited authorization keys for C4. A zero expiry
// means the key never expires.
type keyStore struct {
	mu   sync.RWMutex
	keys map[bittorrent.InfoHash]int64
}

var _ storage.KeyStore = (*keyStore)(nil)

// NewKeyStore allocates an empty KeyStore.
func NewKeyStore() storage.KeyStore {
	return &keyStore{keys: make(map[bittorrent.InfoHash]int64)}
}

func (k *keyStore) Add(key bittorrent.InfoHash, expiresAt int64) {
	k.mu.Lock()
	k.keys[key] = expiresAt
	k.mu.Unlock()
}

func (k *keyStore) Remove(key bittorrent.InfoHash) {
	k.mu.Lock()
	delete(k.keys, key)
	k.mu.Unlock()
}

func (k *keyStore) Check(key bittorrent.InfoHash, now time.Time) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	expiresAt, ok := k.keys[key]
	if !ok {
		return false
	}
	if expiresAt == 0 {
		return true
	}
	return now.Unix() < expiresAt
}

func (k *keyStore) Sweep(now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	var removed int
	nowUnix := now.Unix()
	for key, expiresAt := range k.keys {
		if expiresAt != 0 && expiresAt < nowUnix {
			delete(k.keys, key)
			removed++
		}
	}
	return removed
}

func (k *keyStore) Len() int {
	k.mu.RLock()
	n := len(k.keys)
	k.mu.RUnlock()
	return n
}
