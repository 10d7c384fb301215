package memory

import (
	"sync"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/storage"
)

// userStore holds per-user accounting records for C5.
type userStore struct {
	mu    sync.RWMutex
	users map[bittorrent.UserID]storage.UserEntry
}

var _ storage.UserStore = (*userStore)(nil)

// NewUserStore allocates an empty UserStore.
func NewUserStore() storage.UserStore {
	return &userStore{users: make(map[bittorrent.UserID]storage.UserEntry)}
}

func (u *userStore) Get(id bittorrent.UserID) (storage.UserEntry, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	entry, ok := u.users[id]
	return entry, ok
}

func (u *userStore) Put(entry storage.UserEntry) {
	u.mu.Lock()
	u.users[entry.ID] = entry
	u.mu.Unlock()
}

func (u *userStore) Delete(id bittorrent.UserID) {
	u.mu.Lock()
	delete(u.users, id)
	u.mu.Unlock()
}

func (u *userStore) Each(fn func(storage.UserEntry)) {
	u.mu.RLock()
	entries := make([]storage.UserEntry, 0, len(u.users))
	for _, entry := range u.users {
		entries = append(entries, entry)
	}
	u.mu.RUnlock()

	for _, entry := range entries {
		fn(entry)
	}
}
