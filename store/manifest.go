package store

import (
	"sync"
)

// Slot names for the published playlists
const (
	SlotMaster    = "master"
	SlotMedia     = "media"
	SlotSubs      = "subs"
	SlotSubsOrig  = "subs.orig"
	SlotSubsTrans = "subs.trans"
)

// ManifestStore holds the currently-published playlists as whole byte blobs.
// Writes replace a slot's blob in one step so an HTTP reader always observes
// either the previous complete playlist or the next one, never a torn write.
type ManifestStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

func NewManifestStore() *ManifestStore {
	return &ManifestStore{
		slots: make(map[string][]byte),
	}
}

func (s *ManifestStore) Put(slot string, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = blob
}

func (s *ManifestStore) Get(slot string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.slots[slot]
	return blob, ok
}
