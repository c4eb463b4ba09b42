package store

import (
	"os"
	"sync"

	"github.com/yidakra/livevtt-sub000/log"
)

type tsEntry struct {
	path   string
	refs   int
	doomed bool
}

// ArtifactStore maps a segment's stable URI to its transport-stream file on
// disk and its WebVTT sidecar blobs. The store owns the on-disk file handed
// over by PutTS; DropTS unlinks it, deferring the unlink while any HTTP
// reader is still mid-stream on that file.
type ArtifactStore struct {
	mu  sync.Mutex
	ts  map[string]*tsEntry
	vtt map[string][]byte
}

func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		ts:  make(map[string]*tsEntry),
		vtt: make(map[string][]byte),
	}
}

func (s *ArtifactStore) HasTS(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ts[uri]
	return ok
}

// PutTS registers a transport-stream file under the given stable URI and
// takes ownership of the file. Replacing an existing entry dooms the old file.
func (s *ArtifactStore) PutTS(uri, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.ts[uri]; ok && old.path != path {
		s.doomLocked(old)
	}
	s.ts[uri] = &tsEntry{path: path}
}

// AcquireTS resolves a stable URI to its on-disk path and pins the file so a
// concurrent DropTS cannot unlink it mid-read. The returned release function
// must be called once the caller is done with the file.
func (s *ArtifactStore) AcquireTS(uri string) (string, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.ts[uri]
	if !ok {
		return "", nil, false
	}
	entry.refs++
	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entry.refs--
		if entry.doomed && entry.refs == 0 {
			s.unlink(entry.path)
		}
	}
	return entry.path, release, true
}

// DropTS removes a segment's transport-stream artifact. The file is unlinked
// immediately unless a reader still holds it, in which case the last release
// performs the unlink.
func (s *ArtifactStore) DropTS(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.ts[uri]
	if !ok {
		return
	}
	delete(s.ts, uri)
	s.doomLocked(entry)
}

func (s *ArtifactStore) doomLocked(entry *tsEntry) {
	entry.doomed = true
	if entry.refs == 0 {
		s.unlink(entry.path)
	}
}

func (s *ArtifactStore) unlink(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.LogNoSegment("error unlinking segment artifact", "path", path, "err", err)
	}
}

func (s *ArtifactStore) TSKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.ts))
	for k := range s.ts {
		keys = append(keys, k)
	}
	return keys
}

func (s *ArtifactStore) PutVTT(sidecarURI string, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vtt[sidecarURI] = blob
}

func (s *ArtifactStore) GetVTT(sidecarURI string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.vtt[sidecarURI]
	return blob, ok
}

func (s *ArtifactStore) DropVTT(sidecarURI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vtt, sidecarURI)
}

// Close drops every remaining artifact. Called on shutdown so no transport
// stream files outlive the process.
func (s *ArtifactStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uri, entry := range s.ts {
		delete(s.ts, uri)
		s.unlink(entry.path)
	}
	for uri := range s.vtt {
		delete(s.vtt, uri)
	}
}
