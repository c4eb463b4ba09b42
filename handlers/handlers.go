package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/yidakra/livevtt-sub000/errors"
	"github.com/yidakra/livevtt-sub000/log"
	"github.com/yidakra/livevtt-sub000/pipeline"
	"github.com/yidakra/livevtt-sub000/store"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
	webvttContentType   = "text/vtt; charset=utf-8"
)

// LiveVTTHandlersCollection serves the rewritten playlists and per-segment
// artifacts out of the stores the pipeline coordinator populates
type LiveVTTHandlersCollection struct {
	Manifests *store.ManifestStore
	Artifacts *store.ArtifactStore
}

// Playlist serves the manifest blob published under the given slot
func (c *LiveVTTHandlersCollection) Playlist(slot string) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		blob, ok := c.Manifests.Get(slot)
		if !ok {
			errors.WriteHTTPNotFound(w, "Playlist not available yet", nil)
			return
		}
		serveBlob(w, req, playlistContentType, blob)
	}
}

// SubtitlePlaylist resolves /subs_<lang>.m3u8 aliases: "en" maps to the
// translated track, anything else to the original. Either falls back to
// the single-track playlist when only one track is produced.
func (c *LiveVTTHandlersCollection) SubtitlePlaylist(w http.ResponseWriter, req *http.Request, lang string) {
	slot := store.SlotSubsOrig
	if lang == "en" {
		slot = store.SlotSubsTrans
	}
	blob, ok := c.Manifests.Get(slot)
	if !ok {
		blob, ok = c.Manifests.Get(store.SlotSubs)
	}
	if !ok {
		errors.WriteHTTPNotFound(w, "Subtitle playlist not available yet", nil)
		return
	}
	serveBlob(w, req, playlistContentType, blob)
}

// ServeArtifact is the router's fallback: it resolves transport-stream
// segments, WebVTT sidecars and subtitle playlist aliases by their stable
// URIs. Everything else is a 404.
func (c *LiveVTTHandlersCollection) ServeArtifact() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		uri := req.URL.Path
		if lang, ok := subtitleAlias(uri); ok {
			c.SubtitlePlaylist(w, req, lang)
			return
		}
		if strings.HasSuffix(uri, ".ts") {
			c.serveSegment(w, req, uri)
			return
		}
		if strings.HasSuffix(uri, ".vtt") {
			blob, ok := c.Artifacts.GetVTT(uri)
			if !ok {
				errors.WriteHTTPNotFound(w, "No subtitles for this segment", nil)
				return
			}
			serveBlob(w, req, webvttContentType, blob)
			return
		}
		errors.WriteHTTPNotFound(w, "Not found", nil)
	})
}

// serveSegment streams a segment artifact off disk. The store pins the file
// for the duration of the response so eviction can never unlink it
// mid-stream.
func (c *LiveVTTHandlersCollection) serveSegment(w http.ResponseWriter, req *http.Request, uri string) {
	path, release, ok := c.Artifacts.AcquireTS(uri)
	if !ok {
		errors.WriteHTTPNotFound(w, "Segment not available", nil)
		return
	}
	defer release()

	file, err := os.Open(path)
	if err != nil {
		errors.WriteHTTPInternalServerError(w, "Failed to open segment", err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		errors.WriteHTTPInternalServerError(w, "Failed to stat segment", err)
		return
	}

	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	if req.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, file); err != nil {
		log.LogError(uri, "error streaming segment to client", err)
	}
}

// subtitleAlias matches /subs_<lang>.m3u8 paths
func subtitleAlias(uri string) (string, bool) {
	if !strings.HasPrefix(uri, "/subs_") || !strings.HasSuffix(uri, ".m3u8") {
		return "", false
	}
	lang := strings.TrimSuffix(strings.TrimPrefix(uri, "/subs_"), ".m3u8")
	if lang == "" {
		return "", false
	}
	return lang, true
}

func serveBlob(w http.ResponseWriter, req *http.Request, contentType string, blob []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(blob)))
	if req.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(blob); err != nil {
		log.LogNoSegment("error writing HTTP response", "uri", req.URL.Path, "err", err)
	}
}

// PlaylistSlots maps the fixed playlist paths to their manifest slots
func PlaylistSlots() map[string]string {
	return map[string]string{
		pipeline.MasterPlaylistPath:    store.SlotMaster,
		pipeline.MediaPlaylistPath:     store.SlotMedia,
		pipeline.SubsPlaylistPath:      store.SlotSubs,
		pipeline.SubsOrigPlaylistPath:  store.SlotSubsOrig,
		pipeline.SubsTransPlaylistPath: store.SlotSubsTrans,
	}
}
