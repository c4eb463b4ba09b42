package pipeline

import (
	"fmt"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/yidakra/livevtt-sub000/clients"
	"github.com/yidakra/livevtt-sub000/store"
	"github.com/yidakra/livevtt-sub000/video"
)

// Served playlist paths
const (
	MasterPlaylistPath    = "/playlist.m3u8"
	MediaPlaylistPath     = "/chunklist.m3u8"
	SubsPlaylistPath      = "/subs.m3u8"
	SubsOrigPlaylistPath  = "/subs.orig.m3u8"
	SubsTransPlaylistPath = "/subs.trans.m3u8"
)

const subtitleGroupID = "Subtitle"

// RewriteMediaPlaylist rebuilds an upstream media playlist with every
// segment URI replaced by its stable serving path (relative, so players
// resolve it against the playlist URL)
func RewriteMediaPlaylist(upstream *m3u8.MediaPlaylist) ([]byte, error) {
	rewritten, err := rewriteSegmentURIs(upstream, func(stableURI string) string {
		return strings.TrimPrefix(stableURI, "/")
	})
	if err != nil {
		return nil, err
	}
	return rewritten.Encode().Bytes(), nil
}

// BuildSubtitlePlaylist derives a subtitle media playlist from the upstream
// playlist: same timing and sequence numbering, entries pointing at the
// sidecar URIs for the given suffix. Sidecars for failed segments are listed
// anyway; players tolerate the resulting 404 and skip the cue range.
func BuildSubtitlePlaylist(upstream *m3u8.MediaPlaylist, suffix string) ([]byte, error) {
	rewritten, err := rewriteSegmentURIs(upstream, func(stableURI string) string {
		return strings.TrimPrefix(store.SidecarURI(stableURI, suffix), "/")
	})
	if err != nil {
		return nil, err
	}
	return rewritten.Encode().Bytes(), nil
}

func rewriteSegmentURIs(upstream *m3u8.MediaPlaylist, rewrite func(stableURI string) string) (*m3u8.MediaPlaylist, error) {
	segments := clients.LiveSegments(upstream)
	size := uint(len(segments))
	if size == 0 {
		size = 1
	}
	rewritten, err := m3u8.NewMediaPlaylist(size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to create rewritten playlist: %w", err)
	}
	for _, segment := range segments {
		uri := rewrite(store.StableURI(segment.URI))
		if err := rewritten.Append(uri, segment.Duration, segment.Title); err != nil {
			return nil, fmt.Errorf("failed to append to rewritten playlist: %w", err)
		}
	}
	for i, segment := range segments {
		rewritten.Segments[i].ProgramDateTime = segment.ProgramDateTime
		rewritten.Segments[i].Discontinuity = segment.Discontinuity
	}
	rewritten.TargetDuration = upstream.TargetDuration
	rewritten.SeqNo = upstream.SeqNo
	return rewritten, nil
}

// BuildMasterPlaylist builds the served master playlist: one variant
// pointing at the rewritten media playlist, with EXT-X-MEDIA subtitle
// renditions for sidecar mode. Subtitle renditions carry AUTOSELECT=NO so
// players leave track selection to the viewer.
func BuildMasterPlaylist(bandwidth uint32, mode Mode, tracks trackSet) []byte {
	master := m3u8.NewMasterPlaylist()
	master.SetVersion(5)

	params := m3u8.VariantParams{
		Bandwidth: bandwidth,
	}
	if mode == ModeSidecar {
		// Renditions point at the subs_<lang>.m3u8 aliases so a player
		// following them lands on the right track in both single and dual
		// mode
		params.Subtitles = subtitleGroupID
		if tracks.dual() {
			origLang := tracks.originalLanguage()
			params.Alternatives = []*m3u8.Alternative{
				subtitleRendition(origLang),
				subtitleRendition("en"),
			}
		} else {
			lang := tracks.originalLanguage()
			if tracks.translated {
				lang = "en"
			}
			params.Alternatives = []*m3u8.Alternative{
				subtitleRendition(lang),
			}
		}
	}
	master.Append(strings.TrimPrefix(MediaPlaylistPath, "/"), &m3u8.MediaPlaylist{}, params)
	return master.Encode().Bytes()
}

func subtitleRendition(language string) *m3u8.Alternative {
	return &m3u8.Alternative{
		GroupId:    subtitleGroupID,
		URI:        fmt.Sprintf("subs_%s.m3u8", language),
		Type:       "SUBTITLES",
		Language:   language,
		Name:       video.LanguageDisplayName(language),
		Default:    false,
		Autoselect: "NO",
		Forced:     "NO",
	}
}
