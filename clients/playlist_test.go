package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/grafov/m3u8"
	"github.com/stretchr/testify/require"
	"github.com/yidakra/livevtt-sub000/config"
)

const masterManifest = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=400000,RESOLUTION=640x360
low/chunklist.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1600000,RESOLUTION=1280x720
high/chunklist.m3u8
`

const mediaManifest = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXTINF:6.000,
./media_w100_1.aac
#EXTINF:6.000,
media_w100_2.ts
#EXTINF:6.000,
media_w100_3.ts
`

func mustParseURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestFollowerPicksHighestBandwidthVariant(t *testing.T) {
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/playlist.m3u8":
			gotUserAgent = r.Header.Get("User-Agent")
			fmt.Fprint(w, masterManifest)
		case "/high/chunklist.m3u8":
			fmt.Fprint(w, mediaManifest)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	follower := NewFollower(mustParseURL(t, server.URL+"/playlist.m3u8"), "livevtt/1.0")
	require.NoError(t, follower.Start(context.Background()))
	require.Equal(t, "livevtt/1.0", gotUserAgent)
	require.Equal(t, uint32(1600000), follower.VariantBandwidth)

	result, err := follower.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"/media_w100_1.ts", "/media_w100_2.ts", "/media_w100_3.ts"}, result.SegmentSet)
	require.Equal(t, server.URL+"/high/media_w100_1.aac", result.SegmentURLs["/media_w100_1.ts"].String())
	require.Equal(t, 6.0, result.SleepFor.Seconds())
}

func TestFollowerAcceptsDirectMediaPlaylist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mediaManifest)
	}))
	defer server.Close()

	follower := NewFollower(mustParseURL(t, server.URL+"/chunklist.m3u8"), "")
	require.NoError(t, follower.Start(context.Background()))
	require.Zero(t, follower.VariantBandwidth)

	result, err := follower.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, result.SegmentSet, 3)
	require.Equal(t, uint64(100), result.Playlist.SeqNo)
}

func TestFollowerPollErrorDoesNotTearDown(t *testing.T) {
	failing := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			http.Error(w, "upstream broke", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, mediaManifest)
	}))
	defer server.Close()

	follower := NewFollower(mustParseURL(t, server.URL+"/chunklist.m3u8"), "")
	require.NoError(t, follower.Start(context.Background()))

	failing = true
	_, err := follower.Poll(context.Background())
	require.Error(t, err)

	// the same follower recovers on the next tick
	failing = false
	result, err := follower.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, result.SegmentSet, 3)
}

func decodeMedia(t *testing.T, manifest string) *m3u8.MediaPlaylist {
	t.Helper()
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(manifest), true)
	require.NoError(t, err)
	require.Equal(t, m3u8.MEDIA, listType)
	return playlist.(*m3u8.MediaPlaylist)
}

func TestTrimToWindow(t *testing.T) {
	// 30 segments of 6s = 180s, over the 120s cap; keep 60s = 10 segments
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:50\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "#EXTINF:6.000,\nseg_%d.ts\n", i)
	}
	playlist := decodeMedia(t, sb.String())

	originalTarget := config.TargetBufferSecs
	originalMax := config.MaxTargetBufferSecs
	defer func() {
		config.TargetBufferSecs = originalTarget
		config.MaxTargetBufferSecs = originalMax
	}()
	config.TargetBufferSecs = 60
	config.MaxTargetBufferSecs = 120

	trimmed, err := TrimToWindow(playlist)
	require.NoError(t, err)
	segments := LiveSegments(trimmed)
	require.Len(t, segments, 10)
	require.Equal(t, "seg_20.ts", segments[0].URI)
	require.Equal(t, "seg_29.ts", segments[9].URI)
	require.Equal(t, uint64(70), trimmed.SeqNo, "media sequence advances past the dropped segments")
}

func TestTrimToWindowNoTrimNeeded(t *testing.T) {
	playlist := decodeMedia(t, mediaManifest)
	trimmed, err := TrimToWindow(playlist)
	require.NoError(t, err)
	require.Equal(t, playlist, trimmed)
}
