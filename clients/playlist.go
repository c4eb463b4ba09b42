package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/grafov/m3u8"
	"github.com/yidakra/livevtt-sub000/config"
	"github.com/yidakra/livevtt-sub000/store"
)

const UpstreamFetchTimeout = 15 * time.Second

func MasterFetchRetryBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 5)
}

// PollResult is one observation of the upstream live window
type PollResult struct {
	// Trimmed upstream media playlist, segment URIs untouched
	Playlist *m3u8.MediaPlaylist
	// Stable URIs of the window's segments, playlist order
	SegmentSet []string
	// Stable URI to absolute upstream segment URL
	SegmentURLs map[string]*url.URL
	// How long to sleep before the next poll
	SleepFor time.Duration
}

// Follower tracks the sliding window of an upstream live HLS source. Start
// resolves the media playlist once (picking the highest-bandwidth variant of
// a master playlist); each Poll fetches the media playlist, trims it to the
// configured window and reports the current segment set.
type Follower struct {
	upstreamURL *url.URL
	userAgent   string
	httpClient  *http.Client

	mediaURL *url.URL
	// Bandwidth of the variant we follow, zero when the upstream URL pointed
	// straight at a media playlist
	VariantBandwidth uint32
}

func NewFollower(upstreamURL *url.URL, userAgent string) *Follower {
	return &Follower{
		upstreamURL: upstreamURL,
		userAgent:   userAgent,
		httpClient: &http.Client{
			Timeout: UpstreamFetchTimeout,
		},
	}
}

// Start fetches the upstream playlist once to resolve the media playlist URL.
// The upstream master is fetched exactly here; it is never re-fetched.
func (f *Follower) Start(ctx context.Context) error {
	var playlist m3u8.Playlist
	var playlistType m3u8.ListType
	err := backoff.Retry(func() error {
		var err error
		playlist, playlistType, err = f.fetchPlaylist(ctx, f.upstreamURL)
		return err
	}, MasterFetchRetryBackoff())
	if err != nil {
		return fmt.Errorf("error fetching upstream playlist: %w", err)
	}

	if playlistType == m3u8.MEDIA {
		// The upstream URL resolves directly to a media playlist
		f.mediaURL = f.upstreamURL
		return nil
	}

	masterPlaylist, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok || masterPlaylist == nil {
		return fmt.Errorf("failed to parse upstream playlist as MasterPlaylist")
	}
	variant := pickHighestBandwidthVariant(masterPlaylist)
	if variant == nil {
		return fmt.Errorf("upstream master playlist has no variants")
	}
	mediaURL, err := ManifestURLToSegmentURL(f.upstreamURL.String(), variant.URI)
	if err != nil {
		return fmt.Errorf("error resolving media playlist URL: %w", err)
	}
	f.mediaURL = mediaURL
	f.VariantBandwidth = variant.Bandwidth
	return nil
}

// Poll fetches the current upstream media playlist, trims it to the live
// window and returns the current segment set. Errors are returned for the
// coordinator to log; the next tick retries from scratch.
func (f *Follower) Poll(ctx context.Context) (*PollResult, error) {
	if f.mediaURL == nil {
		return nil, fmt.Errorf("follower not started")
	}
	playlist, playlistType, err := f.fetchPlaylist(ctx, f.mediaURL)
	if err != nil {
		return nil, fmt.Errorf("error fetching upstream media playlist: %w", err)
	}
	if playlistType != m3u8.MEDIA {
		return nil, fmt.Errorf("expected a media playlist at %s", f.mediaURL.Redacted())
	}
	mediaPlaylist, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok || mediaPlaylist == nil {
		return nil, fmt.Errorf("failed to parse playlist as MediaPlaylist")
	}

	trimmed, err := TrimToWindow(mediaPlaylist)
	if err != nil {
		return nil, err
	}

	segments := LiveSegments(trimmed)
	segmentSet := make([]string, 0, len(segments))
	segmentURLs := make(map[string]*url.URL, len(segments))
	for _, segment := range segments {
		stableURI := store.StableURI(segment.URI)
		segmentURL, err := ManifestURLToSegmentURL(f.mediaURL.String(), segment.URI)
		if err != nil {
			return nil, err
		}
		segmentSet = append(segmentSet, stableURI)
		segmentURLs[stableURI] = segmentURL
	}

	sleepSecs := trimmed.TargetDuration
	if sleepSecs <= 0 {
		sleepSecs = config.DefaultPollIntervalSecs
	}
	return &PollResult{
		Playlist:    trimmed,
		SegmentSet:  segmentSet,
		SegmentURLs: segmentURLs,
		SleepFor:    time.Duration(sleepSecs * float64(time.Second)),
	}, nil
}

func (f *Follower) fetchPlaylist(ctx context.Context, u *url.URL) (m3u8.Playlist, m3u8.ListType, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, 0, fmt.Errorf("playlist fetch returned %d for %s", resp.StatusCode, u.Redacted())
	}
	playlist, playlistType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return nil, 0, fmt.Errorf("error decoding playlist: %w", err)
	}
	return playlist, playlistType, nil
}

func pickHighestBandwidthVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, variant := range master.Variants {
		if variant == nil {
			continue
		}
		if best == nil || variant.Bandwidth > best.Bandwidth {
			best = variant
		}
	}
	return best
}

// LiveSegments returns the populated prefix of a media playlist's segment
// list. The segments list is a ring buffer - see
// https://github.com/grafov/m3u8/issues/140 - and so we only know we've hit
// the end of the list when we find a nil element.
func LiveSegments(playlist *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	var segments []*m3u8.MediaSegment
	for _, segment := range playlist.Segments {
		if segment == nil {
			break
		}
		segments = append(segments, segment)
	}
	return segments
}

// TrimToWindow bounds a media playlist to the configured live window: when
// the playlist holds more than MaxTargetBufferSecs worth of segments, only
// the last TargetBufferSecs worth are kept, with the media sequence number
// advanced to the first retained segment's.
func TrimToWindow(playlist *m3u8.MediaPlaylist) (*m3u8.MediaPlaylist, error) {
	segments := LiveSegments(playlist)
	targetDuration := playlist.TargetDuration
	if targetDuration <= 0 {
		return playlist, nil
	}
	maxCount := int(float64(config.MaxTargetBufferSecs) / targetDuration)
	keepCount := int(float64(config.TargetBufferSecs) / targetDuration)
	if len(segments) <= maxCount || keepCount < 1 {
		return playlist, nil
	}

	dropped := len(segments) - keepCount
	kept := segments[dropped:]
	trimmed, err := m3u8.NewMediaPlaylist(uint(len(kept)), uint(len(kept)))
	if err != nil {
		return nil, fmt.Errorf("failed to create trimmed playlist: %w", err)
	}
	for _, segment := range kept {
		if err := trimmed.Append(segment.URI, segment.Duration, segment.Title); err != nil {
			return nil, fmt.Errorf("failed to append to trimmed playlist: %w", err)
		}
	}
	for i, segment := range kept {
		trimmed.Segments[i].ProgramDateTime = segment.ProgramDateTime
		trimmed.Segments[i].Discontinuity = segment.Discontinuity
	}
	trimmed.TargetDuration = playlist.TargetDuration
	trimmed.SeqNo = playlist.SeqNo + uint64(dropped)
	return trimmed, nil
}

// ManifestURLToSegmentURL resolves a segment or variant URI relative to the
// manifest it appeared in
func ManifestURLToSegmentURL(manifestURL, segmentFilename string) (*url.URL, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest URL when converting to segment URL: %s", err)
	}

	relative, err := url.Parse(segmentFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to parse segment filename when converting to segment URL: %s", err)
	}

	return base.ResolveReference(relative), nil
}
