package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grafov/m3u8"
	"golang.org/x/sync/errgroup"

	"github.com/yidakra/livevtt-sub000/clients"
	"github.com/yidakra/livevtt-sub000/config"
	"github.com/yidakra/livevtt-sub000/log"
	"github.com/yidakra/livevtt-sub000/metrics"
	"github.com/yidakra/livevtt-sub000/store"
	"github.com/yidakra/livevtt-sub000/transcribe"
	"github.com/yidakra/livevtt-sub000/video"
)

// PlaylistSource is the upstream live-window observer. Implemented by
// clients.Follower; faked in tests.
type PlaylistSource interface {
	Poll(ctx context.Context) (*clients.PollResult, error)
}

// Downloader fetches one segment into a scratch file
type Downloader interface {
	Download(ctx context.Context, segmentURI string, segmentURL *url.URL) (string, error)
}

// Transcriber turns a downloaded segment into cue lists
type Transcriber interface {
	Transcribe(ctx context.Context, segmentURI, segmentPath string) (transcribe.Result, error)
}

// CaptionDispatcher pushes individual cues to an external captioning endpoint
type CaptionDispatcher interface {
	PostCue(ctx context.Context, text, lang string, trackID int) error
}

// Coordinator drives the pipeline: each cycle it polls the upstream live
// window, evicts departed segments, runs every new segment through
// download -> transcribe -> post-process, installs the resulting artifacts
// and republishes the rewritten playlists. Cycles never overlap; the next
// one starts only after the previous has fully resolved.
type Coordinator struct {
	source      PlaylistSource
	downloader  Downloader
	transcriber Transcriber
	handler     Handler
	captions    CaptionDispatcher
	mode        Mode
	tracks      trackSet

	artifacts *store.ArtifactStore
	manifests *store.ManifestStore
}

func NewCoordinator(
	source PlaylistSource,
	downloader Downloader,
	transcriber Transcriber,
	mode Mode,
	tasks []transcribe.Task,
	sourceLanguage string,
	muxer video.Muxer,
	captions CaptionDispatcher,
	artifacts *store.ArtifactStore,
	manifests *store.ManifestStore,
) (*Coordinator, error) {
	tracks := newTrackSet(tasks, sourceLanguage)
	handler, err := newHandler(mode, tracks, muxer)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		source:      source,
		downloader:  downloader,
		transcriber: transcriber,
		handler:     handler,
		captions:    captions,
		mode:        mode,
		tracks:      tracks,
		artifacts:   artifacts,
		manifests:   manifests,
	}, nil
}

// MasterPlaylist renders the served master playlist for the variant we
// follow, advertising the subtitle renditions the pipeline produces
func (c *Coordinator) MasterPlaylist(bandwidth uint32) []byte {
	return BuildMasterPlaylist(bandwidth, c.mode, c.tracks)
}

// Run loops RunCycle until the context is cancelled
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		sleepFor, err := c.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.LogNoSegment("pipeline cycle failed", "err", err)
		}

		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle performs one poll-process-publish pass and returns how long to
// sleep before the next one
func (c *Coordinator) RunCycle(ctx context.Context) (time.Duration, error) {
	cycleID := uuid.New().String()
	cycleStart := time.Now()
	defer func() {
		metrics.Metrics.PollCycleDurationSec.Observe(time.Since(cycleStart).Seconds())
	}()

	const fallbackSleep = config.DefaultPollIntervalSecs * time.Second
	result, err := c.source.Poll(ctx)
	if err != nil {
		metrics.Metrics.PollFailureCount.Inc()
		return fallbackSleep, err
	}
	metrics.Metrics.LiveWindowSegments.Set(float64(len(result.SegmentSet)))
	log.LogNoSegment("polled upstream live window", "cycle_id", cycleID, "segments", len(result.SegmentSet))

	c.evictDeparted(result.SegmentSet)

	processed := c.processNewSegments(ctx, cycleID, result)
	for _, artifacts := range processed {
		c.install(artifacts)
	}

	if err := c.publishPlaylists(result.Playlist); err != nil {
		return result.SleepFor, err
	}

	c.dispatchCaptions(ctx, processed)
	return result.SleepFor, nil
}

// evictDeparted drops artifacts for segments that have left the upstream
// live window, sidecars included
func (c *Coordinator) evictDeparted(segmentSet []string) {
	current := make(map[string]bool, len(segmentSet))
	for _, uri := range segmentSet {
		current[uri] = true
	}
	for _, uri := range c.artifacts.TSKeys() {
		if current[uri] {
			continue
		}
		c.artifacts.DropTS(uri)
		for _, suffix := range []string{store.SidecarSingle, store.SidecarOriginal, store.SidecarTranslated} {
			c.artifacts.DropVTT(store.SidecarURI(uri, suffix))
		}
		log.Log(uri, "evicted segment that left the live window")
	}
}

// processNewSegments fans out over every window segment not yet in the
// store. A panicking or failing segment never takes the cycle down with it.
func (c *Coordinator) processNewSegments(ctx context.Context, cycleID string, result *clients.PollResult) []*SegmentArtifacts {
	var todo []string
	for _, uri := range result.SegmentSet {
		if !c.artifacts.HasTS(uri) {
			todo = append(todo, uri)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	var mu sync.Mutex
	processed := make(map[string]*SegmentArtifacts, len(todo))
	group, groupCtx := errgroup.WithContext(ctx)
	for _, uri := range todo {
		uri := uri
		segmentURL := result.SegmentURLs[uri]
		log.AddContext(uri, "cycle_id", cycleID)
		segCtx := log.WithLogValues(groupCtx, "segment", uri, "cycle_id", cycleID)
		group.Go(func() error {
			artifacts, err := recovered(func() (*SegmentArtifacts, error) {
				return c.processSegment(segCtx, uri, segmentURL)
			})
			if err != nil {
				// The segment stays out of the store and is retried
				// next cycle if it is still in the window
				metrics.Metrics.SegmentsProcessed.WithLabelValues("failed").Inc()
				log.LogCtx(segCtx, "segment processing failed", "err", err)
				return nil
			}
			mu.Lock()
			processed[uri] = artifacts
			mu.Unlock()
			return nil
		})
	}
	// Per-segment errors are swallowed above; this only fails on a
	// cancelled context
	if err := group.Wait(); err != nil {
		log.LogNoSegment("segment fan-out interrupted", "err", err)
	}

	// Preserve playlist order for caption dispatch
	ordered := make([]*SegmentArtifacts, 0, len(processed))
	for _, uri := range result.SegmentSet {
		if artifacts, ok := processed[uri]; ok {
			ordered = append(ordered, artifacts)
		}
	}
	return ordered
}

// processSegment runs one segment through download, transcription and
// post-processing. Only a download failure is returned as an error; any
// later failure publishes the untouched segment so playback never stalls
// on a bad transcription.
func (c *Coordinator) processSegment(ctx context.Context, uri string, segmentURL *url.URL) (*SegmentArtifacts, error) {
	if segmentURL == nil {
		return nil, fmt.Errorf("no upstream URL for segment")
	}
	scratchPath, err := c.downloader.Download(ctx, uri, segmentURL)
	if err != nil {
		metrics.Metrics.SegmentStageFailures.WithLabelValues("download").Inc()
		return nil, err
	}

	transcribeStart := time.Now()
	cues, err := c.transcriber.Transcribe(ctx, uri, scratchPath)
	metrics.Metrics.TranscribeDurationSec.Observe(time.Since(transcribeStart).Seconds())
	if err != nil {
		metrics.Metrics.SegmentStageFailures.WithLabelValues("transcribe").Inc()
		metrics.Metrics.SegmentsProcessed.WithLabelValues("passthrough").Inc()
		log.LogCtx(ctx, "transcription failed, passing segment through", "err", err)
		return &SegmentArtifacts{URI: uri, TSPath: scratchPath}, nil
	}

	job := &SegmentJob{URI: uri, SourceURL: segmentURL, ScratchPath: scratchPath, Cues: cues}
	artifacts, err := c.handler.Process(job)
	if err != nil {
		metrics.Metrics.SegmentStageFailures.WithLabelValues(c.handler.Name()).Inc()
		metrics.Metrics.SegmentsProcessed.WithLabelValues("passthrough").Inc()
		log.LogCtx(ctx, "post-processing failed, passing segment through", "err", err)
		return &SegmentArtifacts{URI: uri, TSPath: scratchPath, Cues: cues}, nil
	}
	metrics.Metrics.SegmentsProcessed.WithLabelValues("success").Inc()
	return artifacts, nil
}

func (c *Coordinator) install(artifacts *SegmentArtifacts) {
	c.artifacts.PutTS(artifacts.URI, artifacts.TSPath)
	for sidecarURI, blob := range artifacts.VTT {
		c.artifacts.PutVTT(sidecarURI, blob)
	}
}

// publishPlaylists regenerates the rewritten media playlist and the
// subtitle playlists from the freshly-polled upstream window. Burn and
// embed modes carry subtitles inside the segments themselves, so only
// sidecar mode publishes subtitle playlists.
func (c *Coordinator) publishPlaylists(upstream *m3u8.MediaPlaylist) error {
	media, err := RewriteMediaPlaylist(upstream)
	if err != nil {
		return fmt.Errorf("failed to rewrite media playlist: %w", err)
	}
	c.manifests.Put(store.SlotMedia, media)
	if c.mode != ModeSidecar {
		return nil
	}

	for _, slot := range c.subtitleSlots() {
		subs, err := BuildSubtitlePlaylist(upstream, slot.suffix)
		if err != nil {
			return fmt.Errorf("failed to build subtitle playlist: %w", err)
		}
		c.manifests.Put(slot.slot, subs)
	}
	return nil
}

type subtitleSlot struct {
	slot   string
	suffix string
}

func (c *Coordinator) subtitleSlots() []subtitleSlot {
	if c.tracks.dual() {
		return []subtitleSlot{
			{slot: store.SlotSubsOrig, suffix: store.SidecarOriginal},
			{slot: store.SlotSubsTrans, suffix: store.SidecarTranslated},
		}
	}
	return []subtitleSlot{{slot: store.SlotSubs, suffix: store.SidecarSingle}}
}

// dispatchCaptions posts the cues of freshly-processed segments to the
// captioning endpoint. Best-effort: failures are logged per cue and never
// affect the pipeline.
func (c *Coordinator) dispatchCaptions(ctx context.Context, processed []*SegmentArtifacts) {
	if c.captions == nil {
		return
	}
	origTrack, transTrack := 1, 1
	if c.tracks.dual() {
		transTrack = 2
	}
	for _, artifacts := range processed {
		for _, cue := range artifacts.Cues.Original {
			c.postCue(ctx, artifacts.URI, cue, c.tracks.originalLanguage(), origTrack)
		}
		for _, cue := range artifacts.Cues.Translated {
			c.postCue(ctx, artifacts.URI, cue, "en", transTrack)
		}
	}
}

func (c *Coordinator) postCue(ctx context.Context, uri string, cue video.Cue, lang string, trackID int) {
	if err := c.captions.PostCue(ctx, cue.Text, lang, trackID); err != nil {
		metrics.Metrics.CaptionPostFailures.Inc()
		log.LogError(uri, "failed to post caption cue", err)
		return
	}
	metrics.Metrics.CaptionsPosted.Inc()
}

func recovered[T any](f func() (T, error)) (t T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoSegment("panic in segment pipeline goroutine, recovering", "err", rec)
			err = fmt.Errorf("panic in segment pipeline: %v", rec)
		}
	}()
	return f()
}
