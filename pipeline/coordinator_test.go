package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/grafov/m3u8"
	"github.com/stretchr/testify/require"
	"github.com/yidakra/livevtt-sub000/clients"
	"github.com/yidakra/livevtt-sub000/store"
	"github.com/yidakra/livevtt-sub000/transcribe"
	"github.com/yidakra/livevtt-sub000/video"
)

type scriptedSource struct {
	polls []func() (*clients.PollResult, error)
	calls int
}

func (s *scriptedSource) Poll(ctx context.Context) (*clients.PollResult, error) {
	if s.calls >= len(s.polls) {
		return nil, fmt.Errorf("unexpected extra poll")
	}
	poll := s.polls[s.calls]
	s.calls++
	return poll()
}

func pollResultFor(t *testing.T, seqNo uint64, upstreamURIs ...string) *clients.PollResult {
	t.Helper()
	playlist, err := m3u8.NewMediaPlaylist(uint(len(upstreamURIs)), uint(len(upstreamURIs)))
	require.NoError(t, err)
	for _, uri := range upstreamURIs {
		require.NoError(t, playlist.Append(uri, 6.0, ""))
	}
	playlist.TargetDuration = 6.0
	playlist.SeqNo = seqNo

	result := &clients.PollResult{
		Playlist:    playlist,
		SegmentURLs: map[string]*url.URL{},
		SleepFor:    6 * time.Second,
	}
	for _, uri := range upstreamURIs {
		stableURI := store.StableURI(uri)
		segmentURL, err := url.Parse("http://upstream.example.com/live/" + uri)
		require.NoError(t, err)
		result.SegmentSet = append(result.SegmentSet, stableURI)
		result.SegmentURLs[stableURI] = segmentURL
	}
	return result
}

type fakeDownloader struct {
	mu        sync.Mutex
	dir       string
	downloads []string
	failFor   map[string]error
}

func (d *fakeDownloader) Download(ctx context.Context, segmentURI string, segmentURL *url.URL) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.downloads = append(d.downloads, segmentURI)
	if err := d.failFor[segmentURI]; err != nil {
		return "", err
	}
	f, err := os.CreateTemp(d.dir, "seg-*.ts")
	if err != nil {
		return "", err
	}
	f.Close()
	return f.Name(), nil
}

func (d *fakeDownloader) downloadCount(segmentURI string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var count int
	for _, uri := range d.downloads {
		if uri == segmentURI {
			count++
		}
	}
	return count
}

type fakeTranscriber struct {
	mu      sync.Mutex
	results map[string]transcribe.Result
	failFor map[string]error
}

func (tr *fakeTranscriber) Transcribe(ctx context.Context, segmentURI, segmentPath string) (transcribe.Result, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if err := tr.failFor[segmentURI]; err != nil {
		return transcribe.Result{}, err
	}
	return tr.results[segmentURI], nil
}

type postedCue struct {
	text    string
	lang    string
	trackID int
}

type fakeDispatcher struct {
	mu   sync.Mutex
	cues []postedCue
	fail bool
}

func (d *fakeDispatcher) PostCue(ctx context.Context, text, lang string, trackID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return fmt.Errorf("caption endpoint unavailable")
	}
	d.cues = append(d.cues, postedCue{text: text, lang: lang, trackID: trackID})
	return nil
}

func (d *fakeDispatcher) posted() []postedCue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]postedCue{}, d.cues...)
}

type coordinatorFixture struct {
	coordinator *Coordinator
	source      *scriptedSource
	downloader  *fakeDownloader
	transcriber *fakeTranscriber
	dispatcher  *fakeDispatcher
	artifacts   *store.ArtifactStore
	manifests   *store.ManifestStore
}

func newCoordinatorFixture(t *testing.T, tasks []transcribe.Task, sourceLanguage string) *coordinatorFixture {
	t.Helper()
	return newModeCoordinatorFixture(t, ModeSidecar, tasks, sourceLanguage)
}

func newModeCoordinatorFixture(t *testing.T, mode Mode, tasks []transcribe.Task, sourceLanguage string) *coordinatorFixture {
	t.Helper()
	fixture := &coordinatorFixture{
		source:      &scriptedSource{},
		downloader:  &fakeDownloader{dir: t.TempDir(), failFor: map[string]error{}},
		transcriber: &fakeTranscriber{results: map[string]transcribe.Result{}, failFor: map[string]error{}},
		dispatcher:  &fakeDispatcher{},
		artifacts:   store.NewArtifactStore(),
		manifests:   store.NewManifestStore(),
	}
	coordinator, err := NewCoordinator(
		fixture.source,
		fixture.downloader,
		fixture.transcriber,
		mode,
		tasks,
		sourceLanguage,
		video.Muxer{Timeout: time.Second},
		fixture.dispatcher,
		fixture.artifacts,
		fixture.manifests,
	)
	require.NoError(t, err)
	fixture.coordinator = coordinator
	t.Cleanup(fixture.artifacts.Close)
	return fixture
}

func TestRunCycleInstallsArtifactsAndPlaylists(t *testing.T) {
	fixture := newCoordinatorFixture(t, []transcribe.Task{transcribe.TaskTranslate}, "ru")
	fixture.source.polls = []func() (*clients.PollResult, error){
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 100, "media_1.aac", "media_2.aac"), nil
		},
	}
	fixture.transcriber.results["/media_1.ts"] = transcribe.Result{
		Translated: []video.Cue{{Start: 1, End: 2, Text: "hello"}},
	}
	fixture.transcriber.results["/media_2.ts"] = transcribe.Result{
		Translated: []video.Cue{{Start: 7, End: 8, Text: "world"}},
	}

	sleepFor, err := fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6*time.Second, sleepFor)

	for _, uri := range []string{"/media_1.ts", "/media_2.ts"} {
		path, release, ok := fixture.artifacts.AcquireTS(uri)
		require.True(t, ok)
		require.FileExists(t, path)
		release()
	}
	vtt, ok := fixture.artifacts.GetVTT("/media_1.vtt")
	require.True(t, ok)
	require.Contains(t, string(vtt), "hello")

	media, ok := fixture.manifests.Get(store.SlotMedia)
	require.True(t, ok)
	require.Contains(t, string(media), "media_1.ts")
	require.Contains(t, string(media), "#EXT-X-MEDIA-SEQUENCE:100")

	subs, ok := fixture.manifests.Get(store.SlotSubs)
	require.True(t, ok)
	require.Contains(t, string(subs), "media_1.vtt")
	require.Contains(t, string(subs), "media_2.vtt")

	require.Equal(t, []postedCue{
		{text: "hello", lang: "en", trackID: 1},
		{text: "world", lang: "en", trackID: 1},
	}, fixture.dispatcher.posted())
}

func TestRunCycleSkipsAlreadyProcessedSegments(t *testing.T) {
	fixture := newCoordinatorFixture(t, []transcribe.Task{transcribe.TaskTranslate}, "ru")
	fixture.source.polls = []func() (*clients.PollResult, error){
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 100, "media_1.aac", "media_2.aac"), nil
		},
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 101, "media_2.aac", "media_3.aac"), nil
		},
	}

	_, err := fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)
	_, err = fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, fixture.downloader.downloadCount("/media_1.ts"))
	require.Equal(t, 1, fixture.downloader.downloadCount("/media_2.ts"))
	require.Equal(t, 1, fixture.downloader.downloadCount("/media_3.ts"))
}

func TestRunCycleEvictsDepartedSegments(t *testing.T) {
	fixture := newCoordinatorFixture(t, []transcribe.Task{transcribe.TaskTranslate}, "ru")
	fixture.source.polls = []func() (*clients.PollResult, error){
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 100, "media_1.aac", "media_2.aac"), nil
		},
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 101, "media_2.aac", "media_3.aac"), nil
		},
	}
	fixture.transcriber.results["/media_1.ts"] = transcribe.Result{
		Translated: []video.Cue{{Start: 1, End: 2, Text: "gone soon"}},
	}

	_, err := fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)
	path, release, ok := fixture.artifacts.AcquireTS("/media_1.ts")
	require.True(t, ok)
	release()

	_, err = fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)

	_, _, ok = fixture.artifacts.AcquireTS("/media_1.ts")
	require.False(t, ok)
	_, ok = fixture.artifacts.GetVTT("/media_1.vtt")
	require.False(t, ok)
	require.NoFileExists(t, path)
}

func TestRunCycleDownloadFailureLeavesSegmentRetryable(t *testing.T) {
	fixture := newCoordinatorFixture(t, []transcribe.Task{transcribe.TaskTranslate}, "ru")
	fixture.downloader.failFor["/media_1.ts"] = fmt.Errorf("connection reset")
	fixture.source.polls = []func() (*clients.PollResult, error){
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 100, "media_1.aac"), nil
		},
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 100, "media_1.aac"), nil
		},
	}

	_, err := fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)
	_, _, ok := fixture.artifacts.AcquireTS("/media_1.ts")
	require.False(t, ok)

	// Still in the window, so the next cycle tries again
	delete(fixture.downloader.failFor, "/media_1.ts")
	_, err = fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, fixture.downloader.downloadCount("/media_1.ts"))
	_, release, ok := fixture.artifacts.AcquireTS("/media_1.ts")
	require.True(t, ok)
	release()
}

func TestRunCycleTranscribeFailurePublishesPassthrough(t *testing.T) {
	fixture := newCoordinatorFixture(t, []transcribe.Task{transcribe.TaskTranslate}, "ru")
	fixture.transcriber.failFor["/media_1.ts"] = fmt.Errorf("engine unavailable")
	fixture.source.polls = []func() (*clients.PollResult, error){
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 100, "media_1.aac"), nil
		},
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 100, "media_1.aac"), nil
		},
	}

	_, err := fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)

	// The untouched segment is published without a sidecar
	_, release, ok := fixture.artifacts.AcquireTS("/media_1.ts")
	require.True(t, ok)
	release()
	_, ok = fixture.artifacts.GetVTT("/media_1.vtt")
	require.False(t, ok)
	require.Empty(t, fixture.dispatcher.posted())

	// Installed segments are never re-processed
	_, err = fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fixture.downloader.downloadCount("/media_1.ts"))
}

func TestRunCyclePollFailureReturnsFallbackSleep(t *testing.T) {
	fixture := newCoordinatorFixture(t, []transcribe.Task{transcribe.TaskTranslate}, "ru")
	fixture.source.polls = []func() (*clients.PollResult, error){
		func() (*clients.PollResult, error) {
			return nil, fmt.Errorf("upstream unreachable")
		},
	}

	sleepFor, err := fixture.coordinator.RunCycle(context.Background())
	require.Error(t, err)
	require.Equal(t, 10*time.Second, sleepFor)
}

func TestRunCycleDualTrackCaptionsAndPlaylists(t *testing.T) {
	fixture := newCoordinatorFixture(t, []transcribe.Task{transcribe.TaskTranscribe, transcribe.TaskTranslate}, "ru")
	fixture.source.polls = []func() (*clients.PollResult, error){
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 100, "media_1.aac"), nil
		},
	}
	fixture.transcriber.results["/media_1.ts"] = transcribe.Result{
		Original:   []video.Cue{{Start: 1, End: 2, Text: "привет"}},
		Translated: []video.Cue{{Start: 1, End: 2, Text: "hello"}},
	}

	_, err := fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)

	orig, ok := fixture.artifacts.GetVTT("/media_1.orig.vtt")
	require.True(t, ok)
	require.Contains(t, string(orig), "привет")
	trans, ok := fixture.artifacts.GetVTT("/media_1.trans.vtt")
	require.True(t, ok)
	require.Contains(t, string(trans), "hello")

	_, ok = fixture.manifests.Get(store.SlotSubsOrig)
	require.True(t, ok)
	_, ok = fixture.manifests.Get(store.SlotSubsTrans)
	require.True(t, ok)
	_, ok = fixture.manifests.Get(store.SlotSubs)
	require.False(t, ok)

	require.Equal(t, []postedCue{
		{text: "привет", lang: "ru", trackID: 1},
		{text: "hello", lang: "en", trackID: 2},
	}, fixture.dispatcher.posted())
}

func TestRunCycleBurnModePublishesNoSubtitlePlaylists(t *testing.T) {
	fixture := newModeCoordinatorFixture(t, ModeBurn, []transcribe.Task{transcribe.TaskTranslate}, "ru")
	fixture.source.polls = []func() (*clients.PollResult, error){
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 100, "media_1.aac"), nil
		},
	}

	_, err := fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)

	_, ok := fixture.manifests.Get(store.SlotMedia)
	require.True(t, ok)
	for _, slot := range []string{store.SlotSubs, store.SlotSubsOrig, store.SlotSubsTrans} {
		_, ok := fixture.manifests.Get(slot)
		require.False(t, ok)
	}
}

func TestRunCycleCaptionFailureDoesNotAffectPipeline(t *testing.T) {
	fixture := newCoordinatorFixture(t, []transcribe.Task{transcribe.TaskTranslate}, "ru")
	fixture.dispatcher.fail = true
	fixture.source.polls = []func() (*clients.PollResult, error){
		func() (*clients.PollResult, error) {
			return pollResultFor(t, 100, "media_1.aac"), nil
		},
	}
	fixture.transcriber.results["/media_1.ts"] = transcribe.Result{
		Translated: []video.Cue{{Start: 1, End: 2, Text: "hello"}},
	}

	_, err := fixture.coordinator.RunCycle(context.Background())
	require.NoError(t, err)
	_, release, ok := fixture.artifacts.AcquireTS("/media_1.ts")
	require.True(t, ok)
	release()
}
