package pipeline

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/yidakra/livevtt-sub000/store"
	"github.com/yidakra/livevtt-sub000/transcribe"
	"github.com/yidakra/livevtt-sub000/video"
)

// Mode selects how subtitles reach the player. It is chosen once at startup
// and never changes at runtime.
type Mode string

const (
	// Serve WebVTT sidecars next to untouched segments (default)
	ModeSidecar Mode = "sidecar"
	// Rasterize subtitles onto the video track ("hard subs")
	ModeBurn Mode = "burn"
	// Remux segments with in-band subtitle streams
	ModeEmbed Mode = "embed"
)

func (m Mode) IsValid() bool {
	switch m {
	case ModeSidecar, ModeBurn, ModeEmbed:
		return true
	default:
		return false
	}
}

// SegmentJob carries one segment through the post-processing stage
type SegmentJob struct {
	URI         string
	SourceURL   *url.URL
	ScratchPath string
	Cues        transcribe.Result
}

// SegmentArtifacts is the tentative output of a segment pipeline, installed
// into the stores once the whole cycle resolves
type SegmentArtifacts struct {
	URI    string
	TSPath string
	VTT    map[string][]byte
	Cues   transcribe.Result
}

// Handler turns a transcribed segment into its artifacts. One implementation
// per Mode.
type Handler interface {
	Name() string
	Process(job *SegmentJob) (*SegmentArtifacts, error)
}

// trackSet describes which subtitle tracks the pipeline produces
type trackSet struct {
	original       bool
	translated     bool
	sourceLanguage string
}

func newTrackSet(tasks []transcribe.Task, sourceLanguage string) trackSet {
	ts := trackSet{sourceLanguage: sourceLanguage}
	for _, task := range tasks {
		switch task {
		case transcribe.TaskTranslate:
			ts.translated = true
		default:
			ts.original = true
		}
	}
	return ts
}

func (t trackSet) dual() bool { return t.original && t.translated }

// originalLanguage is the tag attached to the source-language track. An
// auto-detected language is published as "und" since we never learn the
// actual tag.
func (t trackSet) originalLanguage() string {
	if t.sourceLanguage == "" || t.sourceLanguage == transcribe.LanguageAuto {
		return "und"
	}
	return t.sourceLanguage
}

// sidecarSuffixes lists the sidecar URI suffixes this track set publishes
func (t trackSet) sidecarSuffixes() []string {
	if t.dual() {
		return []string{store.SidecarOriginal, store.SidecarTranslated}
	}
	return []string{store.SidecarSingle}
}

type sidecarHandler struct {
	tracks trackSet
}

func (h *sidecarHandler) Name() string { return "sidecar" }

// Process registers the untouched segment and renders one WebVTT blob per
// produced track. A track with zero surviving cues gets no sidecar at all;
// the player's fetch 404s and it skips the cue range.
func (h *sidecarHandler) Process(job *SegmentJob) (*SegmentArtifacts, error) {
	artifacts := &SegmentArtifacts{
		URI:    job.URI,
		TSPath: job.ScratchPath,
		VTT:    map[string][]byte{},
		Cues:   job.Cues,
	}
	if h.tracks.dual() {
		if len(job.Cues.Original) > 0 {
			artifacts.VTT[store.SidecarURI(job.URI, store.SidecarOriginal)] = video.RenderWebVTT(job.Cues.Original)
		}
		if len(job.Cues.Translated) > 0 {
			artifacts.VTT[store.SidecarURI(job.URI, store.SidecarTranslated)] = video.RenderWebVTT(job.Cues.Translated)
		}
		return artifacts, nil
	}
	cues := job.Cues.Original
	if h.tracks.translated {
		cues = job.Cues.Translated
	}
	if len(cues) > 0 {
		artifacts.VTT[store.SidecarURI(job.URI, store.SidecarSingle)] = video.RenderWebVTT(cues)
	}
	return artifacts, nil
}

type burnHandler struct {
	tracks trackSet
	muxer  video.Muxer
}

func (h *burnHandler) Name() string { return "burn" }

// Process overlays the subtitle track onto the video frames. With both
// tracks produced the translated one is burned; only one track can be
// rasterized.
func (h *burnHandler) Process(job *SegmentJob) (*SegmentArtifacts, error) {
	cues := job.Cues.Translated
	if len(cues) == 0 {
		cues = job.Cues.Original
	}
	if len(cues) == 0 {
		// nothing to burn, pass the segment through
		return &SegmentArtifacts{URI: job.URI, TSPath: job.ScratchPath, Cues: job.Cues}, nil
	}

	srtPath, err := writeScratchSRT(job.ScratchPath, "burn", cues)
	if err != nil {
		return nil, err
	}
	defer os.Remove(srtPath)

	outputPath := rewrittenPath(job.ScratchPath)
	cmd := video.BurnCommand(job.ScratchPath, srtPath, outputPath)
	if err := h.muxer.Run(job.URI, cmd, outputPath); err != nil {
		os.Remove(outputPath)
		return nil, err
	}
	if err := os.Remove(job.ScratchPath); err != nil {
		return nil, fmt.Errorf("failed to remove pre-burn scratch file: %w", err)
	}
	return &SegmentArtifacts{URI: job.URI, TSPath: outputPath, Cues: job.Cues}, nil
}

type embedHandler struct {
	tracks trackSet
	muxer  video.Muxer
}

func (h *embedHandler) Name() string { return "embed" }

// Process remuxes the segment with one or two in-band subtitle streams,
// stream-copying video and audio
func (h *embedHandler) Process(job *SegmentJob) (*SegmentArtifacts, error) {
	var tracks []video.SubtitleTrack
	var srtPaths []string
	defer func() {
		for _, p := range srtPaths {
			os.Remove(p)
		}
	}()

	if len(job.Cues.Original) > 0 {
		srtPath, err := writeScratchSRT(job.ScratchPath, "orig", job.Cues.Original)
		if err != nil {
			return nil, err
		}
		srtPaths = append(srtPaths, srtPath)
		tracks = append(tracks, video.SubtitleTrack{SRTPath: srtPath, Language: h.tracks.originalLanguage()})
	}
	if len(job.Cues.Translated) > 0 {
		srtPath, err := writeScratchSRT(job.ScratchPath, "trans", job.Cues.Translated)
		if err != nil {
			return nil, err
		}
		srtPaths = append(srtPaths, srtPath)
		tracks = append(tracks, video.SubtitleTrack{SRTPath: srtPath, Language: "en"})
	}
	if len(tracks) == 0 {
		return &SegmentArtifacts{URI: job.URI, TSPath: job.ScratchPath, Cues: job.Cues}, nil
	}

	outputPath := rewrittenPath(job.ScratchPath)
	cmd := video.EmbedCommand(job.ScratchPath, tracks, outputPath)
	if err := h.muxer.Run(job.URI, cmd, outputPath); err != nil {
		os.Remove(outputPath)
		return nil, err
	}
	if err := os.Remove(job.ScratchPath); err != nil {
		return nil, fmt.Errorf("failed to remove pre-embed scratch file: %w", err)
	}
	return &SegmentArtifacts{URI: job.URI, TSPath: outputPath, Cues: job.Cues}, nil
}

func newHandler(mode Mode, tracks trackSet, muxer video.Muxer) (Handler, error) {
	switch mode {
	case ModeSidecar:
		return &sidecarHandler{tracks: tracks}, nil
	case ModeBurn:
		return &burnHandler{tracks: tracks, muxer: muxer}, nil
	case ModeEmbed:
		return &embedHandler{tracks: tracks, muxer: muxer}, nil
	default:
		return nil, fmt.Errorf("invalid post-processing mode: %s", mode)
	}
}

func writeScratchSRT(scratchTSPath, label string, cues []video.Cue) (string, error) {
	srtPath := strings.TrimSuffix(scratchTSPath, ".ts") + "." + label + ".srt"
	if err := os.WriteFile(srtPath, video.RenderSubRip(cues), 0644); err != nil {
		return "", fmt.Errorf("failed to write scratch SubRip file: %w", err)
	}
	return srtPath, nil
}

func rewrittenPath(scratchTSPath string) string {
	return strings.TrimSuffix(scratchTSPath, ".ts") + ".subbed.ts"
}
