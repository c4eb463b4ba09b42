package video

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"github.com/yidakra/livevtt-sub000/log"
	"github.com/yidakra/livevtt-sub000/subprocess"
)

// In-band subtitle streams are carried as CEA-608 closed captions so set-top
// players pick them up without a sidecar track
const embeddedSubtitleCodec = "cea608"

const DefaultMuxerTimeout = 60 * time.Second

// SubtitleTrack is one SubRip input handed to the muxer in embedded mode
type SubtitleTrack struct {
	SRTPath  string
	Language string
}

// BurnCommand builds the ffmpeg invocation that rasterizes the given SubRip
// file onto the video track ("hard subs"), re-encoding video and copying
// audio. PTS are preserved so the emitted segment stays aligned with the HLS
// window.
func BurnCommand(tsInputFile, srtPath, tsOutputFile string) *exec.Cmd {
	return ffmpeg.Input(tsInputFile).
		Output(tsOutputFile, ffmpeg.KwArgs{
			"vf":         fmt.Sprintf("subtitles=%s", srtPath),
			"c:a":        "copy",
			"copyts":     "",
			"muxpreload": 0,
			"muxdelay":   0,
			"f":          "mpegts",
		}).
		OverWriteOutput().Compile()
}

// EmbedCommand builds the ffmpeg invocation that remuxes a segment with one
// or two in-band subtitle streams, stream-copying video and audio. Each
// subtitle stream is tagged with its ISO-639-3 language code and a display
// title.
func EmbedCommand(tsInputFile string, tracks []SubtitleTrack, tsOutputFile string) *exec.Cmd {
	streams := []*ffmpeg.Stream{ffmpeg.Input(tsInputFile)}
	maps := []string{"0"}
	kwargs := ffmpeg.KwArgs{
		"c:v":        "copy",
		"c:a":        "copy",
		"c:s":        embeddedSubtitleCodec,
		"copyts":     "",
		"muxpreload": 0,
		"muxdelay":   0,
		"f":          "mpegts",
	}
	for i, track := range tracks {
		streams = append(streams, ffmpeg.Input(track.SRTPath))
		maps = append(maps, fmt.Sprintf("%d", i+1))
		kwargs[fmt.Sprintf("metadata:s:s:%d", i)] = []string{
			fmt.Sprintf("language=%s", LanguageISO3(track.Language)),
			fmt.Sprintf("title=%s", LanguageDisplayName(track.Language)),
		}
	}
	kwargs["map"] = maps
	return ffmpeg.Output(streams, tsOutputFile, kwargs).OverWriteOutput().Compile()
}

// Muxer runs prepared ffmpeg commands with a bounded timeout, keeping a tail
// of stderr for the failure log
type Muxer struct {
	Timeout time.Duration
}

func (m Muxer) Run(segmentURI string, cmd *exec.Cmd, tsOutputFile string) error {
	timeout := m.Timeout
	if timeout == 0 {
		timeout = DefaultMuxerTimeout
	}
	tail := subprocess.NewTail(20)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start muxer: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			log.LogError(segmentURI, "muxer failed", err, "stderr_tail", tail.String())
			return fmt.Errorf("muxer failed: %w", err)
		}
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		log.LogError(segmentURI, "muxer timed out", fmt.Errorf("timeout after %s", timeout), "stderr_tail", tail.String())
		return fmt.Errorf("muxer timed out after %s", timeout)
	}

	// Verify the rewritten segment was created
	if _, err := os.Stat(tsOutputFile); err != nil {
		return fmt.Errorf("muxer error: failed to stat output segment: %w", err)
	}
	return nil
}
