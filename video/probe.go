package video

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"
)

type Prober interface {
	AudioStartTime(segmentURI, path string) (float64, error)
}

type Probe struct{}

// AudioStartTime probes a transport-stream segment and returns the start time
// of its audio stream in seconds. Cue offsets are added to this value so the
// WebVTT timestamps line up with the player's PTS clock, discontinuity
// offsets included. Falls back to the container start time when the segment
// has no audio stream.
func (p Probe) AudioStartTime(segmentURI, path string) (float64, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // don't impose a timeout as part of the retries
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3)); err != nil {
		return 0, fmt.Errorf("error probing %s: %w", path, err)
	}

	audioStream := data.FirstAudioStream()
	if audioStream != nil && audioStream.StartTime != "" {
		startTime, err := strconv.ParseFloat(audioStream.StartTime, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing audio start time from probed data: %w", err)
		}
		return startTime, nil
	}
	if data.Format == nil {
		return 0, fmt.Errorf("error parsing probed data for %s: format information missing", path)
	}
	return data.Format.StartTimeSeconds, nil
}
