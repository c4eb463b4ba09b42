package video

import (
	"fmt"
	"math"
	"strings"
)

// Cue is one timestamped subtitle fragment. Start and End are seconds on the
// segment's PTS clock (the probed audio start time already folded in).
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// Offset shifts a cue by the given number of seconds
func (c Cue) Offset(secs float64) Cue {
	return Cue{Start: c.Start + secs, End: c.End + secs, Text: c.Text}
}

// RenderWebVTT renders cues to a WebVTT blob: the WEBVTT header, then per cue
// a counter starting at 1, a `HH:MM:SS.mmm --> HH:MM:SS.mmm` line and the cue
// text. Cues arrive pre-filtered so the numbering is contiguous.
func RenderWebVTT(cues []Cue) []byte {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	for i, cue := range cues {
		sb.WriteString(fmt.Sprintf("%d\n", i+1))
		sb.WriteString(fmt.Sprintf("%s --> %s\n", formatTimestamp(cue.Start, '.'), formatTimestamp(cue.End, '.')))
		sb.WriteString(cue.Text)
		sb.WriteString("\n\n")
	}
	return []byte(sb.String())
}

// RenderSubRip renders cues to SubRip, the intermediate format handed to the
// muxer. Identical to WebVTT apart from the missing header and the comma
// millisecond separator.
func RenderSubRip(cues []Cue) []byte {
	var sb strings.Builder
	for i, cue := range cues {
		sb.WriteString(fmt.Sprintf("%d\n", i+1))
		sb.WriteString(fmt.Sprintf("%s --> %s\n", formatTimestamp(cue.Start, ','), formatTimestamp(cue.End, ',')))
		sb.WriteString(cue.Text)
		sb.WriteString("\n\n")
	}
	return []byte(sb.String())
}

// formatTimestamp folds seconds since the media epoch into HH:MM:SS.mmm with
// hour-modular wrapping, matching the player's clock presentation
func formatTimestamp(secs float64, msSeparator byte) string {
	if secs < 0 {
		secs = 0
	}
	totalMillis := int64(math.Round(secs * 1000))
	millis := totalMillis % 1000
	totalSecs := totalMillis / 1000
	hours := (totalSecs / 3600) % 24
	minutes := (totalSecs / 60) % 60
	seconds := totalSecs % 60
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, seconds, msSeparator, millis)
}
