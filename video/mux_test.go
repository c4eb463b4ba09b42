package video

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func argString(args []string) string {
	return strings.Join(args, " ")
}

func TestBurnCommand(t *testing.T) {
	cmd := BurnCommand("/scratch/in.ts", "/scratch/subs.srt", "/scratch/out.ts")
	args := argString(cmd.Args)

	require.Contains(t, args, "-i /scratch/in.ts")
	require.Contains(t, args, "-vf subtitles=/scratch/subs.srt")
	require.Contains(t, args, "-c:a copy")
	require.Contains(t, args, "-copyts")
	require.Contains(t, args, "-muxpreload 0")
	require.Contains(t, args, "-muxdelay 0")
	require.Contains(t, args, "-f mpegts")
	require.Equal(t, "/scratch/out.ts", cmd.Args[len(cmd.Args)-1])
}

func TestEmbedCommandSingleTrack(t *testing.T) {
	tracks := []SubtitleTrack{{SRTPath: "/scratch/ru.srt", Language: "ru"}}
	cmd := EmbedCommand("/scratch/in.ts", tracks, "/scratch/out.ts")
	args := argString(cmd.Args)

	require.Contains(t, args, "-i /scratch/in.ts")
	require.Contains(t, args, "-i /scratch/ru.srt")
	require.Contains(t, args, "-map 0")
	require.Contains(t, args, "-map 1")
	require.Contains(t, args, "-c:v copy")
	require.Contains(t, args, "-c:a copy")
	require.Contains(t, args, "-c:s cea608")
	require.Contains(t, args, "-metadata:s:s:0 language=rus")
	require.Contains(t, args, "-metadata:s:s:0 title=Russian")
	require.Contains(t, args, "-copyts")
}

func TestEmbedCommandDualTrack(t *testing.T) {
	tracks := []SubtitleTrack{
		{SRTPath: "/scratch/ru.srt", Language: "ru"},
		{SRTPath: "/scratch/en.srt", Language: "en"},
	}
	cmd := EmbedCommand("/scratch/in.ts", tracks, "/scratch/out.ts")
	args := argString(cmd.Args)

	require.Contains(t, args, "-map 0")
	require.Contains(t, args, "-map 1")
	require.Contains(t, args, "-map 2")
	require.Contains(t, args, "-metadata:s:s:0 language=rus")
	require.Contains(t, args, "-metadata:s:s:1 language=eng")
	require.Contains(t, args, "-metadata:s:s:1 title=English")
}

func TestLanguageHelpers(t *testing.T) {
	require.Equal(t, "eng", LanguageISO3("en"))
	require.Equal(t, "rus", LanguageISO3("ru"))
	require.Equal(t, "und", LanguageISO3("not a tag"))

	require.Equal(t, "English", LanguageDisplayName("en"))
	require.Equal(t, "Russian", LanguageDisplayName("ru"))
}
