package config

var Version string

// Desired length of the republished live window, in seconds
var TargetBufferSecs = 60

// Hard cap on the live window; the follower trims back down to
// TargetBufferSecs once the upstream playlist grows past this
var MaxTargetBufferSecs = 120

// Poll interval fallback when the upstream playlist carries no target duration
const DefaultPollIntervalSecs = 10

// Number of transcription jobs allowed to run at once. Transcription is
// CPU/GPU bound so this stays well below the segment fan-out
var ParallelTranscribeJobs = 2
