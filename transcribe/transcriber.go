package transcribe

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/yidakra/livevtt-sub000/log"
	"github.com/yidakra/livevtt-sub000/video"
)

type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// LanguageAuto lets the engine detect the spoken language
const LanguageAuto = "auto"

// Span is one timed text fragment returned by the speech-to-text engine,
// relative to the start of the audio file
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Request carries the per-invocation knobs of the speech-to-text contract
type Request struct {
	Task          Task
	Language      string
	BeamSize      int
	VADFilter     bool
	InitialPrompt string
}

// Engine is the speech-to-text collaborator. Any implementation honoring
// this contract is acceptable: a local model, a remote HTTP server, or a
// stub in tests.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, req Request) ([]Span, error)
}

// Options is the process-wide transcription configuration, loaded once at
// startup and read-only thereafter
type Options struct {
	Tasks          []Task
	SourceLanguage string
	BeamSize       int
	VADFilter      bool
	InitialPrompt  string
	FilterWords    []string
	Vocabulary     map[string][]string
}

// Result holds the cue lists produced for one segment, already shifted onto
// the segment's PTS clock and filtered
type Result struct {
	Original   []video.Cue
	Translated []video.Cue
}

// Stage turns a downloaded segment into cue lists. Engine calls are bounded
// by a weighted semaphore because transcription is CPU/GPU bound; the
// per-segment fan-out above us is much wider than the machine can transcribe.
type Stage struct {
	engine Engine
	prober video.Prober
	opts   Options
	sem    *semaphore.Weighted
}

func NewStage(engine Engine, prober video.Prober, opts Options, parallelJobs int) *Stage {
	if parallelJobs < 1 {
		parallelJobs = 1
	}
	return &Stage{
		engine: engine,
		prober: prober,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(parallelJobs)),
	}
}

// Transcribe probes the segment's audio start time, runs one engine call per
// configured task and returns the filtered cue lists
func (s *Stage) Transcribe(ctx context.Context, segmentURI, segmentPath string) (Result, error) {
	startTime, err := s.prober.AudioStartTime(segmentURI, segmentPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to probe audio start time: %w", err)
	}

	var result Result
	for _, task := range s.opts.Tasks {
		cues, err := s.runTask(ctx, segmentURI, segmentPath, task, startTime)
		if err != nil {
			return Result{}, err
		}
		switch task {
		case TaskTranslate:
			result.Translated = cues
		default:
			result.Original = cues
		}
	}
	return result, nil
}

func (s *Stage) runTask(ctx context.Context, segmentURI, segmentPath string, task Task, startTime float64) ([]video.Cue, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	spans, err := s.engine.Transcribe(ctx, segmentPath, Request{
		Task:          task,
		Language:      s.opts.SourceLanguage,
		BeamSize:      s.opts.BeamSize,
		VADFilter:     s.opts.VADFilter,
		InitialPrompt: s.promptFor(task),
	})
	if err != nil {
		return nil, fmt.Errorf("transcription task %s failed: %w", task, err)
	}

	cues := make([]video.Cue, 0, len(spans))
	for _, span := range spans {
		cue := video.Cue{Start: span.Start, End: span.End, Text: strings.TrimSpace(span.Text)}.Offset(startTime)
		cues = append(cues, cue)
	}
	filtered := FilterCues(cues, s.opts.FilterWords)
	if dropped := len(cues) - len(filtered); dropped > 0 {
		log.Log(segmentURI, "dropped cues matching filter words", "task", string(task), "dropped", dropped)
	}
	return filtered, nil
}

// promptFor picks the vocabulary for the task's output language: the source
// language for plain transcription, English for translation
func (s *Stage) promptFor(task Task) string {
	if s.opts.InitialPrompt != "" {
		return s.opts.InitialPrompt
	}
	lang := s.opts.SourceLanguage
	if task == TaskTranslate {
		lang = "en"
	}
	return BuildInitialPrompt(s.opts.Vocabulary[lang])
}

// BuildInitialPrompt renders the domain-vocabulary hint passed to the
// transcription model
func BuildInitialPrompt(terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = fmt.Sprintf("%q", term)
	}
	return fmt.Sprintf("The following terms may appear in this audio: %s", strings.Join(quoted, ", "))
}

// FilterCues drops any cue whose lower-cased text contains a filter word as
// a substring. Filter words are stored lower-cased at load time.
func FilterCues(cues []video.Cue, filterWords []string) []video.Cue {
	if len(filterWords) == 0 {
		return cues
	}
	kept := make([]video.Cue, 0, len(cues))
	for _, cue := range cues {
		if !containsFilterWord(cue.Text, filterWords) {
			kept = append(kept, cue)
		}
	}
	return kept
}

func containsFilterWord(text string, filterWords []string) bool {
	lowered := strings.ToLower(text)
	for _, word := range filterWords {
		if strings.Contains(lowered, word) {
			return true
		}
	}
	return false
}
