package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/yidakra/livevtt-sub000/api"
	"github.com/yidakra/livevtt-sub000/clients"
	"github.com/yidakra/livevtt-sub000/config"
	"github.com/yidakra/livevtt-sub000/log"
	"github.com/yidakra/livevtt-sub000/metrics"
	"github.com/yidakra/livevtt-sub000/pipeline"
	"github.com/yidakra/livevtt-sub000/pprof"
	"github.com/yidakra/livevtt-sub000/store"
	"github.com/yidakra/livevtt-sub000/transcribe"
	"github.com/yidakra/livevtt-sub000/video"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("livevtt", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8080", "Address to bind for HTTP playlist and segment serving")
	fs.IntVar(&cli.PromPort, "prom-port", 2112, "Prometheus metrics listen port")
	pprofPort := fs.Int("pprof-port", 6061, "Pprof listen port")

	// upstream parameters
	config.URLVarFlag(fs, &cli.UpstreamURL, "url", "", "URL of the upstream HLS playlist (master or media) to re-transcribe")
	fs.StringVar(&cli.UserAgent, "user-agent", "livevtt/1.0", "User-Agent header sent on upstream requests")
	fs.IntVar(&config.TargetBufferSecs, "target-buffer-secs", 60, "Desired length of the served live window in seconds")
	fs.IntVar(&config.MaxTargetBufferSecs, "max-target-buffer-secs", 120, "Trim the upstream window once it exceeds this many seconds")

	// transcription parameters
	fs.StringVar(&cli.Task, "task", "translate", "Speech-to-text task to run: transcribe, translate or both")
	fs.StringVar(&cli.SourceLanguage, "language", transcribe.LanguageAuto, "Source language of the stream's audio, or auto to let the engine detect it")
	fs.IntVar(&cli.BeamSize, "beam-size", 5, "Beam size passed to the speech-to-text engine")
	fs.BoolVar(&cli.VADFilter, "vad-filter", false, "Enable voice-activity detection in the speech-to-text engine")
	fs.StringVar(&cli.InitialPrompt, "initial-prompt", "", "Initial prompt passed to the speech-to-text engine, overrides the vocabulary blob")
	config.URLVarFlag(fs, &cli.TranscriberURL, "transcriber-url", "http://127.0.0.1:9090", "Base URL of the speech-to-text server; the /v1/audio/transcriptions route is resolved against it")
	fs.IntVar(&config.ParallelTranscribeJobs, "parallel-transcribe-jobs", 2, "Number of parallel transcription jobs")
	fs.StringVar(&cli.FilterWordsPath, "filter-words", "", "Path to a JSON/YAML blob of words whose cues are dropped")
	fs.StringVar(&cli.VocabularyPath, "vocabulary", "", "Path to a JSON/YAML blob of per-language custom vocabulary")

	// post-processing parameters
	fs.StringVar(&cli.PostProcess, "post-process", string(pipeline.ModeSidecar), "How subtitles reach the player: sidecar, burn or embed")
	fs.IntVar(&cli.MuxerTimeoutSecs, "muxer-timeout-secs", 60, "Maximum seconds a single ffmpeg invocation may run")

	// caption dispatch parameters
	config.URLVarFlag(fs, &cli.CaptionURL, "caption-url", "", "Base URL of a streaming server captioning endpoint to push cues to")
	fs.StringVar(&cli.CaptionAuthUser, "caption-auth-user", "", "Basic auth username for the captioning endpoint")
	fs.StringVar(&cli.CaptionAuthPass, "caption-auth-pass", "", "Basic auth password for the captioning endpoint")
	config.URLVarFlag(fs, &cli.PublishURL, "publish-url", "", "Publishing URL whose last path element names the stream on the captioning endpoint")

	// special parameters
	verbosity := fs.String("v", "", "Log verbosity.  {4|5|6}")
	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("LIVEVTT"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("livevtt version: %s\n", config.Version)
		return
	}

	if *verbosity != "" {
		err = vFlag.Value.Set(*verbosity)
		if err != nil {
			glog.Fatal(err)
		}
	}

	go func() {
		log.LogNoSegment("pprof listener exited", "err", pprof.ListenAndServe(*pprofPort))
	}()

	if cli.UpstreamURL == nil {
		glog.Fatal("missing required -url flag pointing at the upstream HLS playlist")
	}
	if cli.TranscriberURL == nil {
		glog.Fatal("missing -transcriber-url flag pointing at the speech-to-text server")
	}
	tasks, err := parseTasks(cli.Task)
	if err != nil {
		glog.Fatal(err)
	}
	mode := pipeline.Mode(cli.PostProcess)
	if !mode.IsValid() {
		glog.Fatalf("invalid -post-process mode %q, must be one of sidecar, burn or embed", cli.PostProcess)
	}
	for _, binary := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(binary); err != nil {
			glog.Fatalf("could not find %s on PATH, it is required to run livevtt: %s", binary, err)
		}
	}

	filterWords, err := config.LoadFilterWords(cli.FilterWordsPath)
	if err != nil {
		glog.Fatalf("error loading filter words: %s", err)
	}
	vocabulary, err := config.LoadVocabulary(cli.VocabularyPath)
	if err != nil {
		glog.Fatalf("error loading vocabulary: %s", err)
	}

	// Initialize root context; cancelling this prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	follower := clients.NewFollower(cli.UpstreamURL, cli.UserAgent)
	if err := follower.Start(ctx); err != nil {
		glog.Fatalf("error resolving upstream playlist: %s", err)
	}

	scratchDir, err := os.MkdirTemp("", "livevtt-*")
	if err != nil {
		glog.Fatalf("error creating scratch directory: %s", err)
	}
	defer os.RemoveAll(scratchDir)

	manifests := store.NewManifestStore()
	artifacts := store.NewArtifactStore()
	defer artifacts.Close()

	stage := transcribe.NewStage(
		transcribe.NewRemoteEngine(cli.TranscriberURL),
		video.Probe{},
		transcribe.Options{
			Tasks:          tasks,
			SourceLanguage: cli.SourceLanguage,
			BeamSize:       cli.BeamSize,
			VADFilter:      cli.VADFilter,
			InitialPrompt:  cli.InitialPrompt,
			FilterWords:    filterWords,
			Vocabulary:     vocabulary,
		},
		config.ParallelTranscribeJobs,
	)

	var captions pipeline.CaptionDispatcher
	if cli.CaptionURL != nil {
		captions = clients.NewCaptionClient(cli.CaptionURL, cli.CaptionAuthUser, cli.CaptionAuthPass, cli.StreamName())
	}

	coordinator, err := pipeline.NewCoordinator(
		follower,
		clients.NewSegmentDownloader(scratchDir, cli.UserAgent),
		stage,
		mode,
		tasks,
		cli.SourceLanguage,
		video.Muxer{Timeout: time.Duration(cli.MuxerTimeoutSecs) * time.Second},
		captions,
		artifacts,
		manifests,
	)
	if err != nil {
		// glog.Fatalf exits without running deferred cleanup
		os.RemoveAll(scratchDir)
		glog.Fatalf("error creating pipeline coordinator: %s", err)
	}
	manifests.Put(store.SlotMaster, coordinator.MasterPlaylist(follower.VariantBandwidth))

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli.HTTPAddress, manifests, artifacts)
	})

	group.Go(func() error {
		return metrics.ListenAndServe(ctx, cli.PromPort)
	})

	group.Go(func() error {
		return coordinator.Run(ctx)
	})

	err = group.Wait()
	log.LogNoSegment("Shutdown complete", "reason", err)
}

func parseTasks(task string) ([]transcribe.Task, error) {
	switch strings.ToLower(task) {
	case "transcribe":
		return []transcribe.Task{transcribe.TaskTranscribe}, nil
	case "translate":
		return []transcribe.Task{transcribe.TaskTranslate}, nil
	case "both":
		return []transcribe.Task{transcribe.TaskTranscribe, transcribe.TaskTranslate}, nil
	default:
		return nil, fmt.Errorf("invalid -task %q, must be one of transcribe, translate or both", task)
	}
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
