package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type LiveVTTMetrics struct {
	PollCycleDurationSec  prometheus.Histogram
	PollFailureCount      prometheus.Counter
	SegmentsProcessed     *prometheus.CounterVec
	SegmentStageFailures  *prometheus.CounterVec
	TranscribeDurationSec prometheus.Histogram
	CaptionsPosted        prometheus.Counter
	CaptionPostFailures   prometheus.Counter
	LiveWindowSegments    prometheus.Gauge
}

func NewMetrics() *LiveVTTMetrics {
	m := &LiveVTTMetrics{
		PollCycleDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "poll_cycle_duration_seconds",
			Help:    "Time taken by one full poll cycle, excluding the inter-cycle sleep",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		PollFailureCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "poll_failure_count",
			Help: "The total number of upstream playlist polls that failed",
		}),
		SegmentsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "segments_processed_count",
			Help: "The total number of segments run through the pipeline, broken up by result",
		}, []string{"result"}),
		SegmentStageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "segment_stage_failure_count",
			Help: "The total number of per-segment stage failures, broken up by stage",
		}, []string{"stage"}),
		TranscribeDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_duration_seconds",
			Help:    "Time taken to transcribe a segment",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		CaptionsPosted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "captions_posted_count",
			Help: "The total number of cues posted to the captioning endpoint",
		}),
		CaptionPostFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caption_post_failure_count",
			Help: "The total number of caption posts that failed",
		}),
		LiveWindowSegments: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "live_window_segments",
			Help: "Number of segments currently published in the live window",
		}),
	}
	return m
}

var Metrics = NewMetrics()
