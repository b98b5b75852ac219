package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Audio capture metrics
	SamplesWritten prometheus.Counter
	BufferSeconds  prometheus.Gauge
	InputStalls    prometheus.Counter

	// Segmentation metrics
	SegmentsDetected *prometheus.CounterVec
	SegmentDuration  prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Session metrics
	SessionsStarted   prometheus.Counter
	SessionsCompleted *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		SamplesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rejoice_audio_samples_written_total",
			Help: "Total number of audio samples written to the ring buffer",
		}),
		BufferSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rejoice_audio_buffer_seconds",
			Help: "Seconds of audio currently available in the ring buffer",
		}),
		InputStalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rejoice_audio_input_stalls_total",
			Help: "Times the audio input stopped producing samples mid-session",
		}),
		SegmentsDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rejoice_segments_detected_total",
			Help: "Segments detected by boundary reason",
		}, []string{"reason"}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rejoice_segment_duration_seconds",
			Help:    "Duration of detected audio segments",
			Buckets: []float64{5, 15, 30, 45, 60, 75, 90, 120},
		}),
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rejoice_transcription_requests_total",
			Help: "Total transcription requests sent to the backend",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rejoice_transcription_successes_total",
			Help: "Transcription requests that returned text",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rejoice_transcription_failures_total",
			Help: "Transcription requests that failed",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rejoice_transcription_duration_seconds",
			Help:    "Latency of transcription backend calls",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rejoice_sessions_started_total",
			Help: "Recording sessions started",
		}),
		SessionsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rejoice_sessions_completed_total",
			Help: "Recording sessions finished by outcome",
		}, []string{"outcome"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rejoice_session_duration_seconds",
			Help:    "Wall clock duration of recording sessions",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
	}
}
