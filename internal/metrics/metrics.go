package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client pipeline.
var (
	SpeechOnsets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_speech_onsets_total",
		Help: "Utterances whose energy crossed the speech threshold",
	})

	UtteranceCommits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_utterance_commits_total",
		Help: "Utterance commits emitted after a silence window",
	})

	CaptureErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_capture_errors_total",
		Help: "Fatal microphone capture failures",
	})

	Interrupts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interrupts_total",
		Help: "Barge-in interrupts by trigger",
	}, []string{"trigger"})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_state_transitions_total",
		Help: "Interaction state transitions",
	}, []string{"from", "to"})

	ChannelFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_channel_frames_total",
		Help: "Websocket frames by channel, direction and kind",
	}, []string{"channel", "direction", "kind"})

	ChannelErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_channel_errors_total",
		Help: "Channel errors by channel and kind",
	}, []string{"channel", "kind"})

	ChunksEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_chunks_enqueued_total",
		Help: "Audio chunks handed to the playback scheduler",
	})

	ChunksPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_chunks_played_total",
		Help: "Audio chunks that started playing",
	})

	ChunksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_chunks_dropped_total",
		Help: "Audio chunks discarded before or during playback",
	}, []string{"reason"})

	PlaybackQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playback_queue_depth",
		Help: "Chunks waiting behind the one currently playing",
	})

	PlaybackLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playback_level",
		Help: "Latest sampled playback level (0-255)",
	})
)

// Reference gateway.
var (
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_sessions_active",
		Help: "Currently open websocket sessions",
	}, []string{"endpoint"})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sessions_total",
		Help: "Total websocket sessions accepted",
	}, []string{"endpoint"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	FirstAudioDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_first_audio_seconds",
		Help:    "Latency from user message to first audio frame",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	AudioFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audio_frames_total",
		Help: "Audio frames received on transcription sockets",
	})

	TurnsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_turns_cancelled_total",
		Help: "Generation turns cancelled before completion",
	}, []string{"reason"})

	ASRNoiseFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_asr_noise_filtered_total",
		Help: "Transcripts dropped by the noise filter",
	})
)
