// Package metrics wires per-call latency/cost observations into
// prometheus histograms and counters, and accumulates a per-session cost
// and usage summary for the call-log-sink report, grounded in
// mbaxamb33-yuzu.agent.webrtc.toy's internal/orchestrator/metrics.go
// (promauto histograms/counters with exponential-bucket latency
// distributions).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cost model defaults, spec.md §6. Expressed as dollars per unit.
const (
	CostSTTPerMinute        = 0.0043
	CostLLMInputPerMillion  = 0.15
	CostLLMOutputPerMillion = 0.60
	CostTTSPerMillionChars  = 30.0
)

var (
	sttLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callrelay_stt_latency_seconds",
		Help:    "STT batch transcription latency",
		Buckets: prometheus.ExponentialBuckets(0.05, 1.6, 10),
	})
	llmFirstTokenLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callrelay_llm_first_token_latency_seconds",
		Help:    "Latency from LLM request to the early-start sentence prefix",
		Buckets: prometheus.ExponentialBuckets(0.05, 1.6, 10),
	})
	ttsFirstChunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callrelay_tts_first_chunk_latency_seconds",
		Help:    "Latency from TTS request to first audio chunk",
		Buckets: prometheus.ExponentialBuckets(0.05, 1.6, 10),
	})
	turnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callrelay_turns_total",
		Help: "Total completed turns, including greetings",
	})
	bargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callrelay_barge_ins_total",
		Help: "Total barge-in cancellations",
	})
	costTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callrelay_estimated_cost_dollars_total",
		Help: "Running estimated provider cost across all calls",
	})
)

// Recorder accumulates one call's usage and latency samples while also
// feeding the process-wide prometheus collectors above. One Recorder is
// created per session.
type Recorder struct {
	mu sync.Mutex

	turnsCount      int
	sttSeconds      float64
	llmInputTokens  int
	llmOutputTokens int
	ttsCharacters   int
	framesReceived  int
	framesVoiced    int

	sttLatencies []float64
	llmLatencies []float64
	ttsLatencies []float64
}

// New creates a Recorder for a single call.
func New() *Recorder {
	return &Recorder{}
}

// ObserveSTTLatency records one STT round trip's latency in seconds.
func (r *Recorder) ObserveSTTLatency(seconds float64) {
	sttLatency.Observe(seconds)
	r.mu.Lock()
	r.sttLatencies = append(r.sttLatencies, seconds)
	r.mu.Unlock()
}

// ObserveLLMFirstTokenLatency records one LLM latency sample. The pipeline
// reports the time from the LLM request to the early-start sentence prefix
// (see pipeline.FindEarlyStart); a turn whose reply has no qualifying
// prefix reports no sample.
func (r *Recorder) ObserveLLMFirstTokenLatency(seconds float64) {
	llmFirstTokenLatency.Observe(seconds)
	r.mu.Lock()
	r.llmLatencies = append(r.llmLatencies, seconds)
	r.mu.Unlock()
}

// ObserveTTSFirstChunkLatency records the time to the first TTS audio
// chunk.
func (r *Recorder) ObserveTTSFirstChunkLatency(seconds float64) {
	ttsFirstChunkLatency.Observe(seconds)
	r.mu.Lock()
	r.ttsLatencies = append(r.ttsLatencies, seconds)
	r.mu.Unlock()
}

// AddCost accumulates one turn's provider usage toward the call total.
func (r *Recorder) AddCost(sttSeconds float64, llmInputTokens, llmOutputTokens int, ttsCharacters int) {
	cost := estimateCost(sttSeconds, llmInputTokens, llmOutputTokens, ttsCharacters)
	costTotal.Add(cost)
	turnsTotal.Inc()

	r.mu.Lock()
	r.turnsCount++
	r.sttSeconds += sttSeconds
	r.llmInputTokens += llmInputTokens
	r.llmOutputTokens += llmOutputTokens
	r.ttsCharacters += ttsCharacters
	r.mu.Unlock()
}

// RecordBargeIn notes one barge-in cancellation.
func (r *Recorder) RecordBargeIn() {
	bargeInsTotal.Inc()
}

// RecordFrames accumulates the frame/voiced counters from a turn
// segmenter's Stats() for the call's voice-activity-percent summary.
func (r *Recorder) RecordFrames(received, voiced int) {
	r.mu.Lock()
	r.framesReceived += received
	r.framesVoiced += voiced
	r.mu.Unlock()
}

func estimateCost(sttSeconds float64, llmInputTokens, llmOutputTokens, ttsCharacters int) float64 {
	sttCost := (sttSeconds / 60) * CostSTTPerMinute
	llmInCost := (float64(llmInputTokens) / 1_000_000) * CostLLMInputPerMillion
	llmOutCost := (float64(llmOutputTokens) / 1_000_000) * CostLLMOutputPerMillion
	ttsCost := (float64(ttsCharacters) / 1_000_000) * CostTTSPerMillionChars
	return sttCost + llmInCost + llmOutCost + ttsCost
}

// Summary is the set of values Finalize reduces a Recorder's
// accumulated observations down to.
type Summary struct {
	TurnsCount           int
	STTDurationSec       float64
	LLMInputTokens       int
	LLMOutputTokens      int
	TTSCharacters        int
	EstimatedCost        float64
	VoiceActivityPercent float64
	AvgLatencySTTMs      float64
	AvgLatencyLLMMs      float64
	AvgLatencyTTSMs      float64
}

// Finalize reduces all of this call's observations into the usage
// summary the call-log-sink report carries.
func (r *Recorder) Finalize() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	voicePercent := 0.0
	if r.framesReceived > 0 {
		voicePercent = 100 * float64(r.framesVoiced) / float64(r.framesReceived)
	}

	return Summary{
		TurnsCount:           r.turnsCount,
		STTDurationSec:       r.sttSeconds,
		LLMInputTokens:       r.llmInputTokens,
		LLMOutputTokens:      r.llmOutputTokens,
		TTSCharacters:        r.ttsCharacters,
		EstimatedCost:        estimateCost(r.sttSeconds, r.llmInputTokens, r.llmOutputTokens, r.ttsCharacters),
		VoiceActivityPercent: voicePercent,
		AvgLatencySTTMs:      avgMs(r.sttLatencies),
		AvgLatencyLLMMs:      avgMs(r.llmLatencies),
		AvgLatencyTTSMs:      avgMs(r.ttsLatencies),
	}
}

func avgMs(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return (sum / float64(len(samples))) * float64(time.Second/time.Millisecond)
}
