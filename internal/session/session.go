// Package session owns one call's lifecycle end to end: decoding carrier
// frames, feeding decoded PCM through the turn segmenter, dispatching
// finished turns into the pipeline orchestrator, and re-encoding the
// pipeline's audio output back into carrier frames. Generalized from the
// teacher's pkg/orchestrator/managed_stream.go Write method — a
// per-frame dispatch loop originally written against a local-microphone
// VAD consumer, adapted here to a carrier-WebSocket consumer with no
// acoustic echo path (playback and capture are independent digital
// streams, not a shared room with a speaker and microphone).
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/callrelay-engine/internal/clients"
	"github.com/lokutor-ai/callrelay-engine/internal/codec"
	"github.com/lokutor-ai/callrelay-engine/internal/frame"
	"github.com/lokutor-ai/callrelay-engine/internal/logging"
	"github.com/lokutor-ai/callrelay-engine/internal/metrics"
	"github.com/lokutor-ai/callrelay-engine/internal/pipeline"
	"github.com/lokutor-ai/callrelay-engine/internal/playback"
	"github.com/lokutor-ai/callrelay-engine/internal/prompt"
	"github.com/lokutor-ai/callrelay-engine/internal/providers/llm"
	"github.com/lokutor-ai/callrelay-engine/internal/turn"
)

// bargeInThresholdDb is the energy floor a frame must cross, while the
// assistant is speaking, to count as a barge-in attempt rather than
// ambient noise or tail-end echo of the carrier's own jitter buffer
// draining — spec.md §4.6 sets this a few dB above the ordinary turn
// detection threshold.
const bargeInThresholdDb = -35

// Config bundles everything a Session needs, mirroring the fields on
// spec.md's AgentConfig.
type Config struct {
	CallID             string
	AgentID            string
	SystemPrompt       string
	Greeting           string
	SilenceThresholdDb float64
	SilenceDurationMs  int
	PrefixPaddingMs    int
}

// Session runs one call from connect to hangup.
type Session struct {
	cfg      Config
	provider frame.Provider
	streamID string

	segmenter *turn.Segmenter
	gate      playback.Gate
	pipeline  *pipeline.Pipeline
	llmSmall  pipeline.LLMProvider
	llmLarge  pipeline.LLMProvider
	recorder  *metrics.Recorder
	logger    logging.Logger

	history           []pipeline.Message
	turnCount         int
	assistantSpeaking bool
	startedAt         time.Time
	processing        atomic.Bool

	send func([]byte) error
}

// New builds a Session. send delivers an outbound raw WebSocket frame to
// the carrier.
func New(cfg Config, p *pipeline.Pipeline, rec *metrics.Recorder, logger logging.Logger, send func([]byte) error) *Session {
	if rec == nil {
		rec = metrics.New()
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	s := &Session{
		cfg:       cfg,
		segmenter: turn.New(cfg.SilenceThresholdDb, cfg.SilenceDurationMs, cfg.PrefixPaddingMs),
		pipeline:  p,
		llmSmall:  p.LLM,
		recorder:  rec,
		logger:    logger.With("call_id", cfg.CallID, "agent_id", cfg.AgentID),
		send:      send,
	}
	if cfg.SystemPrompt != "" {
		s.history = append(s.history, pipeline.Message{Role: "system", Content: prompt.Optimize(cfg.SystemPrompt)})
	}
	return s
}

// SetLargeLLM registers the higher-capability LLM tier. When set, runTurn
// switches the pipeline to it for calls whose optimized system prompt
// exceeds the small tier's character budget, per spec.md §4.5.
func (s *Session) SetLargeLLM(l pipeline.LLMProvider) {
	s.llmLarge = l
}

// HandleRaw processes one raw inbound WebSocket message from the
// carrier. The connection's provider is auto-detected from the first
// "start" frame and held for the lifetime of the call.
func (s *Session) HandleRaw(ctx context.Context, raw []byte) error {
	if s.provider == "" {
		provider, err := frame.Detect(raw)
		if err != nil {
			return fmt.Errorf("session: detect provider: %w", err)
		}
		s.provider = provider
	}

	f, err := frame.Decode(s.provider, raw)
	if err != nil {
		return fmt.Errorf("session: decode frame: %w", err)
	}

	switch f.Event {
	case frame.EventStart:
		s.streamID = f.StreamID
		s.startedAt = time.Now()
		s.logger.Info("call started", "stream_id", s.streamID)
		if s.cfg.Greeting != "" {
			return s.speak(ctx, s.cfg.Greeting)
		}
		return nil

	case frame.EventMedia:
		return s.handleMedia(ctx, f.PayloadB64)

	case frame.EventStop:
		s.logger.Info("call stopped", "stream_id", s.streamID)
		s.gate.EndCall()
		return nil

	default:
		return nil
	}
}

func (s *Session) handleMedia(ctx context.Context, payloadB64 string) error {
	raw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return fmt.Errorf("session: decode media payload: %w", err)
	}
	pcm := codec.Decode(raw)

	wasSpeaking := s.segmenter.IsSpeaking()
	db := codec.RMSDb(pcm)

	if s.assistantSpeaking && !wasSpeaking && db >= bargeInThresholdDb {
		s.bargeIn(ctx)
	}

	finishedTurn := s.segmenter.Process(pcm, time.Now())
	if finishedTurn == nil {
		return nil
	}

	stats := s.segmenter.Stats()
	s.recorder.RecordFrames(stats.FramesReceived, stats.FramesVoiced)

	if !s.processing.CompareAndSwap(false, true) {
		s.logger.Warn("dropping turn: orchestrator busy with a prior turn")
		return nil
	}

	s.turnCount++
	token := s.gate.Capture()
	go s.runTurn(ctx, finishedTurn.PCM, token)
	return nil
}

func (s *Session) bargeIn(ctx context.Context) {
	s.gate.Increment()
	s.recorder.RecordBargeIn()
	s.assistantSpeaking = false
	if clearFrame, err := frame.EncodeClear(s.provider, s.streamID); err == nil {
		_ = s.send(clearFrame)
	}
	s.logger.Info("barge-in detected")
}

func (s *Session) runTurn(ctx context.Context, pcm []int16, token int64) {
	defer s.processing.Store(false)

	s.selectModelTier()

	history := append([]pipeline.Message{}, s.history...)
	if flowState := prompt.FlowState(s.turnCount, s.lastUserMessage()); flowState != "" {
		history = append(history, pipeline.Message{Role: "system", Content: flowState})
	}

	onTranscript := func(transcript string) bool {
		if !s.gate.StillValid(token) {
			return false
		}
		s.history = append(s.history, pipeline.Message{Role: "user", Content: transcript})
		return true
	}

	onAudio := func(chunk []byte) error {
		if !s.gate.StillValid(token) {
			return context.Canceled
		}
		payload := base64.StdEncoding.EncodeToString(chunk)
		out, err := frame.EncodeMedia(s.provider, s.streamID, payload)
		if err != nil {
			return err
		}
		return s.send(out)
	}

	s.assistantSpeaking = true
	response, err := s.pipeline.Run(ctx, pcm, history, &s.gate, token, onTranscript, onAudio)
	s.assistantSpeaking = false

	// response is non-empty as soon as the LLM stage itself completed, even
	// if a later barge-in cancelled the TTS/remainder playback that follows
	// it — so the append below must not be gated on s.gate.StillValid(token)
	// again, or a reply that was fully generated (just not fully spoken)
	// would vanish from history (spec.md §3: history never shrinks).
	if err != nil {
		s.logger.Error("turn failed", "error", err)
	}
	if response == "" {
		return
	}
	s.history = append(s.history, pipeline.Message{Role: "assistant", Content: response})
}

// speak synthesizes and plays a fixed line of text directly through TTS,
// bypassing STT and the LLM entirely — used for the call-opening
// greeting, which has no preceding user turn to transcribe or respond
// to.
func (s *Session) speak(ctx context.Context, text string) error {
	token := s.gate.Capture()
	s.assistantSpeaking = true
	defer func() { s.assistantSpeaking = false }()

	// Recorded and appended to history unconditionally, before playback
	// starts: a barge-in mid-greeting must still leave the greeting in the
	// transcript (spec.md §8 Scenario 3) and still count as a turn (spec.md
	// §8 Scenarios 1-2), independent of whether it finished playing.
	s.history = append(s.history, pipeline.Message{Role: "assistant", Content: text})
	s.recorder.AddCost(0, 0, 0, len(text))

	err := s.pipeline.TTS.StreamSynthesize(ctx, text, func(chunk []byte) error {
		if !s.gate.StillValid(token) {
			return context.Canceled
		}
		payload := base64.StdEncoding.EncodeToString(chunk)
		out, encErr := frame.EncodeMedia(s.provider, s.streamID, payload)
		if encErr != nil {
			return encErr
		}
		return s.send(out)
	})
	if err != nil && s.gate.StillValid(token) {
		return err
	}
	return nil
}

// selectModelTier swaps the pipeline's LLM between the small and large
// tier based on the optimized system prompt's length, per spec.md §4.5.
// A no-op when no large tier was registered.
func (s *Session) selectModelTier() {
	if s.llmLarge == nil {
		return
	}
	promptChars := 0
	if len(s.history) > 0 && s.history[0].Role == "system" {
		promptChars = len(s.history[0].Content)
	}
	if llm.SelectTier(promptChars) {
		s.pipeline.LLM = s.llmSmall
	} else {
		s.pipeline.LLM = s.llmLarge
	}
}

// lastUserMessage returns the most recent user-role message recorded in
// this call's history, or "" if the user hasn't spoken yet.
func (s *Session) lastUserMessage() string {
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == "user" {
			return s.history[i].Content
		}
	}
	return ""
}

// drainTimeout bounds how long Finalize waits for an in-flight turn to
// finish before reading history, so an abrupt disconnect can never race
// Finalize's read against runTurn's append.
const drainTimeout = 5 * time.Second

// waitIdle blocks until no turn is being processed, or until drainTimeout
// elapses. history is only ever mutated from runTurn (or speak, which
// always completes before any turn starts), so this keeps Finalize's read
// of history single-task the way spec.md's session model assumes.
func (s *Session) waitIdle() {
	deadline := time.Now().Add(drainTimeout)
	for s.processing.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// Finalize ends the call and returns the usage summary for the call log
// sink.
func (s *Session) Finalize() clients.CallLogReport {
	s.gate.EndCall()
	s.waitIdle()
	summary := s.recorder.Finalize()

	transcript := ""
	for _, m := range s.history {
		if m.Role == "system" {
			continue
		}
		transcript += m.Role + ": " + m.Content + "\n"
	}

	duration := 0.0
	if !s.startedAt.IsZero() {
		duration = time.Since(s.startedAt).Seconds()
	}

	return clients.CallLogReport{
		CallLogID:       s.cfg.CallID,
		DurationSeconds: duration,
		Transcript:      transcript,
		Status:          "completed",
		EndedAt:         time.Now().UTC().Format(time.RFC3339),
		Usage: clients.UsageReport{
			TurnsCount:           summary.TurnsCount,
			STTDurationSec:       summary.STTDurationSec,
			LLMInputTokens:       summary.LLMInputTokens,
			LLMOutputTokens:      summary.LLMOutputTokens,
			TTSCharacters:        summary.TTSCharacters,
			EstimatedCost:        summary.EstimatedCost,
			VoiceActivityPercent: summary.VoiceActivityPercent,
			AvgLatencySTTMs:      summary.AvgLatencySTTMs,
			AvgLatencyLLMMs:      summary.AvgLatencyLLMMs,
			AvgLatencyTTSMs:      summary.AvgLatencyTTSMs,
		},
	}
}
