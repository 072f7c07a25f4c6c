package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/callrelay-engine/internal/playback"
)

const ttsPacketBytes = 160 // 20ms of mu-law@8kHz

// Recorder receives latency and cost observations as the pipeline runs.
// Implemented by internal/metrics.Recorder; kept as a narrow interface
// here so pipeline has no dependency on the prometheus client.
type Recorder interface {
	ObserveSTTLatency(seconds float64)
	ObserveLLMFirstTokenLatency(seconds float64)
	ObserveTTSFirstChunkLatency(seconds float64)
	AddCost(sttSeconds float64, llmInputTokens, llmOutputTokens int, ttsCharacters int)
}

// noopRecorder discards all observations, used when the caller has no
// metrics.Recorder to hand the pipeline (e.g. unit tests).
type noopRecorder struct{}

func (noopRecorder) ObserveSTTLatency(float64)           {}
func (noopRecorder) ObserveLLMFirstTokenLatency(float64) {}
func (noopRecorder) ObserveTTSFirstChunkLatency(float64) {}
func (noopRecorder) AddCost(float64, int, int, int)      {}

// Pipeline runs a single turn through STT, the LLM, and TTS.
type Pipeline struct {
	STT      STTProvider
	LLM      LLMProvider
	TTS      TTSProvider
	Recorder Recorder
}

// New builds a Pipeline. rec may be nil, in which case observations are
// discarded.
func New(stt STTProvider, llm LLMProvider, tts TTSProvider, rec Recorder) *Pipeline {
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Pipeline{STT: stt, LLM: llm, TTS: tts, Recorder: rec}
}

// Run transcribes pcm, streams a completion from history+transcript, and
// plays it back over two TTS calls: an early-start call on the first
// qualifying sentence prefix (see FindEarlyStart), fired at most once and
// run concurrently with continued LLM decoding, followed by a single
// remainder call for whatever text the LLM produced after that prefix.
// 160-byte repacketized μ-law chunks are delivered to onAudio throughout.
// Every audio emission is gated by gate.StillValid(token): once
// invalidated (barge-in or call end) Run stops emitting immediately.
//
// The returned assistantText is non-empty as soon as the LLM stage itself
// completes, independent of whether the TTS playback that follows it is
// later cut short by a barge-in — callers that record conversation history
// should key off assistantText, not off err or the gate's state after Run
// returns.
//
// onTranscript is invoked once the STT result is known, letting the caller
// append it to session history and decide whether to proceed at all
// (returning false from onTranscript aborts the turn without calling the
// LLM).
func (p *Pipeline) Run(
	ctx context.Context,
	pcm []int16,
	history []Message,
	gate *playback.Gate,
	token int64,
	onTranscript func(transcript string) (proceed bool),
	onAudio func([]byte) error,
) (assistantText string, err error) {
	sttStart := time.Now()
	transcript, err := p.STT.Transcribe(ctx, pcm)
	p.Recorder.ObserveSTTLatency(time.Since(sttStart).Seconds())
	if err != nil {
		return "", fmt.Errorf("stt transcribe: %w", err)
	}
	if !gate.StillValid(token) {
		return "", nil
	}

	if onTranscript != nil && !onTranscript(transcript) {
		return "", nil
	}

	messages := append(append([]Message{}, history...), Message{Role: "user", Content: transcript})

	g, gctx := errgroup.WithContext(ctx)

	var fullResponse string
	var firstSpoken string
	earlyCh := make(chan string, 1)
	llmDone := make(chan struct{})
	llmStart := time.Now()
	var firstTokenOnce sync.Once

	g.Go(func() error {
		defer close(llmDone)
		defer close(earlyCh)
		full, err := p.LLM.StreamComplete(gctx, messages, func(prefix string) error {
			firstTokenOnce.Do(func() {
				p.Recorder.ObserveLLMFirstTokenLatency(time.Since(llmStart).Seconds())
			})
			if !gate.StillValid(token) {
				return context.Canceled
			}
			firstSpoken = prefix
			select {
			case earlyCh <- prefix:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		if err != nil {
			return fmt.Errorf("llm stream: %w", err)
		}
		fullResponse = full
		return nil
	})

	var ttsCharacters int
	g.Go(func() error {
		packetizer := &repacketizer{buf: new(bytes.Buffer)}
		var ttsStart time.Time
		var ttsFirstChunkOnce sync.Once

		speak := func(text string) error {
			if text == "" || !gate.StillValid(token) {
				return nil
			}
			if ttsStart.IsZero() {
				ttsStart = time.Now()
			}
			ttsCharacters += len(text)
			return p.TTS.StreamSynthesize(gctx, text, func(chunk []byte) error {
				ttsFirstChunkOnce.Do(func() {
					p.Recorder.ObserveTTSFirstChunkLatency(time.Since(ttsStart).Seconds())
				})
				if !gate.StillValid(token) {
					return context.Canceled
				}
				return packetizer.feed(chunk, onAudio)
			})
		}

		if prefix, ok := <-earlyCh; ok {
			if err := speak(prefix); err != nil {
				if !gate.StillValid(token) {
					return nil
				}
				return fmt.Errorf("tts synthesize: %w", err)
			}
		}

		<-llmDone
		if !gate.StillValid(token) {
			return nil
		}

		// Gated on fullResponse actually starting with what was already
		// spoken: if it doesn't (the LLM stage errored before producing a
		// consistent continuation), there is nothing safe to say for the
		// remainder.
		remainder := fullResponse
		if firstSpoken != "" {
			if !strings.HasPrefix(fullResponse, firstSpoken) {
				remainder = ""
			} else {
				remainder = strings.TrimSpace(fullResponse[len(firstSpoken):])
			}
		}
		if err := speak(remainder); err != nil {
			if !gate.StillValid(token) {
				return nil
			}
			return fmt.Errorf("tts synthesize: %w", err)
		}

		if !gate.StillValid(token) {
			return nil
		}
		return packetizer.flush(onAudio)
	})

	ttsErr := g.Wait()

	if fullResponse == "" {
		if !gate.StillValid(token) {
			return "", nil
		}
		return "", ttsErr
	}

	sttSeconds := float64(len(pcm)) / 8000
	inputTokens := estimateTokens(messages)
	outputTokens := estimateTokenCount(len(fullResponse))
	p.Recorder.AddCost(sttSeconds, inputTokens, outputTokens, ttsCharacters)

	if ttsErr != nil && gate.StillValid(token) {
		return fullResponse, ttsErr
	}
	return fullResponse, nil
}

// estimateTokens approximates the input token count of a message history
// using the common ~4-characters-per-token heuristic, since exact token
// counts require a model-specific tokenizer this pipeline does not carry.
func estimateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return estimateTokenCount(chars)
}

func estimateTokenCount(chars int) int {
	if chars == 0 {
		return 0
	}
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}

// repacketizer rebuffers arbitrarily-sized TTS chunks into fixed 160-byte
// (20ms @ 8kHz mu-law) packets before emission, since carriers expect a
// steady frame cadence rather than provider-sized bursts.
type repacketizer struct {
	buf *bytes.Buffer
}

func (r *repacketizer) feed(chunk []byte, onAudio func([]byte) error) error {
	r.buf.Write(chunk)
	for r.buf.Len() >= ttsPacketBytes {
		packet := make([]byte, ttsPacketBytes)
		r.buf.Read(packet)
		if err := onAudio(packet); err != nil {
			return err
		}
	}
	return nil
}

func (r *repacketizer) flush(onAudio func([]byte) error) error {
	if r.buf.Len() == 0 {
		return nil
	}
	tail := make([]byte, r.buf.Len())
	r.buf.Read(tail)
	return onAudio(tail)
}

// minEarlyStartIndex and minEarlyStartRunes are the early-start gate: a
// terminator must sit at rune index >= minEarlyStartIndex, and the trimmed
// prefix up to and including it must be at least minEarlyStartRunes long,
// before it's worth paying for a separate TTS call on it.
const (
	minEarlyStartIndex = 10
	minEarlyStartRunes = 20
)

// FindEarlyStart scans the accumulated reply text for the first sentence
// boundary that qualifies for early-start TTS. It is re-run by LLM provider
// implementations against the growing response as tokens arrive; callers
// are responsible for firing their onFirstSentence callback at most once
// per turn even though FindEarlyStart itself is stateless.
func FindEarlyStart(full string) (prefix string, ok bool) {
	searchFrom := 0
	for {
		rel := strings.IndexAny(full[searchFrom:], ".!?")
		if rel < 0 {
			return "", false
		}
		idx := searchFrom + rel

		// Don't treat a decimal point or abbreviation immediately followed
		// by another non-space character as a sentence boundary, e.g. "3.5"
		// or "Dr.Smith".
		if idx+1 < len(full) {
			next := full[idx+1]
			if next != ' ' && next != '\n' && next != '"' && next != '\'' {
				searchFrom = idx + 1
				continue
			}
		}

		candidate := strings.TrimSpace(full[:idx+1])
		runeIndex := utf8.RuneCountInString(full[:idx])
		runeLen := utf8.RuneCountInString(candidate)
		if runeIndex < minEarlyStartIndex || runeLen < minEarlyStartRunes {
			searchFrom = idx + 1
			continue
		}
		return candidate, true
	}
}
