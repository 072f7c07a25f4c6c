// Package pipeline runs one user turn through STT, the LLM, and TTS,
// generalizing the teacher's ManagedStream.runLLMAndTTS into a pure,
// provider-interface-driven pipeline with no orchestrator-wide locking:
// cancellation flows entirely through the playback.Gate and context.
package pipeline

import "context"

// STTProvider transcribes one finalized turn of linear PCM audio.
type STTProvider interface {
	Transcribe(ctx context.Context, pcm []int16) (string, error)
	Name() string
}

// Message is one turn of conversation history handed to the LLM.
type Message struct {
	Role    string
	Content string
}

// LLMProvider streams a completion. onFirstSentence fires at most once per
// call, as soon as the accumulated text crosses the early-start prefix gate
// (see FindEarlyStart), letting the caller begin TTS on that prefix before
// the rest of the reply has been generated. It never fires again after
// that, even if more sentence boundaries follow before the stream ends.
type LLMProvider interface {
	StreamComplete(ctx context.Context, messages []Message, onFirstSentence func(prefix string) error) (full string, err error)
	Name() string
}

// TTSProvider synthesizes text to μ-law@8kHz audio, invoking onChunk with
// each chunk of raw μ-law bytes as they become available. Abort cancels
// the synthesis request currently in flight, if any; it is safe to call
// even when no synthesis is in flight.
type TTSProvider interface {
	StreamSynthesize(ctx context.Context, text string, onChunk func([]byte) error) error
	Abort()
	Name() string
}
