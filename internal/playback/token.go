// Package playback implements the playback-token gate: the sole
// cancellation mechanism for outbound carrier audio and in-flight
// STT/LLM/TTS work, generalized from the compare-and-invalidate idiom the
// teacher implements ad hoc with its sttGeneration counter in
// ManagedStream.internalInterrupt.
package playback

import "sync/atomic"

// Gate is a session-scoped monotonic counter. Every attempt to speak
// captures the current token; any later Increment invalidates that
// capture. It also latches callEnded, the one-way switch that silences all
// further outbound frames.
type Gate struct {
	token     atomic.Int64
	callEnded atomic.Bool
}

// Capture reads and remembers the current token.
func (g *Gate) Capture() int64 {
	return g.token.Load()
}

// Increment invalidates every previously captured token. Call on barge-in
// or when a new turn begins processing.
func (g *Gate) Increment() int64 {
	return g.token.Add(1)
}

// StillValid reports whether a captured token is still the current one and
// the call has not ended.
func (g *Gate) StillValid(captured int64) bool {
	return !g.callEnded.Load() && g.token.Load() == captured
}

// EndCall latches callEnded. Idempotent: safe to call more than once.
func (g *Gate) EndCall() {
	g.callEnded.Store(true)
}

// CallEnded reports whether EndCall has been called.
func (g *Gate) CallEnded() bool {
	return g.callEnded.Load()
}
