// Package turn implements the local dB-threshold voice-activity detector
// that segments a stream of 20ms carrier frames into complete user turns.
//
// Carrier-side VAD is too coarse and server-side VAD over a remote socket
// would add a round trip, so segmentation happens locally against the
// decoded linear-PCM frame, exactly as the teacher's RMSVAD inspects
// decoded samples rather than the wire bytes.
package turn

import (
	"time"

	"github.com/lokutor-ai/callrelay-engine/internal/codec"
)

const (
	frameMs           = 20
	minTurnDurationMs = 300
)

type state int

const (
	stateIdle state = iota
	stateSpeaking
)

// Turn is one complete user utterance: linear PCM from speech-start (with
// prefix padding) through silenceDurationMs of trailing silence. Duration
// runs from speech-start to the first frame of trailing silence; utterances
// shorter than minTurnDurationMs are discarded.
type Turn struct {
	PCM      []int16
	Duration time.Duration
}

// Stats reports segmenter-lifetime counters for the call report.
type Stats struct {
	FramesReceived int
	FramesVoiced   int
}

// Segmenter converts a stream of decoded PCM frames into Turns.
//
// It is not safe for concurrent use — the session's single task feeds it
// frames in arrival order, per spec.
type Segmenter struct {
	silenceThresholdDb float64
	silenceDurationMs  int
	prefixCapacity     int

	st state

	ring      [][]int16
	ringStart int
	ringLen   int

	turnBuf       []int16
	turnStart     time.Time
	silenceStart  time.Time
	silenceActive bool

	stats Stats
}

// New creates a Segmenter. prefixPaddingMs is rounded down to the nearest
// whole 20ms frame for the ring buffer's capacity.
func New(silenceThresholdDb float64, silenceDurationMs, prefixPaddingMs int) *Segmenter {
	cap := prefixPaddingMs / frameMs
	if cap < 1 {
		cap = 1
	}
	return &Segmenter{
		silenceThresholdDb: silenceThresholdDb,
		silenceDurationMs:  silenceDurationMs,
		prefixCapacity:     cap,
		ring:               make([][]int16, cap),
	}
}

// Process feeds one decoded 20ms PCM frame into the segmenter. It returns a
// non-nil Turn exactly when a complete utterance has just been finalized.
func (s *Segmenter) Process(pcm []int16, now time.Time) *Turn {
	s.stats.FramesReceived++
	db := codec.RMSDb(pcm)
	voiced := db >= s.silenceThresholdDb
	if voiced {
		s.stats.FramesVoiced++
	}

	switch s.st {
	case stateIdle:
		s.pushRing(pcm)
		if voiced {
			s.startSpeaking(now)
		}
		return nil

	case stateSpeaking:
		s.turnBuf = append(s.turnBuf, pcm...)

		if voiced {
			s.silenceActive = false
			return nil
		}

		if !s.silenceActive {
			s.silenceActive = true
			s.silenceStart = now
		}

		// The current frame's own 20ms counts toward the silence, so N
		// silent frames make N*20ms. Tie-break: equality of silence duration
		// and threshold counts as "silence long enough".
		elapsed := now.Add(frameMs * time.Millisecond).Sub(s.silenceStart)
		if elapsed >= time.Duration(s.silenceDurationMs)*time.Millisecond {
			return s.finalize()
		}
		return nil
	}

	return nil
}

func (s *Segmenter) startSpeaking(now time.Time) {
	s.st = stateSpeaking
	s.turnStart = now
	s.silenceActive = false

	// Seed the turn buffer with the entire prefix ring, oldest first.
	s.turnBuf = s.turnBuf[:0]
	for i := 0; i < s.ringLen; i++ {
		idx := (s.ringStart + i) % s.prefixCapacity
		s.turnBuf = append(s.turnBuf, s.ring[idx]...)
	}
	s.ringStart = 0
	s.ringLen = 0
}

func (s *Segmenter) pushRing(pcm []int16) {
	frame := make([]int16, len(pcm))
	copy(frame, pcm)

	if s.ringLen < s.prefixCapacity {
		idx := (s.ringStart + s.ringLen) % s.prefixCapacity
		s.ring[idx] = frame
		s.ringLen++
		return
	}

	s.ring[s.ringStart] = frame
	s.ringStart = (s.ringStart + 1) % s.prefixCapacity
}

func (s *Segmenter) finalize() *Turn {
	duration := s.silenceStart.Sub(s.turnStart)

	s.st = stateIdle
	s.silenceActive = false
	buf := s.turnBuf
	s.turnBuf = nil

	if duration < minTurnDurationMs*time.Millisecond {
		return nil
	}

	return &Turn{PCM: buf, Duration: duration}
}

// Reset returns the segmenter to Idle, discarding any in-progress turn.
// Used when a new call starts or the session is torn down.
func (s *Segmenter) Reset() {
	s.st = stateIdle
	s.turnBuf = nil
	s.ringStart = 0
	s.ringLen = 0
	s.silenceActive = false
}

// Stats returns a copy of the frame/voiced counters accumulated so far.
func (s *Segmenter) Stats() Stats {
	return s.stats
}

// IsSpeaking reports whether the segmenter currently believes the caller is
// mid-utterance (used by the session to decide whether an incoming loud
// frame is a barge-in candidate).
func (s *Segmenter) IsSpeaking() bool {
	return s.st == stateSpeaking
}
