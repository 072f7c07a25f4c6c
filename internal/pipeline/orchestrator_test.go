package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/lokutor-ai/callrelay-engine/internal/playback"
)

type fakeSTT struct {
	transcript string
	err        error
}

func (f *fakeSTT) Transcribe(ctx context.Context, pcm []int16) (string, error) {
	return f.transcript, f.err
}
func (f *fakeSTT) Name() string { return "fake-stt" }

type fakeLLM struct {
	earlyPrefix string
	full        string
	err         error
}

func (f *fakeLLM) StreamComplete(ctx context.Context, messages []Message, onFirstSentence func(string) error) (string, error) {
	if f.earlyPrefix != "" {
		if err := onFirstSentence(f.earlyPrefix); err != nil {
			return "", err
		}
	}
	return f.full, f.err
}
func (f *fakeLLM) Name() string { return "fake-llm" }

type fakeTTS struct {
	bytesPerCall int
	err          error
	aborted      bool
}

func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, onChunk func([]byte) error) error {
	if f.err != nil {
		return f.err
	}
	n := f.bytesPerCall
	if n == 0 {
		n = 200
	}
	return onChunk(make([]byte, n))
}
func (f *fakeTTS) Abort()       { f.aborted = true }
func (f *fakeTTS) Name() string { return "fake-tts" }

func TestRunHappyPathDeliversPacketizedAudio(t *testing.T) {
	stt := &fakeSTT{transcript: "hola, quiero cancelar mi suscripción."}
	earlyPrefix := "Claro, te ayudo con eso ahora mismo."
	llm := &fakeLLM{earlyPrefix: earlyPrefix, full: earlyPrefix + " ¿Cuál es tu número de cuenta?"}
	tts := &fakeTTS{bytesPerCall: 350}

	p := New(stt, llm, tts, nil)
	var gate playback.Gate
	token := gate.Capture()

	var packets [][]byte
	_, err := p.Run(context.Background(), make([]int16, 160), nil, &gate, token,
		func(string) bool { return true },
		func(chunk []byte) error {
			packets = append(packets, chunk)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(packets) == 0 {
		t.Fatal("expected at least one audio packet")
	}
	for i, pkt := range packets[:len(packets)-1] {
		if len(pkt) != ttsPacketBytes {
			t.Errorf("packet %d: expected %d bytes, got %d", i, ttsPacketBytes, len(pkt))
		}
	}
	last := packets[len(packets)-1]
	if len(last) == 0 || len(last) > ttsPacketBytes {
		t.Errorf("expected final packet to be a non-empty tail <= %d bytes, got %d", ttsPacketBytes, len(last))
	}
}

func TestRunAbortsWhenSTTFails(t *testing.T) {
	stt := &fakeSTT{err: errors.New("provider down")}
	p := New(stt, &fakeLLM{}, &fakeTTS{}, nil)
	var gate playback.Gate
	token := gate.Capture()

	_, err := p.Run(context.Background(), make([]int16, 160), nil, &gate, token,
		nil, func([]byte) error { return nil })
	if err == nil {
		t.Fatal("expected error when STT fails")
	}
}

func TestRunStopsEmittingAfterBargeIn(t *testing.T) {
	stt := &fakeSTT{transcript: "hola"}
	llm := &fakeLLM{full: "Una respuesta larga que nunca debería llegar a reproducirse."}
	tts := &fakeTTS{bytesPerCall: 500}

	p := New(stt, llm, tts, nil)
	var gate playback.Gate
	token := gate.Capture()
	gate.Increment() // simulate a barge-in that happened before Run started

	var packets [][]byte
	_, err := p.Run(context.Background(), make([]int16, 160), nil, &gate, token,
		func(string) bool { return true },
		func(chunk []byte) error {
			packets = append(packets, chunk)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(packets) != 0 {
		t.Errorf("expected no audio after token invalidation, got %d packets", len(packets))
	}
}

func TestRunSkipsLLMWhenOnTranscriptDeclines(t *testing.T) {
	stt := &fakeSTT{transcript: ""}
	llm := &fakeLLM{full: "should not run"}
	p := New(stt, llm, &fakeTTS{}, nil)
	var gate playback.Gate
	token := gate.Capture()

	called := false
	_, err := p.Run(context.Background(), make([]int16, 160), nil, &gate, token,
		func(string) bool { return false },
		func([]byte) error {
			called = true
			return nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected onAudio never to be invoked when onTranscript declines")
	}
}

func TestFindEarlyStartFindsQualifyingPrefix(t *testing.T) {
	prefix, ok := FindEarlyStart("Claro, te ayudo con eso ahora mismo. ¿Cuál es tu número de cuenta?")
	if !ok {
		t.Fatal("expected a qualifying early-start prefix")
	}
	if prefix != "Claro, te ayudo con eso ahora mismo." {
		t.Errorf("unexpected prefix: %q", prefix)
	}
}

func TestFindEarlyStartDoesNotSplitDecimals(t *testing.T) {
	_, ok := FindEarlyStart("Tu saldo es 3.50 dólares")
	if ok {
		t.Error("expected no early-start on a decimal point with no other terminator")
	}
}

func TestFindEarlyStartRejectsShortPrefix(t *testing.T) {
	_, ok := FindEarlyStart("Sí. Ok.")
	if ok {
		t.Error("expected no early-start prefix below the length gate")
	}
}

func TestRunPropagatesTTSError(t *testing.T) {
	stt := &fakeSTT{transcript: "hola"}
	llm := &fakeLLM{full: "hola."}
	tts := &fakeTTS{err: errors.New("tts unavailable")}
	p := New(stt, llm, tts, nil)
	var gate playback.Gate
	token := gate.Capture()

	_, err := p.Run(context.Background(), make([]int16, 160), nil, &gate, token,
		func(string) bool { return true },
		func([]byte) error { return nil },
	)
	if err == nil {
		t.Fatal("expected TTS error to propagate")
	}
}
