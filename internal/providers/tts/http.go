// Package tts implements the external text-to-speech provider client: an
// HTTP provider returning a chunked body of raw μ-law@8kHz bytes,
// structurally grounded in the teacher's LokutorTTS (connection reuse,
// StreamSynthesize(ctx, text, onChunk) shape) but adapted from a
// persistent websocket session to a per-call streaming HTTP response
// body, since this relay's wire contract is HTTP chunked transfer rather
// than a control-message websocket protocol.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// HTTP synthesizes text into raw μ-law@8kHz audio via chunked HTTP
// transfer. The underlying *http.Client is reused across calls (the
// connection-pooling equivalent of the teacher's reused websocket
// connection); Abort cancels whatever request is currently in flight.
type HTTP struct {
	apiKey     string
	url        string
	voice      string
	httpClient *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHTTP builds an HTTP TTS client against the given synthesis endpoint.
func NewHTTP(apiKey, url, voice string, httpClient *http.Client) *HTTP {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTP{apiKey: apiKey, url: url, voice: voice, httpClient: httpClient}
}

func (t *HTTP) Name() string { return "http-tts" }

func (t *HTTP) StreamSynthesize(ctx context.Context, text string, onChunk func([]byte) error) error {
	reqCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.cancel != nil {
			t.cancel()
			t.cancel = nil
		}
		t.mu.Unlock()
	}()

	payload := map[string]any{
		"text":        text,
		"voice":       t.voice,
		"encoding":    "mulaw",
		"sample_rate": 8000,
		"speed":       1.05,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(reqCtx, "POST", t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tts error (status %d): %s", resp.StatusCode, string(respBody))
	}

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := onChunk(chunk); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("tts stream read: %w", readErr)
		}
	}
}

// Abort cancels whatever synthesis request is currently in flight. Safe
// to call when none is in flight.
func (t *HTTP) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
