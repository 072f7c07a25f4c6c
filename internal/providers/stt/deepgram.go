// Package stt implements the external speech-to-text provider clients,
// adapted from the teacher's pkg/providers/stt/* (which targets 44.1kHz
// linear PCM) to this relay's 8kHz mu-law narrowband telephony audio: a
// query string model/smart_format is still configured, but the content
// type advertises raw mu-law and the sample rate is fixed at 8000.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lokutor-ai/callrelay-engine/internal/codec"
)

// Deepgram calls Deepgram's batch pre-recorded transcription endpoint with
// raw mu-law@8kHz audio, grounded on the teacher's DeepgramSTT.
type Deepgram struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

// NewDeepgram builds a Deepgram STT client. httpClient may be nil, in
// which case http.DefaultClient is used.
func NewDeepgram(apiKey string, httpClient *http.Client) *Deepgram {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Deepgram{
		apiKey:     apiKey,
		url:        "https://api.deepgram.com/v1/listen",
		httpClient: httpClient,
	}
}

func (s *Deepgram) Name() string { return "deepgram-stt" }

// Transcribe mu-law-encodes pcm and posts it to Deepgram's batch endpoint.
func (s *Deepgram) Transcribe(ctx context.Context, pcm []int16) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	params.Set("encoding", "mulaw")
	params.Set("sample_rate", "8000")
	params.Set("language", "es")
	u.RawQuery = params.Encode()

	encoded := codec.Encode(pcm)

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "audio/mulaw")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return result.Results.Channels[0].Alternatives[0].Transcript, nil
}
