package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lokutor-ai/callrelay-engine/internal/audio"
	"github.com/lokutor-ai/callrelay-engine/internal/codec"
)

// OpenAI calls OpenAI's Whisper transcription endpoint with a WAV-wrapped
// decoded PCM buffer, grounded on the teacher's OpenAISTT.
type OpenAI struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

// NewOpenAI builds an OpenAI STT client. model defaults to "whisper-1" when
// empty; httpClient may be nil to use http.DefaultClient.
func NewOpenAI(apiKey, model string, httpClient *http.Client) *OpenAI {
	if model == "" {
		model = "whisper-1"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAI{
		apiKey:     apiKey,
		url:        "https://api.openai.com/v1/audio/transcriptions",
		model:      model,
		httpClient: httpClient,
	}
}

func (s *OpenAI) Name() string { return "openai-stt" }

func (s *OpenAI) Transcribe(ctx context.Context, pcm []int16) (string, error) {
	pcmBytes := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		pcmBytes[2*i] = byte(sample)
		pcmBytes[2*i+1] = byte(sample >> 8)
	}
	wavData := audio.NewWavBuffer(pcmBytes, codec.SampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", s.model); err != nil {
		return "", err
	}
	if err := writer.WriteField("language", "es"); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wavData); err != nil {
		return "", err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai stt error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
