// Package llm implements the external LLM provider clients: OpenAI's
// server-sent-event streaming chat completion for the small/fast model
// tier, and Anthropic's non-streaming completion for the large model
// tier, selected by the caller on spec.md's model-size threshold.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lokutor-ai/callrelay-engine/internal/pipeline"
)

// OpenAI streams a chat completion and fires onFirstSentence exactly once,
// as soon as the accumulated token stream crosses pipeline.FindEarlyStart's
// prefix gate, adapted from the teacher's non-streaming OpenAILLM into an
// SSE client (`data: {...}\n\n` frames terminated by `data: [DONE]`).
type OpenAI struct {
	apiKey      string
	url         string
	model       string
	temperature float64
	httpClient  *http.Client
}

// maxResponseTokens caps every completion at spec.md's fixed 250 tokens,
// tuned for short, speakable TTS turns rather than long-form answers.
const maxResponseTokens = 250

// defaultTemperature is used until the caller overrides it via
// WithTemperature.
const defaultTemperature = 0.5

// NewOpenAI builds a streaming OpenAI LLM client. model defaults to
// "gpt-4o-mini" (the small/fast tier) when empty.
func NewOpenAI(apiKey, model string, httpClient *http.Client) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAI{
		apiKey:      apiKey,
		url:         "https://api.openai.com/v1/chat/completions",
		model:       model,
		temperature: defaultTemperature,
		httpClient:  httpClient,
	}
}

func (l *OpenAI) Name() string { return "openai-llm" }

// WithTemperature returns a copy of this client with its sampling
// temperature overridden, leaving the shared original (and any
// in-flight call on it) untouched. Used per call rather than mutating a
// provider shared across concurrent sessions.
func (l *OpenAI) WithTemperature(t float64) pipeline.LLMProvider {
	cp := *l
	cp.temperature = t
	return &cp
}

func toOpenAIMessages(messages []pipeline.Message) []map[string]string {
	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]string{"role": m.Role, "content": m.Content})
	}
	return out
}

func (l *OpenAI) StreamComplete(ctx context.Context, messages []pipeline.Message, onFirstSentence func(string) error) (string, error) {
	payload := map[string]any{
		"model":       l.model,
		"messages":    toOpenAIMessages(messages),
		"stream":      true,
		"temperature": l.temperature,
		"max_tokens":  maxResponseTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("openai llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var full strings.Builder
	fired := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)

		if !fired {
			if prefix, ok := pipeline.FindEarlyStart(full.String()); ok {
				fired = true
				if err := onFirstSentence(prefix); err != nil {
					return "", err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("openai llm stream read: %w", err)
	}

	return full.String(), nil
}
