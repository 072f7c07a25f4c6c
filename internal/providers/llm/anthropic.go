package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/callrelay-engine/internal/pipeline"
)

// Anthropic calls Claude's non-streaming messages endpoint, grounded on
// the teacher's AnthropicLLM almost unchanged (the request/response shape
// doesn't depend on sample rate or audio format at all). Used for the
// large-model tier, where the entire response is already available after
// the single HTTP round trip: onFirstSentence fires once against the full
// text's early-start prefix, if one qualifies, giving the pipeline the
// same firstSpoken/remainder split it gets from the streaming tier.
type Anthropic struct {
	apiKey      string
	url         string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewAnthropic builds an Anthropic LLM client. model defaults to
// "claude-3-5-sonnet-20240620" (the large/quality tier) when empty.
func NewAnthropic(apiKey, model string, httpClient *http.Client) *Anthropic {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Anthropic{
		apiKey:      apiKey,
		url:         "https://api.anthropic.com/v1/messages",
		model:       model,
		temperature: defaultTemperature,
		httpClient:  httpClient,
	}
}

func (l *Anthropic) Name() string { return "anthropic-llm" }

// WithTemperature returns a copy of this client with its sampling
// temperature overridden, leaving the shared original untouched.
func (l *Anthropic) WithTemperature(t float64) pipeline.LLMProvider {
	cp := *l
	cp.temperature = t
	return &cp
}

func (l *Anthropic) StreamComplete(ctx context.Context, messages []pipeline.Message, onFirstSentence func(string) error) (string, error) {
	var system string
	var anthropicMessages []map[string]string
	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		anthropicMessages = append(anthropicMessages, map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	payload := map[string]any{
		"model":       l.model,
		"messages":    anthropicMessages,
		"max_tokens":  maxResponseTokens,
		"temperature": l.temperature,
	}
	if system != "" {
		payload["system"] = system
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
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("anthropic llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("no content returned from anthropic")
	}

	full := result.Content[0].Text
	if prefix, ok := pipeline.FindEarlyStart(full); ok {
		if err := onFirstSentence(prefix); err != nil {
			return "", err
		}
	}

	return full, nil
}
