// Package clients implements the two control-plane HTTP clients this
// relay talks to besides the media providers: fetching an agent's
// configuration at call start, and reporting the finished call's summary
// at call end. Both follow the teacher's plain net/http + encoding/json
// style used throughout pkg/providers/*, with a shared-secret header in
// place of the providers' bearer/API-key headers.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// AgentConfig is the agent record returned by the config endpoint.
// Missing fields fall back to documented defaults at the call site, per
// spec.md §3.
type AgentConfig struct {
	AgentID            string   `json:"agent_id"`
	SystemPrompt       string   `json:"system_prompt"`
	Greeting           string   `json:"greeting,omitempty"`
	TTSVoiceID         string   `json:"tts_voice_id"`
	TTSModelID         string   `json:"tts_model_id"`
	STTLanguage        string   `json:"stt_language"`
	STTKeywords        []string `json:"stt_keywords,omitempty"`
	SilenceThresholdDb float64  `json:"silence_threshold_db"`
	SilenceDurationMs  int      `json:"silence_duration_ms"`
	PrefixPaddingMs    int      `json:"prefix_padding_ms"`
	Temperature        float64  `json:"temperature"`
}

// DefaultAgentConfig is substituted when the control plane cannot be
// reached, per spec.md §7: "Config fetch failure. Logged; a default config
// is used so the call still answers." VAD and temperature fields are left
// at their zero value so the caller's own documented-default fallback
// (server-level VAD config, the LLM provider's default temperature) applies
// instead of duplicating those defaults here.
func DefaultAgentConfig(agentID string) AgentConfig {
	return AgentConfig{
		AgentID:      agentID,
		SystemPrompt: "You are a helpful phone assistant. Keep responses brief and conversational.",
		Greeting:     "Thanks for calling. How can I help you today?",
		TTSVoiceID:   "default",
		STTLanguage:  "en",
	}
}

// AgentConfigClient fetches agent records from the control plane.
type AgentConfigClient struct {
	baseURL      string
	sharedSecret string
	httpClient   *http.Client
}

// NewAgentConfigClient builds a client against baseURL, a POST endpoint
// that accepts {"agentId": ...} as its JSON body and authenticates with a shared
// secret header.
func NewAgentConfigClient(baseURL, sharedSecret string, httpClient *http.Client) *AgentConfigClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AgentConfigClient{baseURL: baseURL, sharedSecret: sharedSecret, httpClient: httpClient}
}

// Fetch retrieves the configuration record for agentID.
func (c *AgentConfigClient) Fetch(ctx context.Context, agentID string) (AgentConfig, error) {
	body, err := json.Marshal(map[string]string{"agentId": agentID})
	if err != nil {
		return AgentConfig{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return AgentConfig{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shared-Secret", c.sharedSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("agent config request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return AgentConfig{}, fmt.Errorf("agent config error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var cfg AgentConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("agent config decode: %w", err)
	}
	return cfg, nil
}
