// cmd/relay is the process entry point: it wires configuration, the
// control-plane clients, the provider clients, and one internal/session
// per inbound carrier WebSocket connection, then serves /health,
// /metrics, and /ws/{provider} until told to shut down.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/callrelay-engine/internal/clients"
	"github.com/lokutor-ai/callrelay-engine/internal/config"
	"github.com/lokutor-ai/callrelay-engine/internal/logging"
	"github.com/lokutor-ai/callrelay-engine/internal/metrics"
	"github.com/lokutor-ai/callrelay-engine/internal/pipeline"
	llmProvider "github.com/lokutor-ai/callrelay-engine/internal/providers/llm"
	sttProvider "github.com/lokutor-ai/callrelay-engine/internal/providers/stt"
	ttsProvider "github.com/lokutor-ai/callrelay-engine/internal/providers/tts"
	"github.com/lokutor-ai/callrelay-engine/internal/session"
)

const version = "0.1.0"

// server holds everything shared across calls: the control-plane clients
// and the stateless STT/LLM providers. TTS is built per call since its
// voice comes from the agent config.
type server struct {
	cfg               config.Config
	logger            logging.Logger
	httpClient        *http.Client
	agentConfigClient *clients.AgentConfigClient
	callLogClient     *clients.CallLogClient
	stt               pipeline.STTProvider
	llmSmall          pipeline.LLMProvider
	llmLarge          pipeline.LLMProvider
}

func main() {
	cfg := config.Load()
	logger := logging.New()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	stt, err := buildSTT(cfg, httpClient)
	if err != nil {
		logger.Error("no STT provider configured", "error", err)
		os.Exit(1)
	}
	llmSmall, llmLarge, err := buildLLMTiers(cfg, httpClient)
	if err != nil {
		logger.Error("no LLM provider configured", "error", err)
		os.Exit(1)
	}

	s := &server{
		cfg:               cfg,
		logger:            logger,
		httpClient:        httpClient,
		agentConfigClient: clients.NewAgentConfigClient(cfg.ControlPlane.AgentConfigURL, cfg.ControlPlane.SharedSecret, httpClient),
		callLogClient:     clients.NewCallLogClient(cfg.ControlPlane.CallLogURL, cfg.ControlPlane.SharedSecret, httpClient),
		stt:               stt,
		llmSmall:          llmSmall,
		llmLarge:          llmLarge,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/twilio", s.handleWS)
	mux.HandleFunc("/ws/telnyx", s.handleWS)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildSTT(cfg config.Config, httpClient *http.Client) (pipeline.STTProvider, error) {
	switch {
	case cfg.Providers.DeepgramAPIKey != "":
		return sttProvider.NewDeepgram(cfg.Providers.DeepgramAPIKey, httpClient), nil
	case cfg.Providers.OpenAIAPIKey != "":
		return sttProvider.NewOpenAI(cfg.Providers.OpenAIAPIKey, "whisper-1", httpClient), nil
	default:
		return nil, errors.New("set DEEPGRAM_API_KEY or OPENAI_API_KEY")
	}
}

// buildLLMTiers builds the small (fast/cheap) and large (quality) model
// tiers session.Session.selectModelTier switches between per spec.md
// §4.5. With only an OpenAI key, both tiers are OpenAI models. large is
// nil when only an Anthropic key is configured, which disables tier
// switching and keeps every call on small.
func buildLLMTiers(cfg config.Config, httpClient *http.Client) (small, large pipeline.LLMProvider, err error) {
	switch {
	case cfg.Providers.OpenAIAPIKey != "" && cfg.Providers.AnthropicAPIKey != "":
		small = llmProvider.NewOpenAI(cfg.Providers.OpenAIAPIKey, "gpt-4o-mini", httpClient)
		large = llmProvider.NewAnthropic(cfg.Providers.AnthropicAPIKey, "claude-3-5-sonnet-20240620", httpClient)
	case cfg.Providers.OpenAIAPIKey != "":
		small = llmProvider.NewOpenAI(cfg.Providers.OpenAIAPIKey, "gpt-4o-mini", httpClient)
		large = llmProvider.NewOpenAI(cfg.Providers.OpenAIAPIKey, "gpt-4o", httpClient)
	case cfg.Providers.AnthropicAPIKey != "":
		small = llmProvider.NewAnthropic(cfg.Providers.AnthropicAPIKey, "claude-3-5-sonnet-20240620", httpClient)
	default:
		return nil, nil, errors.New("set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}
	return small, large, nil
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version,
		"mode":    "relay",
	})
}

// handleWS upgrades one carrier connection and runs its session to
// completion. The URL's agentId/callLogId query params seed the call per
// spec.md §4.6; the actual carrier wire shape is still auto-detected from
// the first frame rather than trusted from the path.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	callLogID := r.URL.Query().Get("callLogId")
	if callLogID == "" {
		callLogID = uuid.NewString()
	}
	logger := s.logger.With("call_id", callLogID, "agent_id", agentID)

	agentCfg, err := s.agentConfigClient.Fetch(r.Context(), agentID)
	if err != nil {
		logger.Error("fetch agent config failed, using default config", "error", err)
		agentCfg = clients.DefaultAgentConfig(agentID)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	llmSmall := withTemperature(s.llmSmall, agentCfg.Temperature)
	llmLarge := withTemperature(s.llmLarge, agentCfg.Temperature)

	tts := ttsProvider.NewHTTP(s.cfg.Providers.TTSAPIKey, s.cfg.Providers.TTSURL, agentCfg.TTSVoiceID, s.httpClient)
	rec := metrics.New()
	pl := pipeline.New(s.stt, llmSmall, tts, rec)

	sessCfg := session.Config{
		CallID:             callLogID,
		AgentID:            agentID,
		SystemPrompt:       agentCfg.SystemPrompt,
		Greeting:           agentCfg.Greeting,
		SilenceThresholdDb: orDefault(agentCfg.SilenceThresholdDb, s.cfg.VAD.SilenceThresholdDb),
		SilenceDurationMs:  orDefaultInt(agentCfg.SilenceDurationMs, s.cfg.VAD.SilenceDurationMs),
		PrefixPaddingMs:    orDefaultInt(agentCfg.PrefixPaddingMs, s.cfg.VAD.PrefixPaddingMs),
	}

	ctx := r.Context()
	send := func(b []byte) error {
		return conn.Write(ctx, websocket.MessageText, b)
	}
	sess := session.New(sessCfg, pl, rec, logger, send)
	if llmLarge != nil {
		sess.SetLargeLLM(llmLarge)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if err := sess.HandleRaw(ctx, data); err != nil {
			logger.Error("handle frame failed", "error", err)
		}
	}

	report := sess.Finalize()
	reportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.callLogClient.Report(reportCtx, report); err != nil {
		logger.Error("report call log failed", "error", err)
	}
}

// withTemperature swaps in a caller-chosen sampling temperature without
// mutating the shared provider instance, which stays safe for concurrent
// use by other calls. Returns base unchanged when base is nil, the agent
// config left temperature unset, or base doesn't support overriding it.
func withTemperature(base pipeline.LLMProvider, temperature float64) pipeline.LLMProvider {
	if base == nil || temperature == 0 {
		return base
	}
	if t, ok := base.(interface {
		WithTemperature(float64) pipeline.LLMProvider
	}); ok {
		return t.WithTemperature(temperature)
	}
	return base
}

func orDefault(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func orDefaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
