// Package config loads this relay's configuration from the environment
// (with an optional .env file for local development), grounded on
// mbaxamb33-yuzu.agent.webrtc.toy's internal/config/config.go: a
// viper.New() instance with AutomaticEnv, explicit BindEnv calls per
// field, and SetDefault for everything that has a sane default.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is this relay's complete runtime configuration.
type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}
	ControlPlane struct {
		AgentConfigURL string
		CallLogURL     string
		SharedSecret   string
	}
	Providers struct {
		DeepgramAPIKey  string
		OpenAIAPIKey    string
		AnthropicAPIKey string
		TTSAPIKey       string
		TTSURL          string
	}
	VAD struct {
		SilenceThresholdDb float64
		SilenceDurationMs  int
		PrefixPaddingMs    int
	}
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first, if present, matching the teacher's
// local-development convenience without requiring one in production
// (godotenv.Load's error is deliberately ignored when the file is
// absent).
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("providers.openai_model", "gpt-4o-mini")

	v.SetDefault("vad.silence_threshold_db", -40.0)
	v.SetDefault("vad.silence_duration_ms", 700)
	v.SetDefault("vad.prefix_padding_ms", 300)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("control_plane.agent_config_url", "AGENT_CONFIG_URL")
	v.BindEnv("control_plane.call_log_url", "CALL_LOG_URL")
	v.BindEnv("control_plane.shared_secret", "CONTROL_PLANE_SHARED_SECRET")

	v.BindEnv("providers.deepgram_api_key", "DEEPGRAM_API_KEY")
	v.BindEnv("providers.openai_api_key", "OPENAI_API_KEY")
	v.BindEnv("providers.anthropic_api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("providers.tts_api_key", "TTS_API_KEY")
	v.BindEnv("providers.tts_url", "TTS_URL")

	v.BindEnv("vad.silence_threshold_db", "VAD_SILENCE_THRESHOLD_DB")
	v.BindEnv("vad.silence_duration_ms", "VAD_SILENCE_DURATION_MS")
	v.BindEnv("vad.prefix_padding_ms", "VAD_PREFIX_PADDING_MS")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")

	c.ControlPlane.AgentConfigURL = v.GetString("control_plane.agent_config_url")
	c.ControlPlane.CallLogURL = v.GetString("control_plane.call_log_url")
	c.ControlPlane.SharedSecret = v.GetString("control_plane.shared_secret")

	c.Providers.DeepgramAPIKey = v.GetString("providers.deepgram_api_key")
	c.Providers.OpenAIAPIKey = v.GetString("providers.openai_api_key")
	c.Providers.AnthropicAPIKey = v.GetString("providers.anthropic_api_key")
	c.Providers.TTSAPIKey = v.GetString("providers.tts_api_key")
	c.Providers.TTSURL = v.GetString("providers.tts_url")

	c.VAD.SilenceThresholdDb = v.GetFloat64("vad.silence_threshold_db")
	c.VAD.SilenceDurationMs = v.GetInt("vad.silence_duration_ms")
	c.VAD.PrefixPaddingMs = v.GetInt("vad.prefix_padding_ms")

	return c
}

func toString(v any) string { return fmt.Sprint(v) }
