package config

import "testing"

func TestLoadAppliesDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("VAD_SILENCE_THRESHOLD_DB", "")

	c := Load()
	if c.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", c.Server.Port)
	}
	if c.VAD.SilenceThresholdDb != -40.0 {
		t.Errorf("expected default silence threshold -40, got %f", c.VAD.SilenceThresholdDb)
	}
	if c.VAD.PrefixPaddingMs != 300 {
		t.Errorf("expected default prefix padding 300ms, got %d", c.VAD.PrefixPaddingMs)
	}
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("VAD_SILENCE_DURATION_MS", "500")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	c := Load()
	if c.Server.Port != "9090" {
		t.Errorf("expected overridden port 9090, got %q", c.Server.Port)
	}
	if c.VAD.SilenceDurationMs != 500 {
		t.Errorf("expected overridden silence duration 500, got %d", c.VAD.SilenceDurationMs)
	}
	if c.Providers.OpenAIAPIKey != "sk-test" {
		t.Errorf("expected OpenAI key from env, got %q", c.Providers.OpenAIAPIKey)
	}
}
