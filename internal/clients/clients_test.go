package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAgentConfigFetchDecodesRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Shared-Secret"); got != "shh" {
			t.Errorf("expected shared secret header, got %q", got)
		}
		w.Write([]byte(`{"agent_id":"a1","system_prompt":"eres un agente","tts_voice_id":"F1","silence_threshold_db":-35}`))
	}))
	defer server.Close()

	client := NewAgentConfigClient(server.URL, "shh", server.Client())
	cfg, err := client.Fetch(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AgentID != "a1" {
		t.Errorf("expected agent_id a1, got %s", cfg.AgentID)
	}
	if cfg.SilenceThresholdDb != -35 {
		t.Errorf("expected silence threshold -35, got %f", cfg.SilenceThresholdDb)
	}
}

func TestAgentConfigFetchErrorsOnNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewAgentConfigClient(server.URL, "shh", server.Client())
	if _, err := client.Fetch(context.Background(), "missing"); err == nil {
		t.Fatal("expected error on 404 response")
	}
}

func TestCallLogReportSendsSharedSecretAndBody(t *testing.T) {
	var gotID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Shared-Secret"); got != "shh" {
			t.Errorf("expected shared secret header, got %q", got)
		}
		var report CallLogReport
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		gotID = report.CallLogID
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewCallLogClient(server.URL, "shh", server.Client())
	err := client.Report(context.Background(), CallLogReport{
		CallLogID: "cl_123",
		Status:    "completed",
		Usage:     UsageReport{TurnsCount: 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != "cl_123" {
		t.Errorf("expected call_log_id cl_123, got %s", gotID)
	}
}

func TestCallLogReportErrorsOnServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewCallLogClient(server.URL, "shh", server.Client())
	err := client.Report(context.Background(), CallLogReport{CallLogID: "cl_123"})
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
}
