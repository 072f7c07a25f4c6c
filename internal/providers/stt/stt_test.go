package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDeepgramTranscribeParsesTranscript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("expected Token auth header, got %q", got)
		}
		if !strings.Contains(r.URL.RawQuery, "encoding=mulaw") {
			t.Errorf("expected mulaw encoding query param, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"hola mundo"}]}]}}`))
	}))
	defer server.Close()

	d := NewDeepgram("test-key", server.Client())
	d.url = server.URL

	text, err := d.Transcribe(context.Background(), make([]int16, 160))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hola mundo" {
		t.Errorf("expected transcript %q, got %q", "hola mundo", text)
	}
}

func TestDeepgramTranscribeEmptyOnNoAlternatives(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer server.Close()

	d := NewDeepgram("test-key", server.Client())
	d.url = server.URL

	text, err := d.Transcribe(context.Background(), make([]int16, 160))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Errorf("expected empty transcript, got %q", text)
	}
}

func TestDeepgramTranscribeErrorsOnNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`invalid api key`))
	}))
	defer server.Close()

	d := NewDeepgram("bad-key", server.Client())
	d.url = server.URL

	if _, err := d.Transcribe(context.Background(), make([]int16, 160)); err == nil {
		t.Fatal("expected error on 401 response")
	}
}

func TestOpenAITranscribeParsesText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("expected multipart form body: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("expected model whisper-1, got %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("expected audio file part: %v", err)
		}
		defer file.Close()
		w.Write([]byte(`{"text":"buenas tardes"}`))
	}))
	defer server.Close()

	o := NewOpenAI("test-key", "", server.Client())
	o.url = server.URL

	text, err := o.Transcribe(context.Background(), make([]int16, 160))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "buenas tardes" {
		t.Errorf("expected transcript %q, got %q", "buenas tardes", text)
	}
}
