package deepgram_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aulavoz/voicetutor/pkg/audio/wav"
	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/provider/stt/deepgram"
)

const listenResponse = `{
  "metadata": {"duration": 1.5},
  "results": {"channels": [{
    "detected_language": "",
    "alternatives": [{
      "transcript": "¿qué es la fotosíntesis?",
      "confidence": 0.93,
      "words": [
        {"word": "qué", "punctuated_word": "¿Qué", "start": 0.1, "end": 0.3, "confidence": 0.9},
        {"word": "es", "start": 0.3, "end": 0.4, "confidence": 0.95}
      ]
    }]
  }]}
}`

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := deepgram.New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestTranscribe_ParsesResponse(t *testing.T) {
	t.Parallel()

	var gotQuery, gotAuth, gotType string
	var gotBody int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/listen" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = len(b)
		_, _ = io.WriteString(w, listenResponse)
	}))
	defer srv.Close()

	p, err := deepgram.New("key-123",
		deepgram.WithBaseURL(srv.URL+"/"),
		deepgram.WithKeyterms("fotosíntesis", "clorofila"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c := wav.Encode(make([]int16, 100), 48000)
	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: c})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotAuth != "Token key-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotType != "audio/wav" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody != len(c) {
		t.Errorf("body = %d bytes, want %d", gotBody, len(c))
	}
	for _, want := range []string{"model=nova-3", "language=es", "keyterm=clorofila"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}

	if tr.Text != "¿qué es la fotosíntesis?" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Confidence != 0.93 || tr.Language != "es" {
		t.Errorf("Confidence = %v Language = %q", tr.Confidence, tr.Language)
	}
	if tr.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", tr.Duration)
	}
	if len(tr.Words) != 2 || tr.Words[0].Word != "¿Qué" || tr.Words[1].Word != "es" {
		t.Errorf("Words = %+v", tr.Words)
	}
	if tr.Words[0].Start != 100*time.Millisecond {
		t.Errorf("Words[0].Start = %v", tr.Words[0].Start)
	}
}

func TestTranscribe_DetectLanguage(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `{"results":{"channels":[{"detected_language":"pt","alternatives":[{"transcript":"olá"}]}]}}`)
	}))
	defer srv.Close()

	p, _ := deepgram.New("k", deepgram.WithBaseURL(srv.URL), deepgram.WithLanguage("multi"))
	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: wav.Encode(nil, 48000)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !strings.Contains(gotQuery, "detect_language=true") {
		t.Errorf("query %q missing detect_language", gotQuery)
	}
	if tr.Language != "pt" || tr.Text != "olá" {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestTranscribe_NoChannels(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"results":{"channels":[]}}`)
	}))
	defer srv.Close()

	p, _ := deepgram.New("k", deepgram.WithBaseURL(srv.URL))
	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: wav.Encode(nil, 48000)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("Text = %q, want empty", tr.Text)
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"err_code":"INVALID_AUTH"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := deepgram.New("bad", deepgram.WithBaseURL(srv.URL))
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: wav.Encode(nil, 48000)})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want HTTP 401 error", err)
	}
}
