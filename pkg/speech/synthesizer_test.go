package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSpeakReturnsAudioBytes(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer ts.Close()

	s := NewOpenAISynthesizer("test-key", ts.URL, "", "")
	data, err := s.Speak(context.Background(), "hello vivi")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if string(data) != "mp3-bytes" {
		t.Fatalf("data = %q", data)
	}
	if gotPath != "/audio/speech" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody["input"] != "hello vivi" || gotBody["voice"] != "alloy" {
		t.Fatalf("request body = %v", gotBody)
	}
}

func TestSpeakPropagatesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
	}))
	defer ts.Close()

	s := NewOpenAISynthesizer("test-key", ts.URL, "", "")
	if _, err := s.Speak(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error on non-200 synthesis response")
	}
}
