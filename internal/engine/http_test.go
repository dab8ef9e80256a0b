package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/audio"
)

func testUnit(seq uint64) *audio.Unit {
	return &audio.Unit{
		ID:         "unit-1",
		SessionID:  "s1",
		Sequence:   seq,
		Samples:    make([]int16, 1600),
		SampleRate: 16000,
		Duration:   100 * time.Millisecond,
	}
}

func TestRecognizeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
		}

		if got := r.FormValue("session_id"); got != "s1" {
			t.Errorf("Expected session_id 's1', got %q", got)
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing audio file: %v", err)
		} else {
			wav, readErr := io.ReadAll(file)
			file.Close()
			if readErr != nil {
				t.Errorf("Reading audio file failed: %v", readErr)
			}
			samples, rate, decErr := audio.DecodeWAV(wav)
			if decErr != nil {
				t.Errorf("Uploaded file is not valid WAV: %v", decErr)
			}
			if len(samples) != 1600 || rate != 16000 {
				t.Errorf("Expected 1600 samples at 16000 Hz, got %d at %d", len(samples), rate)
			}
		}

		json.NewEncoder(w).Encode(apiResponse{Text: "hello there", Confidence: 0.95})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(Config{Endpoint: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	defer client.Close()

	result, err := client.Recognize(context.Background(), testUnit(3))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}

	if result.Text != "hello there" {
		t.Errorf("Expected 'hello there', got %q", result.Text)
	}

	if result.Sequence != 3 {
		t.Errorf("Expected sequence 3, got %d", result.Sequence)
	}
}

func TestRecognizeRetriesServerErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(apiResponse{Text: "recovered"})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(Config{Endpoint: srv.URL, MaxRetries: 2})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	defer client.Close()

	result, err := client.Recognize(context.Background(), testUnit(1))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}

	if result.Text != "recovered" {
		t.Errorf("Expected 'recovered', got %q", result.Text)
	}

	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}

	stats := client.GetStats()
	if stats.TotalRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", stats.TotalRetries)
	}
}

func TestRecognizeDoesNotRetryRejection(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "bad audio", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(Config{Endpoint: srv.URL, MaxRetries: 3})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	defer client.Close()

	_, err = client.Recognize(context.Background(), testUnit(1))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Expected ErrRejected, got %v", err)
	}

	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("Rejection must not be retried, got %d attempts", attempts)
	}
}

func TestRecognizeUnreachableIsUnavailable(t *testing.T) {
	client, err := NewHTTPClient(Config{
		Endpoint:   "http://127.0.0.1:1/recognize",
		MaxRetries: 0,
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	defer client.Close()

	_, err = client.Recognize(context.Background(), testUnit(1))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
}

func TestNewHTTPClientDefaults(t *testing.T) {
	if _, err := NewHTTPClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	client, err := NewHTTPClient(Config{Endpoint: "http://localhost:9999"})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	defer client.Close()

	if client.config.Timeout != 30*time.Second {
		t.Errorf("Expected default 30s timeout, got %v", client.config.Timeout)
	}

	if client.config.MaxConcurrent != 10 {
		t.Errorf("Expected default max concurrent 10, got %d", client.config.MaxConcurrent)
	}
}
