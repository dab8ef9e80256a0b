package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/audio"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/broadcast"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/config"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/engine"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/metrics"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/session"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/store"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/summary"
)

type stubSummarizer struct {
	text string
	err  error
}

func (s stubSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	return s.text, s.err
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type testEnv struct {
	ts      *httptest.Server
	manager *session.Manager
	mock    *engine.Mock
}

func newTestEnv(t *testing.T, summarizer summary.Summarizer) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))

	cfg := &config.Config{}
	if err := yamlDefaults(cfg); err != nil {
		t.Fatalf("config defaults: %v", err)
	}

	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	b := broadcast.NewBroadcaster(broadcast.Config{KeepaliveInterval: time.Hour}, m, logger)
	t.Cleanup(b.Close)

	archive, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"), logger)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { archive.Close() })

	mock := engine.NewMock()
	mgr := session.NewManager(session.ManagerConfig{
		Settings: session.Settings{
			Assembler: audio.AssemblerConfig{
				ChunkDuration:   cfg.Audio.GetChunkDuration(),
				OverlapDuration: cfg.Audio.GetOverlapDuration(),
				SampleRate:      cfg.Audio.SampleRate,
			},
		},
	}, mock, b, archive, m, logger)
	t.Cleanup(mgr.Stop)

	if summarizer == nil {
		summarizer = summary.Disabled{}
	}
	h := NewHTTPServer(cfg, logger, mgr, b, archive, summarizer, m)
	ts := httptest.NewServer(h.server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, manager: mgr, mock: mock}
}

// yamlDefaults fills a config with defaults the same way Load does.
func yamlDefaults(cfg *config.Config) error {
	loaded, err := config.FromYAML([]byte("engine:\n  endpoint: \"http://localhost:9\"\naudio:\n  chunk_duration_seconds: 0.1\n  overlap_duration_seconds: 0.01\n"))
	if err != nil {
		return err
	}
	*cfg = *loaded
	return nil
}

func speechBytes(ms int) []byte {
	samples := 16 * ms
	raw := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		raw[i*2] = byte(v)
		raw[i*2+1] = byte(v >> 8)
	}
	return raw
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	return m
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := postJSON(t, env.ts.URL+"/api/sessions", map[string]string{"session_id": "standup"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["session_id"] != "standup" {
		t.Errorf("unexpected session_id %v", body["session_id"])
	}
	if body["state"] != "created" {
		t.Errorf("unexpected state %v", body["state"])
	}

	resp = postJSON(t, env.ts.URL+"/api/sessions", map[string]string{"session_id": "standup"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateSessionRejectsBadSampleRate(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := postJSON(t, env.ts.URL+"/api/sessions", map[string]any{"session_id": "s1", "sample_rate": 4000})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad sample rate, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateSessionGeneratesID(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := postJSON(t, env.ts.URL+"/api/sessions", map[string]string{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["session_id"] == "" {
		t.Error("expected a generated session ID")
	}
}

func TestSubmitChunk(t *testing.T) {
	env := newTestEnv(t, nil)

	postJSON(t, env.ts.URL+"/api/sessions", map[string]string{"session_id": "s1"}).Body.Close()

	resp, err := http.Post(env.ts.URL+"/api/sessions/s1/chunks", "application/octet-stream", bytes.NewReader(speechBytes(120)))
	if err != nil {
		t.Fatalf("POST chunk failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["chunk_count"].(float64) != 1 {
		t.Errorf("unexpected chunk_count %v", body["chunk_count"])
	}
}

func TestSubmitChunkErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Post(env.ts.URL+"/api/sessions/missing/chunks", "application/octet-stream", bytes.NewReader(speechBytes(10)))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	postJSON(t, env.ts.URL+"/api/sessions", map[string]string{"session_id": "s1"}).Body.Close()

	resp, err = http.Post(env.ts.URL+"/api/sessions/s1/chunks", "application/octet-stream", bytes.NewReader([]byte{0x01}))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for odd-length chunk, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Post(env.ts.URL+"/api/sessions/s1/chunks", "application/octet-stream", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty chunk, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEndAndArchivedTranscript(t *testing.T) {
	env := newTestEnv(t, nil)

	postJSON(t, env.ts.URL+"/api/sessions", map[string]string{"session_id": "s1"}).Body.Close()

	resp, err := http.Post(env.ts.URL+"/api/sessions/s1/chunks", "application/octet-stream", bytes.NewReader(speechBytes(120)))
	if err != nil {
		t.Fatalf("POST chunk failed: %v", err)
	}
	resp.Body.Close()

	s, err := env.manager.Get("s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	resp = postJSON(t, env.ts.URL+"/api/sessions/s1/end", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from end, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}

	// The archive write races the end response; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get(env.ts.URL + "/api/sessions/s1/transcript")
		if err != nil {
			t.Fatalf("GET transcript failed: %v", err)
		}
		if resp.StatusCode == http.StatusOK {
			break
		}
		resp.Body.Close()
		if time.Now().After(deadline) {
			t.Fatalf("transcript never became available, last status %d", resp.StatusCode)
		}
		time.Sleep(10 * time.Millisecond)
	}
	body := decodeBody(t, resp)
	if !strings.Contains(body["transcript"].(string), "text for unit") {
		t.Errorf("unexpected transcript %v", body["transcript"])
	}
	if body["state"] != "ended" {
		t.Errorf("expected ended state, got %v", body["state"])
	}
}

func TestEndRetriedAfterArchiveIsNoOp(t *testing.T) {
	env := newTestEnv(t, nil)

	postJSON(t, env.ts.URL+"/api/sessions", map[string]string{"session_id": "s1"}).Body.Close()
	endAndWait(t, env, "s1")

	// The session is archived and gone from the registry; a retried end
	// must still succeed.
	resp := postJSON(t, env.ts.URL+"/api/sessions/s1/end", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for retried end, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["state"] != "ended" {
		t.Errorf("expected ended state, got %v", body["state"])
	}
}

func TestEndUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := postJSON(t, env.ts.URL+"/api/sessions/missing/end", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEventStreamDeliversConnected(t *testing.T) {
	env := newTestEnv(t, nil)

	postJSON(t, env.ts.URL+"/api/sessions", map[string]string{"session_id": "s1"}).Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/sessions/s1/events", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			if got := strings.TrimPrefix(line, "event: "); got != "connected" {
				t.Errorf("expected first event connected, got %q", got)
			}
			return
		}
	}
	t.Fatal("no event received before stream closed")
}

func TestEventStreamUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.ts.URL + "/api/sessions/missing/events")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func endAndWait(t *testing.T, env *testEnv, id string) {
	t.Helper()
	s, err := env.manager.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	postJSON(t, env.ts.URL+"/api/sessions/"+id+"/end", nil).Body.Close()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
	deadline := time.Now().Add(2 * time.Second)
	for env.manager.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not archived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSummarizeEndedSession(t *testing.T) {
	env := newTestEnv(t, stubSummarizer{text: "a concise recap"})

	postJSON(t, env.ts.URL+"/api/sessions", map[string]string{"session_id": "s1"}).Body.Close()
	resp, err := http.Post(env.ts.URL+"/api/sessions/s1/chunks", "application/octet-stream", bytes.NewReader(speechBytes(120)))
	if err != nil {
		t.Fatalf("POST chunk failed: %v", err)
	}
	resp.Body.Close()
	endAndWait(t, env, "s1")

	resp = postJSON(t, env.ts.URL+"/api/sessions/s1/summary", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["summary"] != "a concise recap" {
		t.Errorf("unexpected summary %v", body["summary"])
	}
	if body["cached"] != false {
		t.Errorf("expected cached=false, got %v", body["cached"])
	}

	// Second request serves the persisted summary.
	resp = postJSON(t, env.ts.URL+"/api/sessions/s1/summary", nil)
	body = decodeBody(t, resp)
	if body["cached"] != true {
		t.Errorf("expected cached=true, got %v", body["cached"])
	}
}

func TestSummarizeLiveSessionRejected(t *testing.T) {
	env := newTestEnv(t, stubSummarizer{text: "x"})

	postJSON(t, env.ts.URL+"/api/sessions", map[string]string{"session_id": "s1"}).Body.Close()

	resp := postJSON(t, env.ts.URL+"/api/sessions/s1/summary", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for live session, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSummarizeDisabled(t *testing.T) {
	env := newTestEnv(t, nil)

	postJSON(t, env.ts.URL+"/api/sessions", map[string]string{"session_id": "s1"}).Body.Close()
	resp, err := http.Post(env.ts.URL+"/api/sessions/s1/chunks", "application/octet-stream", bytes.NewReader(speechBytes(120)))
	if err != nil {
		t.Fatalf("POST chunk failed: %v", err)
	}
	resp.Body.Close()
	endAndWait(t, env, "s1")

	resp = postJSON(t, env.ts.URL+"/api/sessions/s1/summary", nil)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("expected 501 when summarization disabled, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMonitoringEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/health", "/sessions", "/stats", "/config", "/metrics", "/"} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s returned %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestConfigEndpointOmitsSecrets(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.ts.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config failed: %v", err)
	}
	body := decodeBody(t, resp)
	engineCfg, ok := body["engine"].(map[string]any)
	if !ok {
		t.Fatalf("missing engine section: %v", body)
	}
	if _, present := engineCfg["api_key"]; present {
		t.Error("api_key must not be exposed")
	}
}
