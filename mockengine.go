//go:build ignore

// Standalone mock recognition engine for local development.
//
//	go run mockengine.go
//
// Point the service at http://localhost:9000/recognize and every unit comes
// back with a deterministic fake transcription.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/audio"
)

type recognitionResponse struct {
	Text       string    `json:"text"`
	Confidence float32   `json:"confidence"`
	Language   string    `json:"language"`
	Duration   float64   `json:"duration"`
	ReceivedAt time.Time `json:"received_at"`
}

func recognizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	unitID := r.FormValue("unit_id")
	sessionID := r.FormValue("session_id")
	sequence := r.FormValue("sequence")
	final := r.FormValue("final")
	language := r.FormValue("language")

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	// Decode the upload the way a real engine would, so malformed
	// payloads surface here instead of as silent garbage.
	samples, sampleRate, err := audio.DecodeWAV(audioData)
	if err != nil {
		http.Error(w, "Malformed WAV payload", http.StatusBadRequest)
		return
	}
	duration, err := audio.WAVDuration(audioData)
	if err != nil {
		http.Error(w, "Malformed WAV payload", http.StatusBadRequest)
		return
	}

	log.Printf("recognition request: session=%s unit=%s seq=%s final=%s file=%s samples=%d rate=%d duration=%.3fs",
		sessionID, unitID, sequence, final, header.Filename, len(samples), sampleRate, duration)

	// Simulate engine latency
	time.Sleep(200 * time.Millisecond)

	response := recognitionResponse{
		Text:       fmt.Sprintf("mock transcription for unit %s of session %s", sequence, sessionID),
		Confidence: 0.95,
		Language:   language,
		Duration:   duration,
		ReceivedAt: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func main() {
	http.HandleFunc("/recognize", recognizeHandler)

	port := ":9000"
	log.Printf("Mock recognition engine starting on port %s", port)
	log.Printf("Endpoint: http://localhost%s/recognize", port)

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
