package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bujji-ai/vision-assistant/internal/config"
	speechhandler "github.com/bujji-ai/vision-assistant/internal/handler/speech"
	speechmodel "github.com/bujji-ai/vision-assistant/internal/model/speech"
	"github.com/bujji-ai/vision-assistant/internal/service/assistant"
	realtimesvc "github.com/bujji-ai/vision-assistant/internal/service/realtime"
	sessionservice "github.com/bujji-ai/vision-assistant/internal/service/session"
)

type fakeVision struct{}

func (fakeVision) Describe(_ context.Context, _ []byte, _, _ string) (string, error) {
	return "a desk", nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(_ context.Context, _ *speechmodel.TranscriptionRequest) (*speechmodel.Transcription, error) {
	return &speechmodel.Transcription{Text: "hi"}, nil
}

func newTestRouter(withVision, withSpeech bool) http.Handler {
	store := sessionservice.NewService()
	registry := realtimesvc.NewRegistry(func(clientID string) {
		store.Clear(context.Background(), clientID)
	})

	var vision assistant.VisionDescriber
	if withVision {
		vision = fakeVision{}
	}
	assistantSvc := assistant.NewService(store, vision, nil, time.Second)

	var transcriber speechhandler.Transcriber
	if withSpeech {
		transcriber = fakeTranscriber{}
	}

	return NewRouter(assistantSvc, transcriber, registry, store, config.CORSConfig{Origins: []string{"*"}})
}

func TestAPIBanner(t *testing.T) {
	r := newTestRouter(true, true)

	req := httptest.NewRequest(http.MethodGet, "/api/", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["message"] != "Bujji AI Vision Assistant API" {
		t.Fatalf("unexpected banner: %q", body["message"])
	}
}

func TestHealthReportsLoadedCapabilities(t *testing.T) {
	r := newTestRouter(true, true)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Status       string `json:"status"`
		VisionLoaded bool   `json:"vision_loaded"`
		SpeechLoaded bool   `json:"speech_loaded"`
		Timestamp    string `json:"timestamp"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Status != "healthy" || !body.VisionLoaded || !body.SpeechLoaded {
		t.Fatalf("unexpected health body: %+v", body)
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", body.Timestamp)
	}
}

func TestHealthDegraded(t *testing.T) {
	r := newTestRouter(false, false)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("health must stay 200 when capabilities are missing, got %d", resp.Code)
	}

	var body struct {
		Status       string `json:"status"`
		VisionLoaded bool   `json:"vision_loaded"`
		SpeechLoaded bool   `json:"speech_loaded"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Status != "healthy" || body.VisionLoaded || body.SpeechLoaded {
		t.Fatalf("unexpected degraded health body: %+v", body)
	}
}

func TestAnalyzeSceneRouted(t *testing.T) {
	r := newTestRouter(true, true)

	image := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	payload, _ := json.Marshal(map[string]string{
		"image_data": image,
		"client_id":  "client-1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/analyze-scene", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestTranscribeUnavailableWithoutSpeech(t *testing.T) {
	r := newTestRouter(true, false)

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe-audio", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	r := newTestRouter(true, true)

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unknown route must answer JSON: %v", err)
	}
	if body["error"] != "not found" {
		t.Fatalf("unexpected 404 body: %q", body["error"])
	}
}

func TestWrongMethodAnswersJSON(t *testing.T) {
	r := newTestRouter(true, true)

	req := httptest.NewRequest(http.MethodGet, "/api/analyze-scene", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("wrong method must answer JSON: %v", err)
	}
	if body["error"] != "method not allowed" {
		t.Fatalf("unexpected 405 body: %q", body["error"])
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(true, true)

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze-scene", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if allow := resp.Header().Get("Access-Control-Allow-Origin"); allow == "" {
		t.Fatal("expected CORS headers on preflight response")
	}
}
