package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	speechmodel "github.com/bujji-ai/vision-assistant/internal/model/speech"
)

// Transcriber 抽象语音转写，便于测试与替换实现
type Transcriber interface {
	Transcribe(ctx context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.Transcription, error)
}

// Handler 语音转写的HTTP处理器
type Handler struct {
	transcriber Transcriber
}

// New 创建语音处理器。transcriber 为 nil 时端点返回 503。
func New(transcriber Transcriber) *Handler {
	return &Handler{transcriber: transcriber}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/transcribe-audio", h.handleTranscribe)
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		h.respondError(w, http.StatusServiceUnavailable, "speech recognition not available")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB max
		h.respondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}

	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") {
		h.respondError(w, http.StatusBadRequest, "file must be an audio format")
		return
	}

	result, err := h.transcriber.Transcribe(r.Context(), &speechmodel.TranscriptionRequest{
		Audio:    file,
		Filename: header.Filename,
		Language: r.FormValue("language"),
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("audio transcription failed")
		h.respondError(w, http.StatusInternalServerError, "speech recognition failed")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"transcription": result.Text,
		"language":      result.Language,
		"segments":      result.Segments,
	})
}

// respondJSON 发送JSON响应
func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// respondError 发送错误响应
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
