package assist

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/bujji-ai/vision-assistant/internal/service/assistant"
)

// Handler 视觉助手的HTTP处理器
type Handler struct {
	assistantSvc *assistant.Service
}

// New 创建视觉助手处理器
func New(assistantSvc *assistant.Service) *Handler {
	return &Handler{assistantSvc: assistantSvc}
}

// RegisterRoutes 注册场景分析相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyze-scene", h.handleAnalyzeScene)
	r.Post("/ask-question", h.handleAskQuestion)
}

// handleAnalyzeScene 分析摄像头画面并更新场景上下文
func (h *Handler) handleAnalyzeScene(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ImageData string `json:"image_data"`
		ClientID  string `json:"client_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.ClientID == "" {
		respondError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	if payload.ImageData == "" {
		respondError(w, http.StatusBadRequest, "image_data is required")
		return
	}

	image, err := decodeImagePayload(payload.ImageData)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid image data")
		return
	}

	result, err := h.assistantSvc.AnalyzeScene(r.Context(), payload.ClientID, image)
	if err != nil {
		respondAssistantError(w, r, err, "scene analysis failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleAskQuestion 基于最近的场景描述回答问题
func (h *Handler) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Question string `json:"question"`
		ClientID string `json:"client_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.ClientID == "" {
		respondError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	if payload.Question == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := h.assistantSvc.AnswerQuestion(r.Context(), payload.ClientID, payload.Question)
	if err != nil {
		respondAssistantError(w, r, err, "question answering failed")
		return
	}

	respondJSON(w, http.StatusOK, answer)
}

// decodeImagePayload 去掉 data URL 前缀并解码 base64 图像
func decodeImagePayload(data string) ([]byte, error) {
	if idx := strings.Index(data, ","); idx >= 0 {
		data = data[idx+1:]
	}
	return base64.StdEncoding.DecodeString(data)
}

// respondAssistantError 将服务错误映射为对应的HTTP状态码
func respondAssistantError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, assistant.ErrInvalidImage):
		respondError(w, http.StatusBadRequest, "invalid image data")
	case errors.Is(err, assistant.ErrNoSceneContext):
		respondError(w, http.StatusBadRequest, "No recent scene analysis available. Please capture a scene first.")
	case errors.Is(err, assistant.ErrVisionUnavailable):
		respondError(w, http.StatusServiceUnavailable, "Vision AI not available")
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg(fallback)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

// respondJSON 发送JSON响应
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError 发送错误响应
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
