package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bujji-ai/vision-assistant/internal/config"
	speechmodel "github.com/bujji-ai/vision-assistant/internal/model/speech"
)

// Service 封装兼容 OpenAI 接口的语音转写客户端。
type Service struct {
	cfg    config.SpeechConfig
	client *http.Client
}

// NewService 创建语音转写服务。
func NewService(cfg config.SpeechConfig) *Service {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// transcriptionResponse 对应 verbose_json 响应格式。
type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe 上传音频并返回带时间分段的转写结果。
func (s *Service) Transcribe(ctx context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.Transcription, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	if _, err := io.Copy(part, req.Audio); err != nil {
		return nil, fmt.Errorf("failed to read audio payload: %w", err)
	}

	language := req.Language
	if language == "" {
		language = s.cfg.Language
	}

	for _, field := range [][2]string{
		{"model", s.cfg.Model},
		{"language", language},
		{"response_format", "verbose_json"},
	} {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, fmt.Errorf("failed to build transcription request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}

	endpoint := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/v1/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	segments := make([]speechmodel.Segment, 0, len(parsed.Segments))
	for _, seg := range parsed.Segments {
		segments = append(segments, speechmodel.Segment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}

	if parsed.Language == "" {
		parsed.Language = language
	}

	result := &speechmodel.Transcription{
		Text:      strings.TrimSpace(parsed.Text),
		Language:  parsed.Language,
		Duration:  parsed.Duration,
		Segments:  segments,
		RequestID: uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	log.Ctx(ctx).Info().
		Str("request_id", result.RequestID).
		Str("language", result.Language).
		Float64("duration", result.Duration).
		Int("segments", len(result.Segments)).
		Msg("audio transcription completed")

	return result, nil
}
