package speech

import (
	"io"
	"time"
)

// TranscriptionRequest 语音转写请求
type TranscriptionRequest struct {
	Audio    io.Reader `json:"-"`
	Filename string    `json:"filename"`
	Language string    `json:"language"` // en, zh, etc.
}

// Transcription 语音转写响应
type Transcription struct {
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Duration  float64   `json:"duration"` // seconds
	Segments  []Segment `json:"segments"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Segment 转写分段
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"` // seconds from start
	End   float64 `json:"end"`   // seconds from start
	Text  string  `json:"text"`
}
