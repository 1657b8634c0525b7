package vision

import "time"

// AnalysisResult 场景分析结果
type AnalysisResult struct {
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence"` // 0.0-1.0
}

// Answer 基于场景上下文的问答结果
type Answer struct {
	Answer       string    `json:"answer"`
	SceneContext string    `json:"scene_context"`
	Timestamp    time.Time `json:"timestamp"`
}
