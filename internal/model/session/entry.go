package session

import "time"

// Entry persists individual question/answer turns for audit/debug.
type Entry struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"clientId"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	SceneContext string    `json:"sceneContext"`
	CreatedAt    time.Time `json:"createdAt"`
}
