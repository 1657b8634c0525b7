package session

import "time"

// Session captures the transient per-client conversational context.
type Session struct {
	ClientID         string    `json:"clientId"`
	SceneDescription string    `json:"sceneDescription"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
