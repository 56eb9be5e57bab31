package dto

import "encoding/json"

// WSMessage is the envelope for every WebSocket frame.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SubscribeRequest is sent by a client to follow one job's progress.
// An empty JobID subscribes to all jobs.
type SubscribeRequest struct {
	JobID string `json:"job_id"`
}
