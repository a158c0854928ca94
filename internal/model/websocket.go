package model

// WebSocket message types
const (
	WSMessageTypeJobState = "jobState"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSJobStateMessage is pushed to subscribers whenever a pipeline changes a job
type WSJobStateMessage struct {
	Type       string     `json:"type"`
	JobID      string     `json:"jobId"`
	JobState   JobState   `json:"jobState"`
	BuildState BuildState `json:"buildState"`
	BatchID    string     `json:"batchId,omitempty"`
	Message    string     `json:"message,omitempty"`
}
