package model

import "time"

// MessageVersion is written into every queue payload
const MessageVersion = 1

// JobRequest asks the orchestrator to run the assembly pipeline
type JobRequest struct {
	Version       int          `json:"version"`
	Timestamp     time.Time    `json:"timestamp"`
	JobID         string       `json:"jobId"`
	DataStandard  DataStandard `json:"dataStandard"`
	CorrelationID string       `json:"correlationId"`
	Products      []string     `json:"products,omitempty"`
}

// BuildRequest is handed to the external builder
type BuildRequest struct {
	Version                 int          `json:"version"`
	Timestamp               time.Time    `json:"timestamp"`
	JobID                   string       `json:"jobId"`
	BatchID                 string       `json:"batchId"`
	DataStandard            DataStandard `json:"dataStandard"`
	WorkspaceKey            string       `json:"workspaceKey,omitempty"`
	ExchangeSetNameTemplate string       `json:"exchangeSetNameTemplate,omitempty"`
}

// BuildResponse is published by the external builder when it finishes
type BuildResponse struct {
	Version      int          `json:"version,omitempty"`
	Timestamp    time.Time    `json:"timestamp,omitempty"`
	JobID        string       `json:"jobId"`
	DataStandard DataStandard `json:"dataStandard,omitempty"`
	ExitCode     ExitCode     `json:"exitCode"`
}
