package model

import "time"

// SubmitJobRequest is the body of POST /api/jobs
type SubmitJobRequest struct {
	DataStandard  string   `json:"dataStandard" validate:"required,oneof=s100 s63 s57 S100 S63 S57"`
	CorrelationID string   `json:"correlationId,omitempty" validate:"omitempty,max=128"`
	Products      []string `json:"products,omitempty" validate:"omitempty,max=500,dive,required,max=64"`
}

// SubmitJobResponse is returned once a job has been accepted
type SubmitJobResponse struct {
	JobID        string       `json:"jobId"`
	DataStandard DataStandard `json:"dataStandard"`
	JobState     JobState     `json:"jobState"`
	BuildState   BuildState   `json:"buildState"`
	BatchID      string       `json:"batchId,omitempty"`
	Message      string       `json:"message,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// MementoListResponse is a job's build history, oldest first
type MementoListResponse struct {
	JobID    string         `json:"jobId"`
	Mementos []BuildMemento `json:"mementos"`
}
