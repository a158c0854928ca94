package model

import "time"

// Row keys for entities that live one-per-partition
const (
	RowKeyJob         = "job"
	RowKeyBuild       = "build"
	RowKeyBuildStatus = "status"
	RowKeyTimestamp   = "timestamp"
)

// Product is a single chart product as reported by the catalogue
type Product struct {
	Name          string    `json:"name"`
	Edition       int       `json:"edition"`
	Update        int       `json:"update"`
	Status        string    `json:"status,omitempty"`
	Specification string    `json:"specification,omitempty"`
	FileSize      int64     `json:"fileSize,omitempty"`
	LastModified  time.Time `json:"lastModified,omitempty"`
}

// Job is one request to produce (or correctly skip) an exchange set.
// State fields are only changed through the execution context signals.
type Job struct {
	ID                    string       `json:"id"`
	DataStandard          DataStandard `json:"dataStandard"`
	CorrelationID         string       `json:"correlationId"`
	BatchID               string       `json:"batchId,omitempty"`
	JobState              JobState     `json:"jobState"`
	BuildState            BuildState   `json:"buildState"`
	RequestedProducts     []string     `json:"requestedProducts,omitempty"`
	Products              []Product    `json:"products,omitempty"`
	DataStandardTimestamp time.Time    `json:"dataStandardTimestamp"`
	ProductsLastModified  time.Time    `json:"productsLastModified"`
	ExchangeSetName       string       `json:"exchangeSetName,omitempty"`
	Message               string       `json:"message,omitempty"`
	CreatedAt             time.Time    `json:"createdAt"`
	UpdatedAt             time.Time    `json:"updatedAt"`
}

func (j Job) PartitionKey() string { return j.ID }
func (j Job) RowKey() string       { return RowKeyJob }

// NewJob returns a job in its initial state
func NewJob(id string, ds DataStandard, correlationID string, requested []string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:                id,
		DataStandard:      ds,
		CorrelationID:     correlationID,
		JobState:          JobStateCreated,
		BuildState:        BuildStateNone,
		RequestedProducts: requested,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// NodeStatus records one node execution, either ours or the builder's
type NodeStatus struct {
	Sequence     uint64           `json:"sequence"`
	NodeID       string           `json:"nodeId"`
	Status       NodeResultStatus `json:"status"`
	ElapsedMs    int64            `json:"elapsedMs"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

// Build is the execution record of one content assembly attempt
type Build struct {
	JobID    string       `json:"jobId"`
	BatchID  string       `json:"batchId,omitempty"`
	Statuses []NodeStatus `json:"statuses"`
	Logs     []string     `json:"logs"`
}

func (b Build) PartitionKey() string { return b.JobID }
func (b Build) RowKey() string       { return RowKeyBuild }

// BuildStatus is the queryable projection of a build outcome
type BuildStatus struct {
	JobID          string       `json:"jobId"`
	DataStandard   DataStandard `json:"dataStandard"`
	ExitCode       ExitCode     `json:"exitCode"`
	StartTimestamp time.Time    `json:"startTimestamp"`
	EndTimestamp   *time.Time   `json:"endTimestamp,omitempty"`
	Nodes          []NodeStatus `json:"nodes"`
}

func (s BuildStatus) PartitionKey() string { return s.JobID }
func (s BuildStatus) RowKey() string       { return RowKeyBuildStatus }

// NewBuildStatus returns the NotRun status recorded when a job is first stored
func NewBuildStatus(job *Job, at time.Time) BuildStatus {
	return BuildStatus{
		JobID:          job.ID,
		DataStandard:   job.DataStandard,
		ExitCode:       ExitCodeNotRun,
		StartTimestamp: at.UTC(),
		Nodes:          []NodeStatus{},
	}
}

// BuildMemento is an immutable history entry, one per completion
type BuildMemento struct {
	ID           string       `json:"id"`
	JobID        string       `json:"jobId"`
	DataStandard DataStandard `json:"dataStandard"`
	ExitCode     ExitCode     `json:"exitCode"`
	Nodes        []NodeStatus `json:"nodes"`
	CreatedAt    time.Time    `json:"createdAt"`
}

func (m BuildMemento) PartitionKey() string { return m.JobID }
func (m BuildMemento) RowKey() string       { return m.ID }

// DataStandardTimestamp is the incremental catalogue watermark
type DataStandardTimestamp struct {
	DataStandard DataStandard `json:"dataStandard"`
	Timestamp    time.Time    `json:"timestamp"`
}

func (t DataStandardTimestamp) PartitionKey() string { return string(t.DataStandard) }
func (t DataStandardTimestamp) RowKey() string       { return RowKeyTimestamp }
