package model

import "strings"

// DataStandard identifies one of the supported chart encodings
type DataStandard string

const (
	DataStandardS100 DataStandard = "s100"
	DataStandardS63  DataStandard = "s63"
	DataStandardS57  DataStandard = "s57"
)

var ValidDataStandards = []DataStandard{
	DataStandardS100, DataStandardS63, DataStandardS57,
}

// ParseDataStandard accepts any casing ("S100", "s100")
func ParseDataStandard(s string) (DataStandard, bool) {
	ds := DataStandard(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range ValidDataStandards {
		if ds == valid {
			return ds, true
		}
	}
	return "", false
}

func (d DataStandard) String() string {
	return string(d)
}

// Job state
type JobState string

const (
	JobStateCreated    JobState = "created"
	JobStateSubmitted  JobState = "submitted"
	JobStateInProgress JobState = "inProgress"
	JobStateCompleted  JobState = "completed"
	JobStateCancelled  JobState = "cancelled"
	JobStateFailed     JobState = "failed"
)

// rank orders job states; terminal states share the highest rank.
func (s JobState) rank() int {
	switch s {
	case JobStateCreated:
		return 1
	case JobStateSubmitted, JobStateInProgress:
		return 2
	case JobStateCompleted, JobStateCancelled, JobStateFailed:
		return 3
	default:
		return 0
	}
}

// IsTerminal reports whether no further job transitions are possible
func (s JobState) IsTerminal() bool {
	return s.rank() == 3
}

// CanMoveTo reports whether next is a forward transition from s
func (s JobState) CanMoveTo(next JobState) bool {
	if s.IsTerminal() {
		return false
	}
	if s == JobStateSubmitted && next == JobStateInProgress {
		return true
	}
	return next.rank() > s.rank()
}

// Build state
type BuildState string

const (
	BuildStateNone         BuildState = "none"
	BuildStateNotScheduled BuildState = "notScheduled"
	BuildStateScheduled    BuildState = "scheduled"
	BuildStateSucceeded    BuildState = "succeeded"
	BuildStateFailed       BuildState = "failed"
)

func (s BuildState) rank() int {
	switch s {
	case BuildStateNone, "":
		return 0
	case BuildStateNotScheduled:
		return 1
	case BuildStateScheduled:
		return 2
	case BuildStateSucceeded, BuildStateFailed:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether the build reached an outcome
func (s BuildState) IsTerminal() bool {
	return s.rank() == 3
}

// CanMoveTo reports whether next is a forward transition from s
func (s BuildState) CanMoveTo(next BuildState) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// Exit code reported by the external builder
type ExitCode string

const (
	ExitCodeNotRun  ExitCode = "notRun"
	ExitCodeSuccess ExitCode = "success"
	ExitCodeFailed  ExitCode = "failed"
)

// NodeResultStatus is the outcome of a single pipeline node
type NodeResultStatus string

const (
	NodeStatusNotRun    NodeResultStatus = "notRun"
	NodeStatusSucceeded NodeResultStatus = "succeeded"
	NodeStatusFailed    NodeResultStatus = "failed"
)

// Product status values returned by the catalogue
const (
	ProductStatusActive    = "active"
	ProductStatusCancelled = "cancelled"
)
