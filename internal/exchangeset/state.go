// Package exchangeset holds the assembly and completion pipelines that move
// an exchange set job from submission to a committed (or discarded) batch.
package exchangeset

import (
	"errors"
	"fmt"
	"time"

	"github.com/exchangeset/orchestrator/internal/model"
)

var (
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrBatchAlreadySet   = errors.New("batch id already set")
)

// Notifier is told about a job each time it has been persisted
type Notifier interface {
	JobStateChanged(job model.Job)
}

// State owns a job's lifecycle fields. JobState, BuildState and BatchID
// are only changed here.
type State struct {
	job      *model.Job
	notifier Notifier
	now      func() time.Time
}

func newState(job *model.Job, notifier Notifier, now func() time.Time) State {
	return State{job: job, notifier: notifier, now: now}
}

// Job returns the job being driven
func (s *State) Job() *model.Job {
	return s.job
}

// SignalBuildRequired records that new content exists and a build is needed
func (s *State) SignalBuildRequired() error {
	return s.transition("", model.BuildStateNotScheduled, "")
}

// SignalBuildScheduled records that the build request was durably enqueued
func (s *State) SignalBuildScheduled() error {
	if s.job.BatchID == "" {
		return fmt.Errorf("%w: cannot schedule without a batch", ErrIllegalTransition)
	}
	return s.transition(model.JobStateSubmitted, model.BuildStateScheduled, "")
}

// SignalAssemblyError fails the job before any build request was produced
func (s *State) SignalAssemblyError(reason string) error {
	return s.transition(model.JobStateFailed, "", reason)
}

// SignalNoChanges cancels the job because the catalogue had nothing new
func (s *State) SignalNoChanges(reason string) error {
	return s.transition(model.JobStateCancelled, "", reason)
}

// SignalBuildFailure fails the job after a non-success build outcome
func (s *State) SignalBuildFailure() error {
	return s.transition(model.JobStateFailed, model.BuildStateFailed, "build did not succeed")
}

// SignalCompleted completes the job after a successful build
func (s *State) SignalCompleted() error {
	return s.transition(model.JobStateCompleted, model.BuildStateSucceeded, "")
}

// SetBatchID assigns the staging batch. The id is immutable once set.
func (s *State) SetBatchID(batchID string) error {
	if s.job.BatchID != "" && s.job.BatchID != batchID {
		return fmt.Errorf("job %s: %w", s.job.ID, ErrBatchAlreadySet)
	}
	s.job.BatchID = batchID
	s.job.UpdatedAt = s.now().UTC()
	return nil
}

// transition validates both moves before applying either. Empty values
// leave the field unchanged.
func (s *State) transition(job model.JobState, build model.BuildState, message string) error {
	if job != "" && !s.job.JobState.CanMoveTo(job) {
		return fmt.Errorf("%w: job %s %s -> %s", ErrIllegalTransition, s.job.ID, s.job.JobState, job)
	}
	if build != "" && !s.job.BuildState.CanMoveTo(build) {
		return fmt.Errorf("%w: build %s %s -> %s", ErrIllegalTransition, s.job.ID, s.job.BuildState, build)
	}

	if job != "" {
		s.job.JobState = job
	}
	if build != "" {
		s.job.BuildState = build
	}
	if message != "" {
		s.job.Message = message
	}
	s.job.UpdatedAt = s.now().UTC()
	return nil
}

// announce tells the notifier about the job as it was just stored. Only
// nodes that persisted the job call it.
func (s *State) announce() {
	if s.notifier != nil && s.job != nil {
		s.notifier.JobStateChanged(*s.job)
	}
}
