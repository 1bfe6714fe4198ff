package run

import (
	"degpredict/domain/core"
	"degpredict/domain/stage"
)

// Status is the lifecycle state of a recorded run
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is the ledger's view of one invocation
type Record struct {
	RunID       core.RunID
	Fingerprint Fingerprint
	Stages      []stage.Number
	Status      Status
	Error       string
	StartedAt   core.Timestamp
	FinishedAt  core.Timestamp
}

// StageRecord is one stage execution as stored in the ledger
type StageRecord struct {
	RunID      core.RunID
	Stage      stage.Number
	Name       stage.Name
	Success    bool
	DurationMS int64
	Warnings   int
	Error      string
	RecordedAt core.Timestamp
	Artifacts  []stage.Artifact
}
