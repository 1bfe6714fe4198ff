package stage

import (
	"fmt"

	"degpredict/domain/core"
)

// Number is the 1-based position of a stage in the pipeline
type Number int

// Name represents a named stage in the pipeline
type Name string

const (
	Acquire      Number = 1
	Differential Number = 2
	Integrate    Number = 3
	Predict      Number = 4
	Report       Number = 5
)

// All lists the stages in execution order
var All = []Number{Acquire, Differential, Integrate, Predict, Report}

var stageNames = map[Number]Name{
	Acquire:      "acquire",
	Differential: "differential",
	Integrate:    "integrate",
	Predict:      "predict",
	Report:       "report",
}

// Name returns the stage's short name
func (n Number) Name() Name {
	if name, ok := stageNames[n]; ok {
		return name
	}
	return Name(fmt.Sprintf("stage%d", int(n)))
}

func (n Number) String() string { return fmt.Sprintf("%d:%s", int(n), n.Name()) }

// Valid reports whether n is a known stage
func (n Number) Valid() bool {
	_, ok := stageNames[n]
	return ok
}

// Parse accepts a stage number or name
func Parse(s string) (Number, error) {
	for n, name := range stageNames {
		if string(name) == s || fmt.Sprint(int(n)) == s {
			return n, nil
		}
	}
	return 0, core.NewValidationError("stage", fmt.Sprintf("unknown stage %q (want 1-5 or a stage name)", s))
}

// Artifact is one file written by a stage, identified by its storage key
type Artifact struct {
	Key    string    `json:"key"`
	Digest core.Hash `json:"sha256"`
	Bytes  int       `json:"bytes"`
}

// Result represents the output of a stage execution
type Result struct {
	Stage     Number         `json:"stage"`
	Name      Name           `json:"name"`
	Success   bool           `json:"success"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"` // e.g. {"genes": 20000, "up": 12}
	Warnings  []string       `json:"warnings,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  int64          `json:"duration_ms"`

	Err error `json:"-"`
}

// NewResult starts a result for stage n
func NewResult(n Number) *Result {
	return &Result{Stage: n, Name: n.Name(), Counts: make(map[string]int)}
}

// Warn records a non-fatal condition
func (r *Result) Warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Error is a failed stage, carrying its number and name
type Error struct {
	Stage Number
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage %d (%s) failed: %v", int(e.Stage), e.Stage.Name(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// PipelineResult contains the results of one invocation
type PipelineResult struct {
	RunID   core.RunID      `json:"run_id"`
	Results []Result        `json:"results"`
	Overall PipelineSummary `json:"overall"`
}

// PipelineSummary provides high-level pipeline statistics
type PipelineSummary struct {
	TotalStages    int   `json:"total_stages"`
	Successful     int   `json:"successful"`
	Failed         int   `json:"failed"`
	TotalDuration  int64 `json:"total_duration_ms"`
	ArtifactsCount int   `json:"artifacts_count"`
}

// NewPipelineResult creates a new pipeline result
func NewPipelineResult(runID core.RunID) *PipelineResult {
	return &PipelineResult{RunID: runID, Results: make([]Result, 0, len(All))}
}

// AddResult adds a stage result and updates summary
func (r *PipelineResult) AddResult(result Result) {
	r.Results = append(r.Results, result)
	r.Overall.TotalStages++

	if result.Success {
		r.Overall.Successful++
	} else {
		r.Overall.Failed++
	}

	r.Overall.TotalDuration += result.Duration
	r.Overall.ArtifactsCount += len(result.Artifacts)
}

// Success returns true if all stages succeeded
func (r *PipelineResult) Success() bool {
	return r.Overall.Failed == 0
}
