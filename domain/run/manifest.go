package run

import (
	"fmt"

	"degpredict/domain/core"
	"degpredict/domain/stage"
)

// Fingerprint identifies the inputs that determine a run's outputs. Two runs
// with equal fingerprints must produce byte-identical artifacts.
type Fingerprint struct {
	ConfigHash  core.Hash `json:"config_hash"`
	InputDigest core.Hash `json:"input_digest,omitempty"`
	CodeVersion string    `json:"code_version"`
	Value       core.Hash `json:"fingerprint"`
}

// NewFingerprint hashes the determinism parameters
func NewFingerprint(configHash, inputDigest core.Hash, codeVersion string) Fingerprint {
	data := fmt.Sprintf("config:%s|input:%s|code:%s", configHash, inputDigest, codeVersion)
	return Fingerprint{
		ConfigHash:  configHash,
		InputDigest: inputDigest,
		CodeVersion: codeVersion,
		Value:       core.NewHash([]byte(data)),
	}
}

// Manifest records what one invocation ran and what it produced
type Manifest struct {
	RunID       core.RunID     `json:"run_id"`
	Stages      []stage.Number `json:"stages"`
	Fingerprint Fingerprint    `json:"fingerprint"`
	Results     []stage.Result `json:"results"`
	CreatedAt   core.Timestamp `json:"created_at"`
}

// NewManifest starts a manifest for the requested stages
func NewManifest(runID core.RunID, stages []stage.Number, fp Fingerprint) *Manifest {
	return &Manifest{
		RunID:       runID,
		Stages:      append([]stage.Number(nil), stages...),
		Fingerprint: fp,
		CreatedAt:   core.Now(),
	}
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return core.NewValidationError("run_manifest", "run_id cannot be empty")
	}
	if len(m.Stages) == 0 {
		return core.NewValidationError("run_manifest", "no stages requested")
	}
	for _, s := range m.Stages {
		if !s.Valid() {
			return core.NewValidationError("run_manifest", fmt.Sprintf("unknown stage %d", int(s)))
		}
	}
	if m.Fingerprint.ConfigHash.IsEmpty() {
		return core.NewValidationError("run_manifest", "config_hash cannot be empty")
	}
	return nil
}
