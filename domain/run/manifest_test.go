package run

import (
	"testing"

	"degpredict/domain/core"
	"degpredict/domain/stage"
)

func TestFingerprint_Deterministic(t *testing.T) {
	fp1 := NewFingerprint("cfg", "input", "1.0.0")
	fp2 := NewFingerprint("cfg", "input", "1.0.0")

	if fp1.Value != fp2.Value {
		t.Errorf("Fingerprints not identical: %s vs %s", fp1.Value, fp2.Value)
	}
	if fp1.ConfigHash != "cfg" || fp1.InputDigest != "input" || fp1.CodeVersion != "1.0.0" {
		t.Errorf("Fingerprint does not carry its parameters: %+v", fp1)
	}
}

func TestFingerprint_Unique(t *testing.T) {
	base := NewFingerprint("cfg", "input", "1.0.0")

	testCases := []struct {
		name string
		fp   Fingerprint
	}{
		{"config", NewFingerprint("cfg2", "input", "1.0.0")},
		{"input", NewFingerprint("cfg", "input2", "1.0.0")},
		{"code", NewFingerprint("cfg", "input", "1.0.1")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.fp.Value == base.Value {
				t.Errorf("Changing %s did not change the fingerprint", tc.name)
			}
		})
	}
}

func TestManifest_Validate(t *testing.T) {
	fp := NewFingerprint(core.NewHash([]byte("cfg")), "", "dev")

	m := NewManifest(core.NewRunID(), stage.All, fp)
	if err := m.Validate(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	m = NewManifest("", stage.All, fp)
	if err := m.Validate(); err == nil {
		t.Error("Expected error for empty run id")
	}

	m = NewManifest(core.NewRunID(), []stage.Number{9}, fp)
	if err := m.Validate(); err == nil {
		t.Error("Expected error for unknown stage")
	}
}
