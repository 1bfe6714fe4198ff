package app

import (
	"context"
	"fmt"
	"strings"

	"degpredict/adapters/tabular"
	"degpredict/domain/expression"
	"degpredict/internal/config"
	"degpredict/internal/errors"

	"go.uber.org/zap"
)

// Group sources, recorded as evidence next to each assignment
const (
	SourceExplicit  = "groups.assignments"
	SourceConfirmed = KeySampleGroups
	SourceInferred  = "rule"
)

// InferGroup applies the keyword rules to one sample. A sample matched by no
// rule, or by rules for both groups, is an error naming the sample.
func InferGroup(rules []config.GroupRule, s expression.Sample) (expression.Group, string, error) {
	matched := make(map[expression.Group][]string)
	for i, r := range rules {
		if r.Matches(s) {
			matched[r.Group] = append(matched[r.Group], fmt.Sprintf("rule %d (%s)", i+1, r.Field))
		}
	}
	control, treated := matched[expression.GroupControl], matched[expression.GroupTreated]
	switch {
	case len(control) > 0 && len(treated) > 0:
		return expression.GroupNone, "", errors.GroupAssignment(s.ID, "matched both control and treated rules")
	case len(control) > 0:
		return expression.GroupControl, strings.Join(control, ", "), nil
	case len(treated) > 0:
		return expression.GroupTreated, strings.Join(treated, ", "), nil
	}
	return expression.GroupNone, "", errors.GroupAssignment(s.ID, "matched no group rule")
}

// GroupsService suggests sample groups for operator review
type GroupsService struct {
	runner *StageRunner
	groups config.GroupConfig
}

// NewGroupsService creates the group suggestion service
func NewGroupsService(runner *StageRunner, groups config.GroupConfig) *GroupsService {
	return &GroupsService{runner: runner, groups: groups}
}

// Suggest reads the stage 1 metadata, assigns each sample from explicit
// configuration, an existing reviewed file (unless reset) or the rules, and
// writes processed/sample_groups.csv. Samples the rules cannot place are left
// blank for the operator to fill in. Rule-placed rows keep "rule: ..." evidence
// and stay unconfirmed until the operator edits that evidence.
func (s *GroupsService) Suggest(ctx context.Context, reset bool) ([]expression.Sample, map[string]string, error) {
	data, err := s.runner.ReadCheckpoint(ctx, KeyExpressionMetadata)
	if err != nil {
		return nil, nil, err
	}
	samples, err := tabular.DecodeSamples(KeyExpressionMetadata, data)
	if err != nil {
		return nil, nil, err
	}

	var existing map[string]expression.Group
	if !reset {
		if existing, err = loadConfirmedGroups(ctx, s.runner); err != nil {
			return nil, nil, err
		}
	}

	evidence := make(map[string]string, len(samples))
	for i := range samples {
		smp := &samples[i]
		if g, ok := s.groups.Assignments[smp.ID]; ok {
			grp, err := expression.ParseGroup(g)
			if err != nil {
				return nil, nil, errors.GroupAssignment(smp.ID, err.Error())
			}
			smp.Group = grp
			evidence[smp.ID] = SourceExplicit
			continue
		}
		if g := existing[smp.ID]; g != expression.GroupNone {
			smp.Group = g
			evidence[smp.ID] = "reviewed"
			continue
		}
		g, why, err := InferGroup(s.groups.Rules, *smp)
		if err != nil {
			smp.Group = expression.GroupNone
			evidence[smp.ID] = err.Error()
			continue
		}
		smp.Group = g
		evidence[smp.ID] = SourceInferred + ": " + why
	}

	out, err := tabular.EncodeGroupAssignments(samples, evidence)
	if err != nil {
		return nil, nil, err
	}
	if err := s.runner.Store().Put(ctx, KeySampleGroups, out); err != nil {
		return nil, nil, errors.Storage(KeySampleGroups, err)
	}
	s.runner.Logger().Info("sample groups written for review",
		zap.String("key", KeySampleGroups),
		zap.Int("samples", len(samples)))
	return samples, evidence, nil
}

// loadConfirmedGroups reads the reviewed assignments file if present. Rows
// whose evidence still reads "rule: ..." are suggestions the operator has not
// touched and count as unassigned.
func loadConfirmedGroups(ctx context.Context, runner *StageRunner) (map[string]expression.Group, error) {
	ok, err := runner.Store().Exists(ctx, KeySampleGroups)
	if err != nil {
		return nil, errors.Storage(KeySampleGroups, err)
	}
	if !ok {
		return nil, nil
	}
	data, err := runner.Store().Get(ctx, KeySampleGroups)
	if err != nil {
		return nil, errors.Storage(KeySampleGroups, err)
	}
	groups, err := tabular.DecodeGroupAssignments(KeySampleGroups, data)
	if err != nil {
		return nil, err
	}
	evidence, err := tabular.DecodeGroupEvidence(KeySampleGroups, data)
	if err != nil {
		return nil, err
	}
	for id, ev := range evidence {
		if isSuggestion(ev) {
			groups[id] = expression.GroupNone
		}
	}
	return groups, nil
}

func isSuggestion(evidence string) bool {
	return strings.HasPrefix(evidence, SourceInferred+":")
}

// ResolveGroups assigns every sample with the precedence explicit
// configuration, reviewed file, then rules. Rules only count when
// confirm_inferred is set. Returns the evidence per sample.
func ResolveGroups(ctx context.Context, runner *StageRunner, cfg config.GroupConfig, samples []expression.Sample) (map[string]string, error) {
	confirmed, err := loadConfirmedGroups(ctx, runner)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(samples))
	evidence := make(map[string]string, len(samples))
	for i := range samples {
		smp := &samples[i]
		known[smp.ID] = struct{}{}
		if g, ok := cfg.Assignments[smp.ID]; ok {
			grp, err := expression.ParseGroup(g)
			if err != nil {
				return nil, errors.GroupAssignment(smp.ID, err.Error())
			}
			smp.Group, evidence[smp.ID] = grp, SourceExplicit
			continue
		}
		if g := confirmed[smp.ID]; g != expression.GroupNone {
			smp.Group, evidence[smp.ID] = g, SourceConfirmed
			continue
		}
		if !cfg.ConfirmInferred {
			return nil, errors.GroupAssignment(smp.ID,
				"no confirmed group: run `degpredict groups`, review "+KeySampleGroups+
					", or set groups.confirm_inferred to accept rule-based assignment")
		}
		g, why, err := InferGroup(cfg.Rules, *smp)
		if err != nil {
			return nil, err
		}
		smp.Group, evidence[smp.ID] = g, SourceInferred+": "+why
	}

	for id := range cfg.Assignments {
		if _, ok := known[id]; !ok {
			runner.Logger().Warn("groups.assignments names a sample that is not in the series", zap.String("sample", id))
		}
	}

	var control, treated int
	for _, smp := range samples {
		switch smp.Group {
		case expression.GroupControl:
			control++
		case expression.GroupTreated:
			treated++
		}
	}
	if control < 2 || treated < 2 {
		return nil, errors.GroupAssignment("", fmt.Sprintf(
			"need at least two samples per group, have control=%d treated=%d", control, treated))
	}
	return evidence, nil
}
