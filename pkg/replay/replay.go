package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"vantage-hq/warden/pkg/decision"
	"vantage-hq/warden/pkg/engine"
	"vantage-hq/warden/pkg/engine/mutate"
	"vantage-hq/warden/pkg/rcp"
)

// VersionSource provides immutable policy versions. The policy store
// satisfies this.
type VersionSource interface {
	GetVersion(ctx context.Context, policyID string, version int) (*rcp.PolicyVersion, error)
}

// RecordSource provides decision records by ID. The decision storage
// satisfies this.
type RecordSource interface {
	Get(ctx context.Context, id string) (*decision.Record, error)
}

// Replayer re-executes recorded decisions.
type Replayer struct {
	versions  VersionSource
	records   RecordSource
	evaluator *engine.Evaluator
	logger    *slog.Logger
}

// New creates a Replayer.
func New(versions VersionSource, records RecordSource, evaluator *engine.Evaluator) *Replayer {
	return &Replayer{
		versions:  versions,
		records:   records,
		evaluator: evaluator,
		logger:    slog.Default().With("component", "replay"),
	}
}

// Replay re-evaluates a recorded decision against its exact policy
// version set and verifies the outcome matches byte-for-byte. The
// reproduced result is returned on success; on divergence the error is
// a *MismatchError carrying both encodings.
func (r *Replayer) Replay(ctx context.Context, recordID string) (*rcp.EvaluationResult, error) {
	record, err := r.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}

	policies, err := r.loadVersionSet(ctx, record.Result.PolicyVersions, nil)
	if err != nil {
		return nil, err
	}

	replayed, err := r.evaluator.Evaluate(ctx, policies, record.Batch, record.Context)
	if err != nil {
		return nil, fmt.Errorf("re-evaluating decision %s: %w", recordID, err)
	}

	recorded, err := canonical(record.Result)
	if err != nil {
		return nil, err
	}
	reproduced, err := canonical(replayed)
	if err != nil {
		return nil, err
	}
	if recorded != reproduced {
		r.logger.Error("replay mismatch", "record_id", recordID)
		return nil, &MismatchError{RecordID: recordID, Recorded: recorded, Replayed: reproduced}
	}

	r.logger.Debug("replay verified", "record_id", recordID)
	return replayed, nil
}

// Override describes a counterfactual input change for WhatIf. Exactly
// one of the two fields may be set.
type Override struct {
	// PolicyVersions substitutes versions for policies in the recorded
	// set, keyed by policy ID. The substituted set is re-evaluated in
	// full.
	PolicyVersions map[string]int

	// Mutations replaces the recorded mutation outcome: the chain is
	// re-applied to each action's pre-mutation value. Blocking
	// decisions (guards, limits, gates) are kept as recorded.
	Mutations []*rcp.MutationRule
}

// WhatIf answers "what would this decision have been" under an
// override. Nothing is persisted.
func (r *Replayer) WhatIf(ctx context.Context, recordID string, override *Override) (*rcp.EvaluationResult, error) {
	record, err := r.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if override == nil || (len(override.PolicyVersions) == 0 && len(override.Mutations) == 0) {
		return nil, &OverrideError{RecordID: recordID, Detail: "no override given"}
	}
	if len(override.PolicyVersions) > 0 && len(override.Mutations) > 0 {
		return nil, &OverrideError{RecordID: recordID, Detail: "policy version and mutation overrides are mutually exclusive"}
	}

	if len(override.PolicyVersions) > 0 {
		return r.whatIfVersions(ctx, record, override.PolicyVersions)
	}
	return r.whatIfMutations(ctx, record, override.Mutations)
}

// whatIfVersions substitutes policy versions and re-evaluates in full.
func (r *Replayer) whatIfVersions(ctx context.Context, record *decision.Record, substitutions map[string]int) (*rcp.EvaluationResult, error) {
	recorded := make(map[string]bool, len(record.Result.PolicyVersions))
	for _, ref := range record.Result.PolicyVersions {
		recorded[ref.PolicyID] = true
	}
	for policyID := range substitutions {
		if !recorded[policyID] {
			return nil, &OverrideError{
				RecordID: record.ID,
				Detail:   fmt.Sprintf("policy %q was not part of the recorded version set", policyID),
			}
		}
	}

	policies, err := r.loadVersionSet(ctx, record.Result.PolicyVersions, substitutions)
	if err != nil {
		return nil, err
	}
	result, err := r.evaluator.Evaluate(ctx, policies, record.Batch, record.Context)
	if err != nil {
		return nil, fmt.Errorf("what-if evaluation of decision %s: %w", record.ID, err)
	}
	return result, nil
}

// whatIfMutations keeps every recorded blocking decision and re-applies
// an alternate mutation chain from each action's pre-mutation value.
func (r *Replayer) whatIfMutations(ctx context.Context, record *decision.Record, mutations []*rcp.MutationRule) (*rcp.EvaluationResult, error) {
	result := &rcp.EvaluationResult{
		Actions:        make([]*rcp.ActionResult, 0, len(record.Result.Actions)),
		PolicyVersions: record.Result.PolicyVersions,
	}

	for i, recorded := range record.Result.Actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		counter := &rcp.ActionResult{
			ActionID:         recorded.ActionID,
			Disposition:      recorded.Disposition,
			FinalValue:       recorded.FinalValue,
			PreMutationValue: recorded.PreMutationValue,
			Reason:           recorded.Reason,
			Fired:            recorded.Fired,
		}

		if !recorded.Blocked() && i < len(record.Batch.Actions) {
			action := record.Batch.Actions[i]
			value, _, err := mutate.Chain(mutations, action.CurrentValue, recorded.PreMutationValue)
			if err != nil {
				return nil, &OverrideError{RecordID: record.ID, Detail: err.Error()}
			}
			counter.FinalValue = value
			switch {
			case value == action.ProposedValue:
				counter.Disposition = rcp.DispositionAllowed
			default:
				counter.Disposition = rcp.DispositionModified
			}
		}
		result.Actions = append(result.Actions, counter)
	}

	result.Aggregate(record.Batch)
	return result, nil
}

func (r *Replayer) loadVersionSet(ctx context.Context, refs []rcp.VersionRef, substitutions map[string]int) ([]*rcp.PolicyVersion, error) {
	policies := make([]*rcp.PolicyVersion, 0, len(refs))
	for _, ref := range refs {
		version := ref.Version
		if v, ok := substitutions[ref.PolicyID]; ok {
			version = v
		}
		pv, err := r.versions.GetVersion(ctx, ref.PolicyID, version)
		if err != nil {
			return nil, fmt.Errorf("loading %s@v%d: %w", ref.PolicyID, version, err)
		}
		policies = append(policies, pv)
	}
	return policies, nil
}

// canonical produces the comparison encoding. encoding/json emits
// struct fields in declaration order and the result holds no maps, so
// equal results encode identically.
func canonical(result *rcp.EvaluationResult) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encoding result for comparison: %w", err)
	}
	return string(raw), nil
}
