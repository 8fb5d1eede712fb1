package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"vantage-hq/warden/pkg/rcp"
)

// idBucket is the timestamp granularity folded into the record ID. Two
// evaluations of the same batch against the same version set inside one
// bucket collapse into one record.
const idBucket = time.Second

// ComputeID derives the decision record ID from its content: the
// source, the batch, the policy version set and the bucketed evaluation
// timestamp. Identical inputs always produce the same ID, so duplicate
// submissions are suppressed at the storage layer.
func ComputeID(batch *rcp.Batch, ectx *rcp.Context, versions []rcp.VersionRef) (string, error) {
	payload := struct {
		Source      string           `json:"source"`
		Batch       *rcp.Batch       `json:"batch"`
		Versions    []rcp.VersionRef `json:"versions"`
		EvaluatedAt int64            `json:"evaluated_at"`
	}{
		Source:      batch.Source,
		Batch:       batch,
		Versions:    versions,
		EvaluatedAt: ectx.EvaluatedAt.Truncate(idBucket).UnixNano(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("hashing decision content: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// NewRecord assembles a record from an evaluation, computing its
// content-derived ID.
func NewRecord(batch *rcp.Batch, ectx *rcp.Context, result *rcp.EvaluationResult, revision string) (*Record, error) {
	id, err := ComputeID(batch, ectx, result.PolicyVersions)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:         id,
		Source:     batch.Source,
		Batch:      batch,
		Context:    ectx,
		Result:     result,
		Revision:   revision,
		RecordedAt: time.Now(),
	}, nil
}
