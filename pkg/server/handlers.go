package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"vantage-hq/warden/pkg/canary"
	"vantage-hq/warden/pkg/decision"
	"vantage-hq/warden/pkg/notify"
	"vantage-hq/warden/pkg/rcp"
	"vantage-hq/warden/pkg/replay"
)

// Headers identifying the acting principal on write endpoints.
const (
	PrincipalHeader = "X-Warden-Principal"
	AuthorityHeader = "X-Warden-Authority"
)

// principal extracts the acting principal and their authority tier
// from the request headers.
func principal(r *http.Request) (string, rcp.Authority, error) {
	name := r.Header.Get(PrincipalHeader)
	if name == "" {
		return "", 0, fmt.Errorf("missing %s header", PrincipalHeader)
	}
	authority, err := rcp.ParseAuthority(r.Header.Get(AuthorityHeader))
	if err != nil {
		return "", 0, fmt.Errorf("invalid %s header: %w", AuthorityHeader, err)
	}
	return name, authority, nil
}

type evaluateRequest struct {
	Batch   *rcp.Batch   `json:"batch"`
	Context *rcp.Context `json:"context"`
}

type evaluateResponse struct {
	DecisionID       string                `json:"decision_id,omitempty"`
	Result           *rcp.EvaluationResult `json:"result"`
	RequiresApproval bool                  `json:"requires_approval,omitempty"`
}

// handleEvaluate runs one batch through the effective policy set,
// records the decision, and reports the outcome. Batches whose
// aggregate risk cost exceeds the configured threshold are flagged as
// requiring sign-off before the producer may apply them.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Batch == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "batch is required"})
		return
	}
	ectx := req.Context
	if ectx == nil {
		ectx = &rcp.Context{}
	}
	if ectx.EvaluatedAt.IsZero() {
		ectx.EvaluatedAt = time.Now().UTC()
	}

	ctx, span := s.tracer.Start(r.Context(), "warden.evaluate")
	defer span.End()

	policies, err := s.store.ListEffective(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	result, err := s.evaluator.Evaluate(ctx, policies, req.Batch, ectx)
	if err != nil {
		writeError(w, err)
		return
	}
	s.observeEvaluation(result, time.Since(start))

	resp := evaluateResponse{Result: result}
	if s.config.HighRiskThreshold > 0 && result.Stats.TotalRiskCost > s.config.HighRiskThreshold {
		resp.RequiresApproval = true
	}

	if s.recorder != nil {
		record, err := decision.NewRecord(req.Batch, ectx, result, s.revision())
		if err != nil {
			writeError(w, err)
			return
		}
		resp.DecisionID = record.ID
		if err := s.recorder.Record(ctx, record); err != nil {
			// The decision stands; losing the audit write is logged,
			// not surfaced to the producer.
			slog.ErrorContext(ctx, "decision record failed",
				"decision_id", record.ID, "error", err)
		}
	}

	if result.Batch == rcp.BatchBlocked {
		s.notifier.Notify(ctx, notify.Event{
			Type:    notify.EventBatchBlocked,
			Message: fmt.Sprintf("batch from %s fully blocked", req.Batch.Source),
			Fields: map[string]string{
				"source":      req.Batch.Source,
				"decision_id": resp.DecisionID,
			},
			At: time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListPolicies returns the effective set, either now or, with
// ?at=<RFC 3339>, as of a past instant for audit drill-down.
func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	var (
		policies []*rcp.PolicyVersion
		err      error
	)
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid at parameter: " + perr.Error()})
			return
		}
		policies, err = s.store.ListEffectiveAt(r.Context(), at)
	} else {
		policies, err = s.store.ListEffective(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (s *Server) handlePublishPolicy(w http.ResponseWriter, r *http.Request) {
	who, authority, err := principal(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
		return
	}

	var p rcp.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid policy document: " + err.Error()})
		return
	}

	version, err := s.store.Publish(r.Context(), &p, who, authority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.store.ListVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

type activateRequest struct {
	Version  int `json:"version"`
	Expected int `json:"expected"`
}

func (s *Server) handleActivatePolicy(w http.ResponseWriter, r *http.Request) {
	if _, _, err := principal(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	policyID := r.PathValue("id")
	if err := s.store.Activate(r.Context(), policyID, req.Version, req.Expected); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"policy_id": policyID,
		"version":   req.Version,
	})
}

func (s *Server) handleQueryDecisions(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "decision recording is disabled"})
		return
	}

	query, err := parseDecisionQuery(r, s.config.QueryDefaultLimit, s.config.QueryMaxLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	records, err := s.decisions.Query(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func parseDecisionQuery(r *http.Request, defaultLimit, maxLimit int) (*decision.Query, error) {
	q := &decision.Query{
		Source:   r.URL.Query().Get("source"),
		PolicyID: r.URL.Query().Get("policy"),
		Limit:    defaultLimit,
	}
	if d := r.URL.Query().Get("disposition"); d != "" {
		q.Disposition = rcp.BatchDisposition(d)
	}
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid start time: %w", err)
		}
		q.StartTime = &t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid end time: %w", err)
		}
		q.EndTime = &t
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = limit
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, fmt.Errorf("invalid offset %q", raw)
		}
		q.Offset = offset
	}
	return q, nil
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "decision recording is disabled"})
		return
	}
	record, err := s.decisions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "warden.replay")
	defer span.End()

	result, err := s.replayer.Replay(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reproduced": true,
		"result":     result,
	})
}

type whatIfRequest struct {
	PolicyVersions map[string]int      `json:"policy_versions,omitempty"`
	Mutations      []*rcp.MutationRule `json:"mutations,omitempty"`
}

func (s *Server) handleWhatIf(w http.ResponseWriter, r *http.Request) {
	var req whatIfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "warden.whatif")
	defer span.End()

	result, err := s.replayer.WhatIf(ctx, r.PathValue("id"), &replay.Override{
		PolicyVersions: req.PolicyVersions,
		Mutations:      req.Mutations,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type submitApprovalRequest struct {
	PolicyID string `json:"policy_id"`
	Version  int    `json:"version"`
}

func (s *Server) handleSubmitApproval(w http.ResponseWriter, r *http.Request) {
	who, _, err := principal(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
		return
	}

	var req submitApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	request, err := s.approvals.Submit(r.Context(), req.PolicyID, req.Version, who)
	if err != nil {
		writeError(w, err)
		return
	}
	s.observeApproval("pending")
	writeJSON(w, http.StatusCreated, request)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.approvals.ListPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SetApprovalsPending(len(pending))
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	who, authority, err := principal(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
		return
	}

	request, err := s.approvals.Approve(r.Context(), r.PathValue("id"), who, authority)
	if err != nil {
		writeError(w, err)
		return
	}
	s.observeApproval(string(request.State))
	writeJSON(w, http.StatusOK, request)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	who, _, err := principal(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	request, err := s.approvals.Reject(r.Context(), r.PathValue("id"), who, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	s.observeApproval("rejected")
	writeJSON(w, http.StatusOK, request)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if _, _, err := principal(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
		return
	}

	request, err := s.approvals.Apply(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.observeApproval("applied")
	writeJSON(w, http.StatusOK, request)
}

type beginRolloutRequest struct {
	PolicyID      string             `json:"policy_id"`
	Version       int                `json:"version"`
	Step          float64            `json:"step,omitempty"`
	Thresholds    []canary.Threshold `json:"thresholds"`
	RollbackAfter int                `json:"rollback_after,omitempty"`
	PromoteAfter  int                `json:"promote_after,omitempty"`
}

func (s *Server) handleBeginRollout(w http.ResponseWriter, r *http.Request) {
	if s.canary == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "canary controller is disabled"})
		return
	}
	if _, _, err := principal(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
		return
	}

	var req beginRolloutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	rollout, err := s.canary.Begin(r.Context(), canary.Spec{
		PolicyID:      req.PolicyID,
		Version:       req.Version,
		Step:          req.Step,
		Thresholds:    req.Thresholds,
		RollbackAfter: req.RollbackAfter,
		PromoteAfter:  req.PromoteAfter,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SetCanaryFraction(rollout.PolicyID, rollout.Fraction)
	}
	writeJSON(w, http.StatusCreated, rollout)
}

func (s *Server) handleListRollouts(w http.ResponseWriter, r *http.Request) {
	if s.canary == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "canary controller is disabled"})
		return
	}
	rollouts, err := s.canary.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollouts)
}

func (s *Server) handleGetRollout(w http.ResponseWriter, r *http.Request) {
	if s.canary == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "canary controller is disabled"})
		return
	}
	rollout, err := s.canary.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollout)
}

func (s *Server) observeEvaluation(result *rcp.EvaluationResult, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordEvaluation(string(result.Batch), elapsed, result.Stats.TotalRiskCost)
	for _, action := range result.Actions {
		for _, fired := range action.Fired {
			s.metrics.RecordRuleFired(fired.PolicyID, string(fired.Kind), string(fired.Effect))
		}
	}
}

func (s *Server) observeApproval(state string) {
	if s.metrics != nil {
		s.metrics.RecordApprovalTransition(state)
	}
}
