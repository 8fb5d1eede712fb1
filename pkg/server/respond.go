package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"vantage-hq/warden/pkg/approval"
	"vantage-hq/warden/pkg/canary"
	"vantage-hq/warden/pkg/decision"
	"vantage-hq/warden/pkg/rcp"
	"vantage-hq/warden/pkg/replay"
	"vantage-hq/warden/pkg/store"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the domain's typed errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	var (
		validationErr    *rcp.ValidationError
		authorityErr     *rcp.AuthorityConflictError
		policyNotFound   *store.PolicyNotFoundError
		versionNotFound  *store.VersionNotFoundError
		activationErr    *store.ActivationConflictError
		decisionNotFound *decision.NotFoundError
		mismatchErr      *replay.MismatchError
		overrideErr      *replay.OverrideError
		requestNotFound  *approval.RequestNotFoundError
		stateErr         *approval.StateError
		rolloutNotFound  *canary.RolloutNotFoundError
		rolloutExists    *canary.RolloutExistsError
		specErr          *canary.SpecError
	)

	switch {
	case errors.As(err, &validationErr), errors.As(err, &overrideErr), errors.As(err, &specErr):
		return http.StatusBadRequest
	case errors.As(err, &authorityErr):
		return http.StatusForbidden
	case errors.As(err, &policyNotFound), errors.As(err, &versionNotFound),
		errors.As(err, &decisionNotFound), errors.As(err, &requestNotFound),
		errors.As(err, &rolloutNotFound):
		return http.StatusNotFound
	case errors.As(err, &activationErr), errors.As(err, &stateErr),
		errors.As(err, &rolloutExists), errors.As(err, &mismatchErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
