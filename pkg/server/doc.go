// Package server provides the warden admin and evaluation HTTP API.
//
// The server is a thin transport over the domain packages: it decodes
// requests, calls the evaluator, store, replayer, approval manager, and
// canary controller, and maps their typed errors to HTTP statuses. No
// governance logic lives here.
//
// Endpoints:
//
//	POST /v1/evaluate                   evaluate an action batch
//	GET  /v1/policies                   list effective policy versions (?at= for a past instant)
//	POST /v1/policies                   publish a draft
//	GET  /v1/policies/{id}/versions     list all versions of a policy
//	POST /v1/policies/{id}/activate     move the active version pointer
//	GET  /v1/decisions                  query decision records
//	GET  /v1/decisions/{id}             fetch one decision record
//	POST /v1/decisions/{id}/replay      re-evaluate and verify
//	POST /v1/decisions/{id}/whatif      counterfactual evaluation
//	POST /v1/approvals                  submit a change for sign-off
//	GET  /v1/approvals                  list pending requests
//	POST /v1/approvals/{id}/approve     record a sign-off
//	POST /v1/approvals/{id}/reject      reject a request
//	POST /v1/approvals/{id}/apply       activate an approved change
//	POST /v1/rollouts                   begin a canary rollout
//	GET  /v1/rollouts                   list active rollouts
//	GET  /v1/rollouts/{id}              fetch one rollout
//	GET  /metrics, /healthz, /readyz    operational endpoints
//
// Write endpoints carry the acting principal in X-Warden-Principal and
// their authority tier in X-Warden-Authority. The server trusts these
// headers; authenticating them is the deployment's concern (fronting
// proxy or service mesh).
package server
