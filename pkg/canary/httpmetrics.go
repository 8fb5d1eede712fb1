package canary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPMetricsSource fetches rollout health metrics from an HTTP
// endpoint. The endpoint receives the policy ID as a query parameter
// and must answer with a flat JSON object of metric name to value:
//
//	GET /canary-metrics?policy_id=risk-ceiling
//	{"error_rate": 0.01, "p99_latency_ms": 140}
//
// Transport failures surface as errors, which the controller counts
// as breaches.
type HTTPMetricsSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTPMetricsSource creates a source polling the given endpoint.
func NewHTTPMetricsSource(endpoint string) *HTTPMetricsSource {
	return &HTTPMetricsSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Metrics implements MetricsSource.
func (s *HTTPMetricsSource) Metrics(ctx context.Context, policyID string) (map[string]float64, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing metrics endpoint: %w", err)
	}
	q := u.Query()
	q.Set("policy_id", policyID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building metrics request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching metrics for %s: %w", policyID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics endpoint returned %d for %s", resp.StatusCode, policyID)
	}

	var metrics map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		return nil, fmt.Errorf("decoding metrics for %s: %w", policyID, err)
	}
	return metrics, nil
}
