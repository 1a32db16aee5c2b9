package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// AgentMetrics aggregates the task counters of one agent as scraped by a
// Prometheus server.
type AgentMetrics struct {
	Agent       string  `json:"agent"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	AvgDuration float64 `json:"avg_duration_seconds"`
}

// QueryService reads aggregates back from Prometheus.
type QueryService struct {
	namespace string
	queryAPI  v1.API
}

// NewQueryService creates a query service for metrics recorded under namespace.
func NewQueryService(prometheusURL, namespace string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		namespace: namespace,
		queryAPI:  v1.NewAPI(client),
	}, nil
}

// GetAgentMetrics sums task outcomes and the mean task duration for agentID.
func (q *QueryService) GetAgentMetrics(ctx context.Context, agentID string) (*AgentMetrics, error) {
	m := &AgentMetrics{Agent: agentID}
	now := time.Now()

	completed, err := q.scalar(ctx, fmt.Sprintf(`sum(%s_agent_tasks_total{agent=%q, status="completed"})`, q.namespace, agentID), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed tasks: %w", err)
	}
	m.Completed = int64(completed)

	failed, err := q.scalar(ctx, fmt.Sprintf(`sum(%s_agent_tasks_total{agent=%q, status="failed"})`, q.namespace, agentID), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed tasks: %w", err)
	}
	m.Failed = int64(failed)

	avg, err := q.scalar(ctx, fmt.Sprintf(
		`sum(%[1]s_agent_task_duration_seconds_sum{agent=%[2]q}) / sum(%[1]s_agent_task_duration_seconds_count{agent=%[2]q})`,
		q.namespace, agentID), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query task duration: %w", err)
	}
	m.AvgDuration = avg

	return m, nil
}

// GetDecisionCounts returns created decisions per type.
func (q *QueryService) GetDecisionCounts(ctx context.Context) (map[string]int64, error) {
	query := fmt.Sprintf(`sum by (type) (%s_autopilot_decisions_total{action="created"})`, q.namespace)
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}

	out := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			out[string(sample.Metric["type"])] = int64(sample.Value)
		}
	}
	return out, nil
}

// scalar runs an instant query and returns the first sample, 0 when empty.
func (q *QueryService) scalar(ctx context.Context, query string, at time.Time) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, at)
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}
