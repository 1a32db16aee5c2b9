// Package metrics turns the orchestrator event stream into Prometheus
// metrics and reads aggregates back from a Prometheus server.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"storepilot/pkg/agent"
	"storepilot/pkg/autopilot"
	"storepilot/pkg/events"
	"storepilot/pkg/workflow"
)

// Recorder owns a registry and the collectors fed by Observe.
type Recorder struct {
	registry *prometheus.Registry

	eventsTotal        *prometheus.CounterVec
	tasksTotal         *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	agentStatus        *prometheus.GaugeVec
	workflowsTotal     *prometheus.CounterVec
	workflowStepTime   *prometheus.HistogramVec
	decisionsTotal     *prometheus.CounterVec
	autopilotScans     *prometheus.CounterVec
	autopilotErrors    prometheus.Counter
	autopilotPublished prometheus.Counter
}

// NewRecorder registers every collector under namespace on a fresh registry.
func NewRecorder(namespace string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events seen on the orchestrator bus by kind",
		}, []string{"kind"}),
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tasks_total",
			Help:      "Finished agent tasks by agent, task type and outcome",
		}, []string{"agent", "task_type", "status"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_task_duration_seconds",
			Help:      "Wall-clock duration of finished agent tasks",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		agentStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_status",
			Help:      "1 for the current status of each agent, 0 otherwise",
		}, []string{"agent", "status"}),
		workflowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Workflow runs by name and lifecycle stage",
		}, []string{"workflow", "stage"}),
		workflowStepTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Duration of completed workflow steps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "agent"}),
		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autopilot_decisions_total",
			Help:      "AutoPilot decision log changes by type, audit action and approval",
		}, []string{"type", "action", "approved"}),
		autopilotScans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autopilot_runs_total",
			Help:      "AutoPilot scans, price updates and performance checks",
		}, []string{"job"}),
		autopilotErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autopilot_errors_total",
			Help:      "Failures caught by the AutoPilot controller",
		}),
		autopilotPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autopilot_products_published_total",
			Help:      "Products published by AutoPilot scans",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe folds one event into the metrics. It is an events.Handler.
func (r *Recorder) Observe(e events.Event) {
	r.eventsTotal.WithLabelValues(string(e.Kind)).Inc()

	switch e.Kind {
	case events.KindTaskCompleted, events.KindTaskFailed:
		task, ok := e.Payload.(agent.Task)
		if !ok {
			return
		}
		r.tasksTotal.WithLabelValues(e.AgentID, task.Type, string(task.Status)).Inc()
		r.taskDuration.WithLabelValues(e.AgentID).Observe(task.Duration().Seconds())

	case events.KindStatusChange:
		change, ok := e.Payload.(events.StatusChange)
		if !ok {
			return
		}
		if change.From != "" {
			r.agentStatus.WithLabelValues(e.AgentID, change.From).Set(0)
		}
		r.agentStatus.WithLabelValues(e.AgentID, change.To).Set(1)

	case events.KindWorkflowStarted, events.KindWorkflowCompleted, events.KindWorkflowFailed:
		p, ok := e.Payload.(workflow.Progress)
		if !ok {
			return
		}
		r.workflowsTotal.WithLabelValues(p.Name, workflowStage(e.Kind)).Inc()

	case events.KindWorkflowStepCompleted:
		s, ok := e.Payload.(workflow.StepCompletedPayload)
		if !ok {
			return
		}
		r.workflowStepTime.WithLabelValues(s.Name, string(s.Agent)).Observe(s.Duration.Seconds())

	case events.KindDecision:
		d, ok := e.Payload.(autopilot.DecisionEvent)
		if !ok {
			return
		}
		r.decisionsTotal.WithLabelValues(string(d.Decision.Type), d.Action, strconv.FormatBool(d.Decision.Approved)).Inc()

	case events.KindAutoPilotScanCompleted:
		r.autopilotScans.WithLabelValues("scan").Inc()
		if s, ok := e.Payload.(autopilot.ScanEvent); ok {
			r.autopilotPublished.Add(float64(s.Published))
		}

	case events.KindAutoPilotPriceUpdate:
		r.autopilotScans.WithLabelValues("price_update").Inc()

	case events.KindAutoPilotPerformanceCheck:
		r.autopilotScans.WithLabelValues("performance_check").Inc()

	case events.KindAutoPilotError:
		r.autopilotErrors.Inc()
	}
}

func workflowStage(k events.Kind) string {
	switch k {
	case events.KindWorkflowStarted:
		return "started"
	case events.KindWorkflowCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteText dumps every metric family in the text exposition format.
func (r *Recorder) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
