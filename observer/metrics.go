package observer

import (
	"context"
	"time"

	flume "github.com/nevindra/flume"

	flumelog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
)

// engineMetrics implements flume.Metrics on OTEL instruments.
type engineMetrics struct {
	inst *Instruments
}

// NewMetrics returns a flume.Metrics that records engine counters through
// the given instruments. Call observer.Init() first; its Instruments carry
// the configured meter.
func NewMetrics(inst *Instruments) flume.Metrics {
	return &engineMetrics{inst: inst}
}

func (m *engineMetrics) StepCompleted(ctx context.Context, workflowID string, status flume.WorkflowStatus, elapsed time.Duration) {
	m.inst.Steps.Add(ctx, 1, metric.WithAttributes(
		AttrWorkflowID.String(workflowID),
		AttrWorkflowStatus.String(string(status)),
	))
	m.inst.StepDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		AttrWorkflowID.String(workflowID),
	))
}

func (m *engineMetrics) NodeExecuted(ctx context.Context, workflowID, nodeID string, status flume.NodeStatus, elapsed time.Duration) {
	durationMs := float64(elapsed.Milliseconds())

	m.inst.NodeExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrWorkflowID.String(workflowID),
		AttrNodeID.String(nodeID),
		AttrNodeStatus.String(string(status)),
	))
	m.inst.NodeDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrWorkflowID.String(workflowID),
		AttrNodeID.String(nodeID),
	))

	// Structured log
	var rec flumelog.Record
	rec.SetSeverity(flumelog.SeverityInfo)
	rec.SetBody(flumelog.StringValue("node executed"))
	rec.AddAttributes(
		flumelog.String("workflow.id", workflowID),
		flumelog.String("node.id", nodeID),
		flumelog.String("node.status", string(status)),
		flumelog.Float64("duration_ms", durationMs),
	)
	m.inst.Logger.Emit(ctx, rec)
}

func (m *engineMetrics) RetryAttempted(ctx context.Context, workflowID, nodeID string) {
	m.inst.RetryAttempts.Add(ctx, 1, metric.WithAttributes(
		AttrWorkflowID.String(workflowID),
		AttrNodeID.String(nodeID),
	))
}

func (m *engineMetrics) InputRequested(ctx context.Context, workflowID, nodeID string) {
	m.inst.InputRequests.Add(ctx, 1, metric.WithAttributes(
		AttrWorkflowID.String(workflowID),
		AttrNodeID.String(nodeID),
	))
}

var _ flume.Metrics = (*engineMetrics)(nil)
