package flume

import (
	"context"
	"time"
)

// Metrics receives engine counters: finished steps, node outcomes, execute
// retries, and input suspensions. The observer package provides an
// OTEL-backed implementation via NewMetrics(). When no Metrics is
// configured, recording is skipped (nil check).
type Metrics interface {
	// StepCompleted records one finished step and the status it left the
	// run in.
	StepCompleted(ctx context.Context, workflowID string, status WorkflowStatus, elapsed time.Duration)
	// NodeExecuted records one node reaching a terminal status.
	NodeExecuted(ctx context.Context, workflowID, nodeID string, status NodeStatus, elapsed time.Duration)
	// RetryAttempted records one retry of a node's execute phase.
	RetryAttempted(ctx context.Context, workflowID, nodeID string)
	// InputRequested records one suspension for external input.
	InputRequested(ctx context.Context, workflowID, nodeID string)
}
