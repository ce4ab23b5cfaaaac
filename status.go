package flume

// WorkflowStatus represents the overall state of a run. The string values
// are the wire encoding used in persisted journal snapshots.
type WorkflowStatus string

const (
	// StatusIdle means the run is between steps and ready to advance.
	StatusIdle WorkflowStatus = "IDLE"
	// StatusRunning means a node is currently executing.
	StatusRunning WorkflowStatus = "RUNNING"
	// StatusCompleted means the run finished: no next node, no pending input.
	StatusCompleted WorkflowStatus = "COMPLETED"
	// StatusFailed means a node failed terminally. The run is over; continue
	// with a fork from an earlier snapshot or a fresh run.
	StatusFailed WorkflowStatus = "FAILED"
	// StatusWaitingForInput means a node requested external input and the
	// run is suspended until it is delivered.
	StatusWaitingForInput WorkflowStatus = "WAITING_FOR_INPUT"
)

// NodeStatus represents the outcome of a node within the current step. A
// node with no entry has not run in this step. The string values are the
// wire encoding used in persisted journal snapshots.
type NodeStatus string

const (
	NodeWaitingForInput NodeStatus = "waiting_for_input"
	NodeCompleted       NodeStatus = "completed"
	NodeFailed          NodeStatus = "failed"
)
