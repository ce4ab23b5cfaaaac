package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for workflow observability spans and metrics. The keys
// match the span attributes the engine emits through its Tracer, so traces
// and metrics join on the same dimensions.
var (
	AttrWorkflowID     = attribute.Key("workflow.id")
	AttrRunID          = attribute.Key("run.id")
	AttrWorkflowStatus = attribute.Key("workflow.status")

	AttrNodeID     = attribute.Key("node.id")
	AttrNodeClass  = attribute.Key("node.class")
	AttrNodeStatus = attribute.Key("node.status")
)
