// Package flume is a durable, resumable, human-in-the-loop workflow engine for Go.
//
// A workflow is a directed graph of user-defined nodes joined by conditional
// edges. The engine advances execution one node at a time and appends an
// immutable snapshot of the execution state to a step journal after every
// step, so any run can be stopped, inspected, resumed, or forked from an
// arbitrary historical point, possibly in a different process.
//
// # Quick Start
//
// Register node implementations, load a workflow document, and run it:
//
//	flume.Register("Greet", func(id string, config map[string]any) (flume.Node, error) {
//		return &GreetNode{}, nil
//	})
//
//	engine, err := flume.New(ctx,
//		flume.WithDocumentPath("workflows/onboarding.json"),
//	)
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	result, err := engine.Run(ctx, nil)
//
// When a node requests input, Run returns with status WAITING_FOR_INPUT and
// the awaiting-input record describing what is needed. Deliver the answer
// keyed by the request id to continue:
//
//	if result.AwaitingInput != nil {
//		result, err = engine.Run(ctx, map[string]any{
//			result.AwaitingInput.RequestID: "approve",
//		})
//	}
//
// A run that is waiting for input survives process restarts: construct a new
// engine with Resume(runID) and deliver the input there instead.
//
// # Core Contracts
//
// The root package defines the contracts that hosts implement or consume:
//
//   - [Node]: three-phase unit of work (Prepare, Execute, Cleanup) with
//     optional [Fallback] and optional [MultiExecutor] fan-out
//   - [Storage]: journal persistence keyed by (workflow_id, run_id)
//   - [Registry]: class tag to node factory mapping used by the loader
//   - [Tracer], [Metrics]: optional observability facades, implemented by
//     the observer package
//
// # Included Implementations
//
// Storage: [FileStorage] in this package (one directory per run, the
// default), store/sqlite (single-file, CGO-free), store/postgres (pgx
// pool), store/memory (tests and ephemeral hosts). Node wrappers: [Batch]
// and [Parallel] apply a node's execute phase to many payloads with the
// same retry policy. Observability: observer (OpenTelemetry OTLP exporters
// for traces, metrics, and logs).
//
// See the cmd/flume directory for an interactive reference host.
package flume
