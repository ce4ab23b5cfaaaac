package flume

import (
	"context"
	"errors"
	"time"
)

// inputReply carries the answer (or failure) for one input request back to
// the parked node goroutine. The channel holding it doubles as the future
// registered under the request id.
type inputReply struct {
	value any
	err   error
}

// parkRequest is what the node goroutine sends when an input request must
// suspend the run: the awaiting record to checkpoint plus the one-shot
// reply channel the goroutine will block on.
type parkRequest struct {
	record AwaitingInput
	reply  chan inputReply
}

// nodeRun is the rendezvous between the driving Step and one node execution
// goroutine. done is buffered so the goroutine can finish after Close even
// when no Step is left to receive the result; park is unbuffered so a send
// only completes while a Step is actually driving.
type nodeRun struct {
	nodeID string
	done   chan error
	park   chan parkRequest
}

func newNodeRun(nodeID string) *nodeRun {
	return &nodeRun{
		nodeID: nodeID,
		done:   make(chan error, 1),
		park:   make(chan parkRequest),
	}
}

// runNode is the node goroutine's entry point. It owns state.Shared and
// state.NodeStatuses until the send on done; the driving Step touches the
// state only while the goroutine is parked or finished.
func (e *Engine) runNode(run *nodeRun, def *nodeDef, state *ExecutionState, input map[string]any) {
	run.done <- e.executeNode(run, def, state, input)
}

// executeNode drives one node instance through prepare, execute (with
// retries and fallback), and cleanup. Prepare and cleanup failures are
// terminal immediately; execute gets the def's retry policy. The node's
// entry in state.NodeStatuses records the outcome: completed once execute
// succeeds, flipped to failed if cleanup then fails.
func (e *Engine) executeNode(run *nodeRun, def *nodeDef, state *ExecutionState, input map[string]any) error {
	started := time.Now()
	fail := func(phase string, err error) error {
		state.NodeStatuses[def.ID] = NodeFailed
		e.recordNode(def.ID, NodeFailed, time.Since(started))
		return &NodeError{NodeID: def.ID, Phase: phase, Err: err}
	}

	node, err := def.instantiate()
	if err != nil {
		return fail("instantiate", err)
	}

	ctx := e.runCtx
	var span Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "workflow.node",
			StringAttr("workflow.id", e.workflowID),
			StringAttr("node.id", def.ID),
			StringAttr("node.class", def.Class))
		defer span.End()
	}

	requestInput := e.requestInputFunc(run, def.ID, input)

	prepared, err := node.Prepare(ctx, state.Shared, requestInput)
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		return fail("prepare", err)
	}

	result, err := e.executeWithRetry(ctx, node, def, prepared)
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		state.NodeStatuses[def.ID] = NodeFailed
		e.recordNode(def.ID, NodeFailed, time.Since(started))
		return err
	}
	state.NodeStatuses[def.ID] = NodeCompleted

	if _, err := node.Cleanup(ctx, state.Shared, prepared, result); err != nil {
		if span != nil {
			span.Error(err)
		}
		return fail("cleanup", err)
	}

	if span != nil {
		span.SetAttr(StringAttr("node.status", string(NodeCompleted)))
	}
	e.recordNode(def.ID, NodeCompleted, time.Since(started))
	return nil
}

// executeWithRetry applies the def's retry policy to the execute phase.
// Nodes implementing MultiExecutor fan out instead, each payload getting
// the policy independently through the exec callback.
func (e *Engine) executeWithRetry(ctx context.Context, node Node, def *nodeDef, prepared any) (any, error) {
	exec := func(ctx context.Context, payload any) (any, error) {
		return e.retryExecute(ctx, node, def, payload)
	}

	if multi, ok := node.(MultiExecutor); ok {
		result, err := multi.ExecuteMulti(ctx, prepared, exec)
		if err != nil {
			var nerr *NodeError
			if !errors.As(err, &nerr) {
				err = &NodeError{NodeID: def.ID, Phase: "execute", Err: err}
			}
			return nil, err
		}
		return result, nil
	}
	return exec(ctx, prepared)
}

// retryExecute runs one execute payload under the def's retry policy: up to
// MaxRetries attempts with a cooperative wait between them, then the
// fallback if the node has one. The wait honors engine shutdown instead of
// sleeping through it.
func (e *Engine) retryExecute(ctx context.Context, node Node, def *nodeDef, payload any) (any, error) {
	attempts := def.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if def.Wait > 0 {
				timer := time.NewTimer(def.Wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, &NodeError{NodeID: def.ID, Phase: "execute", Err: ctx.Err()}
				case <-timer.C:
				}
			}
			e.logger.Info("retrying node execute", "node", def.ID, "attempt", attempt, "max_retries", attempts)
			e.recordRetry(def.ID)
		}

		result, err := node.Execute(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		e.logger.Warn("node execute failed", "node", def.ID, "attempt", attempt, "max_retries", attempts, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	fb, ok := node.(Fallback)
	if !ok {
		return nil, &NodeError{NodeID: def.ID, Phase: "execute", Err: lastErr}
	}
	e.logger.Info("node falling back", "node", def.ID, "error", lastErr)
	result, err := fb.ExecFallback(ctx, payload, lastErr)
	if err != nil {
		return nil, &NodeError{NodeID: def.ID, Phase: "fallback", Err: err}
	}
	return result, nil
}

// requestInputFunc builds the capability handed to one node execution. The
// returned func short-circuits when the answer is already present in the
// step's input map; otherwise it parks the goroutine on a one-shot reply
// channel after the driving Step has checkpointed the suspension. Delivery
// through a later Step, or engine Close, are the only ways a parked call
// returns.
func (e *Engine) requestInputFunc(run *nodeRun, nodeID string, input map[string]any) RequestInputFunc {
	return func(ctx context.Context, req InputRequest) (any, error) {
		requestID := req.RequestID
		if requestID == "" {
			requestID = nodeID
		}
		if v, ok := input[requestID]; ok && v != nil {
			return v, nil
		}

		inputType := req.Type
		if inputType == "" {
			inputType = InputTypeText
		}
		park := parkRequest{
			record: AwaitingInput{
				NodeID:    nodeID,
				RequestID: requestID,
				Prompt:    req.Prompt,
				Options:   req.Options,
				Type:      inputType,
			},
			reply: make(chan inputReply, 1),
		}

		select {
		case run.park <- park:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.closedCh:
			return nil, ErrEngineClosed
		}

		reply := <-park.reply
		return reply.value, reply.err
	}
}

func (e *Engine) recordNode(nodeID string, status NodeStatus, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.NodeExecuted(e.runCtx, e.workflowID, nodeID, status, elapsed)
	}
}

func (e *Engine) recordRetry(nodeID string) {
	if e.metrics != nil {
		e.metrics.RetryAttempted(e.runCtx, e.workflowID, nodeID)
	}
}
