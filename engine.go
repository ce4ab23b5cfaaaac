package flume

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultStorageDir is where the default FileStorage keeps run state when
// the engine is constructed without WithStorage.
const DefaultStorageDir = "flume_data"

// Engine drives one run of one workflow. It owns the run's execution state
// and step journal; every step boundary is checkpointed through Storage, so
// a run survives process restarts and can be resumed or forked by a later
// engine.
//
// An Engine is safe for concurrent use: Step, Run, Close, and the accessors
// serialize on an internal lock. Node phases run on a dedicated goroutine
// per step while the driving Step call waits, so a node that suspends for
// input keeps its in-memory position (locals, prepared values) until the
// answer arrives in the same process. After a restart the same suspension
// resumes by re-executing the node with the answer pre-supplied.
type Engine struct {
	workflowID string
	runID      string

	graph   *graph
	storage Storage
	logger  *slog.Logger
	tracer  Tracer
	metrics Metrics
	cond    *condEvaluator

	// runCtx is handed to node phases and outlives any single Step call;
	// Close cancels it.
	runCtx context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    *ExecutionState
	journal  *journal
	running  *nodeRun
	futures  map[string]chan inputReply
	closed   bool
	closedCh chan struct{}
}

type engineConfig struct {
	docPath    string
	doc        *Document
	docID      string
	workflowID string
	docDir     string
	initial    map[string]any
	storage    Storage
	registry   *Registry
	runID      string
	resumeFrom *int
	fork       bool
	logger     *slog.Logger
	tracer     Tracer
	metrics    Metrics
}

// Option configures an Engine at construction time.
type Option func(*engineConfig)

// WithDocumentPath loads the workflow document from a JSON file. The
// workflow id is the file name without its extension.
func WithDocumentPath(path string) Option {
	return func(c *engineConfig) { c.docPath = path }
}

// WithDocument supplies a workflow document directly, bypassing the
// filesystem. It takes precedence over WithDocumentPath and WithWorkflowID.
func WithDocument(workflowID string, doc *Document) Option {
	return func(c *engineConfig) {
		c.docID = workflowID
		c.doc = doc
	}
}

// WithWorkflowID loads <workflowID>.json from the document directory.
func WithWorkflowID(id string) Option {
	return func(c *engineConfig) { c.workflowID = id }
}

// WithDocumentDir sets the directory WithWorkflowID resolves against.
// Defaults to the current directory.
func WithDocumentDir(dir string) Option {
	return func(c *engineConfig) { c.docDir = dir }
}

// WithInitialState seeds the shared state for a new run. A top-level
// "initial_state" object in the document takes precedence. Ignored when
// resuming or forking.
func WithInitialState(shared map[string]any) Option {
	return func(c *engineConfig) { c.initial = shared }
}

// WithStorage sets the storage backend for journals. Defaults to a
// FileStorage rooted at DefaultStorageDir.
func WithStorage(s Storage) Option {
	return func(c *engineConfig) { c.storage = s }
}

// WithRegistry resolves the document's class tags against a private
// registry instead of the package-level default.
func WithRegistry(r *Registry) Option {
	return func(c *engineConfig) { c.registry = r }
}

// Resume continues an existing run from its latest snapshot. Combine with
// ResumeFrom to rewind, or Fork to branch off without touching the run.
func Resume(runID string) Option {
	return func(c *engineConfig) { c.runID = runID }
}

// ResumeFrom selects the journal snapshot to continue from. The run's
// newer entries are discarded unless Fork is also set. Requires Resume.
func ResumeFrom(step int) Option {
	return func(c *engineConfig) { c.resumeFrom = &step }
}

// Fork starts a new run branched from the resumed snapshot, leaving the
// source run untouched. The new run records its lineage in the snapshot
// metadata. Requires Resume.
func Fork() Option {
	return func(c *engineConfig) { c.fork = true }
}

// WithLogger sets the logger for engine diagnostics. By default the engine
// is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer enables span emission for runs, steps, and node phases.
func WithTracer(t Tracer) Option {
	return func(c *engineConfig) { c.tracer = t }
}

// WithMetrics enables engine counters for steps, node outcomes, retries,
// and suspensions.
func WithMetrics(m Metrics) Option {
	return func(c *engineConfig) { c.metrics = m }
}

// New builds an engine for one run. Exactly one document source must be
// set: WithDocument, WithDocumentPath, or WithWorkflowID. Without Resume a
// fresh run is created and its seed snapshot persisted; with Resume the
// journal is loaded (and truncated or forked per ResumeFrom and Fork)
// before the engine returns. ctx governs only the storage I/O done here.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := engineConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = nopLogger
	}
	registry := cfg.registry
	if registry == nil {
		registry = defaultRegistry
	}
	storage := cfg.storage
	if storage == nil {
		storage = NewFileStorage(DefaultStorageDir)
	}

	if cfg.runID == "" {
		if cfg.fork {
			return nil, fmt.Errorf("flume: Fork requires Resume")
		}
		if cfg.resumeFrom != nil {
			return nil, fmt.Errorf("flume: ResumeFrom requires Resume")
		}
	}

	workflowID, doc, err := resolveDocument(&cfg)
	if err != nil {
		return nil, err
	}
	workflowID = normalizeID(workflowID)

	g, err := buildGraph(workflowID, doc, registry)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		workflowID: workflowID,
		graph:      g,
		storage:    storage,
		logger:     logger,
		tracer:     cfg.tracer,
		metrics:    cfg.metrics,
		cond:       newCondEvaluator(logger),
		runCtx:     runCtx,
		cancel:     cancel,
		futures:    make(map[string]chan inputReply),
		closedCh:   make(chan struct{}),
	}

	if cfg.runID == "" {
		err = e.seedNewRun(ctx, doc, cfg.initial)
	} else {
		err = e.seedExistingRun(ctx, normalizeID(cfg.runID), cfg.resumeFrom, cfg.fork)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return e, nil
}

// resolveDocument picks the document source and derives the workflow id,
// mirroring the precedence documented on the options.
func resolveDocument(cfg *engineConfig) (string, *Document, error) {
	switch {
	case cfg.doc != nil:
		if cfg.docID == "" {
			return "", nil, &LoadError{Message: "WithDocument requires a workflow id"}
		}
		return cfg.docID, cfg.doc, nil
	case cfg.docPath != "":
		id := strings.TrimSuffix(filepath.Base(cfg.docPath), filepath.Ext(cfg.docPath))
		doc, err := readDocument(id, cfg.docPath)
		return id, doc, err
	case cfg.workflowID != "":
		doc, err := readDocument(cfg.workflowID, filepath.Join(cfg.docDir, cfg.workflowID+".json"))
		return cfg.workflowID, doc, err
	default:
		return "", nil, &LoadError{Message: "no workflow document: set WithDocument, WithDocumentPath, or WithWorkflowID"}
	}
}

// seedNewRun creates a fresh run pointed at the start node and persists its
// seed snapshot.
func (e *Engine) seedNewRun(ctx context.Context, doc *Document, initial map[string]any) error {
	shared := initial
	if doc.InitialState != nil {
		shared = doc.InitialState
	}
	state := newExecutionState(e.graph.start, shared)
	state.Metadata["start_time"] = time.Now().Format(time.RFC3339Nano)
	state.Metadata["step"] = 0

	e.runID = NewRunID()
	e.state = state
	e.journal = newJournal(nil)
	if err := e.journal.append(state); err != nil {
		return err
	}
	if err := e.persist(ctx); err != nil {
		return err
	}
	e.logger.Info("run created", "workflow_id", e.workflowID, "run_id", e.runID, "start", e.graph.start)
	return nil
}

// seedExistingRun loads the stored journal and positions the engine at the
// requested snapshot, truncating the run or forking a new one.
func (e *Engine) seedExistingRun(ctx context.Context, runID string, resumeFrom *int, fork bool) error {
	resumeErr := func(msg string, err error) error {
		return &ResumeError{WorkflowID: e.workflowID, RunID: runID, Message: msg, Err: err}
	}

	steps, err := e.storage.LoadState(ctx, e.workflowID, runID)
	if err != nil {
		return resumeErr("load run", err)
	}
	if len(steps) == 0 {
		return resumeErr("run has no snapshots", nil)
	}

	k := len(steps) - 1
	if resumeFrom != nil {
		k = *resumeFrom
	}
	if k < 0 || k >= len(steps) {
		return resumeErr(fmt.Sprintf("step %d not found: run has %d steps", k, len(steps)), nil)
	}

	state, err := decodeState(steps[k])
	if err != nil {
		return resumeErr(fmt.Sprintf("decode snapshot %d", k), err)
	}
	if err := e.checkNodeCompatibility(state); err != nil {
		return resumeErr(err.Error(), nil)
	}

	if fork {
		e.runID = NewForkID()
		state.Metadata["forked_from"] = map[string]any{"run_id": runID, "step": k}
		state.Metadata["fork_time"] = time.Now().Format(time.RFC3339Nano)
		state.Metadata["run_id"] = e.runID
		e.state = state
		e.journal = newJournal(nil)
		if err := e.journal.append(state); err != nil {
			return err
		}
		if err := e.persist(ctx); err != nil {
			return err
		}
		e.logger.Info("run forked", "workflow_id", e.workflowID, "run_id", e.runID, "forked_from", runID, "step", k)
		return nil
	}

	e.runID = runID
	e.state = state
	e.journal = newJournal(steps)
	e.journal.truncateTo(k)
	if err := e.persist(ctx); err != nil {
		return err
	}
	e.logger.Info("run resumed", "workflow_id", e.workflowID, "run_id", e.runID, "step", k)
	return nil
}

// checkNodeCompatibility verifies that every node the snapshot references
// still exists in the loaded graph, then recomputes next_node_id from the
// previous node's edges in case they changed since the snapshot was taken.
func (e *Engine) checkNodeCompatibility(state *ExecutionState) error {
	if aw := state.AwaitingInput; aw != nil {
		if _, ok := e.graph.nodes[aw.NodeID]; !ok {
			return fmt.Errorf("waiting node %q is missing from current workflow", aw.NodeID)
		}
		return nil
	}

	if prev := state.PreviousNodeID; prev != nil {
		if _, ok := e.graph.nodes[*prev]; !ok {
			return fmt.Errorf("previous node %q is missing from current workflow", *prev)
		}
	} else if next := state.NextNodeID; next != nil {
		if _, ok := e.graph.nodes[*next]; !ok {
			return fmt.Errorf("current node %q is missing from current workflow", *next)
		}
	}

	if prev := state.PreviousNodeID; prev != nil {
		if next, ok := e.graph.nodes[*prev].nextNodeID(e.cond, state); ok {
			state.NextNodeID = &next
		} else {
			state.NextNodeID = nil
		}
	}
	return nil
}

func (e *Engine) persist(ctx context.Context) error {
	if err := e.storage.SaveState(ctx, e.workflowID, e.runID, e.journal.entries()); err != nil {
		return fmt.Errorf("persist run %s/%s: %w", e.workflowID, e.runID, err)
	}
	return nil
}

// appendSnapshot stamps bookkeeping metadata, deep-copies the live state
// into the journal, and persists the whole run. The stamped step index
// equals the new entry's position in the journal.
func (e *Engine) appendSnapshot(ctx context.Context) error {
	e.state.Metadata["save_time"] = time.Now().Format(time.RFC3339Nano)
	e.state.Metadata["step"] = e.journal.len()
	if err := e.journal.append(e.state); err != nil {
		return err
	}
	return e.persist(ctx)
}

// Step advances the run by at most one node execution and returns whether
// the run can still advance. The boundaries are:
//
//   - Inactive run (completed or failed): returns false without touching
//     anything.
//   - Suspended run: if input lacks the awaited request id, returns true
//     (still waiting). Otherwise the answer is delivered — to the parked
//     node goroutine when the suspension happened in this process, or by
//     re-executing the node with the answer pre-supplied after a restart —
//     and the run advances to its next boundary.
//   - Otherwise the next node runs through its three phases. The step ends
//     with a persisted snapshot: IDLE (more to do), COMPLETED, FAILED, or
//     WAITING_FOR_INPUT when the node suspended.
//
// ctx governs this call's storage I/O. Node phases receive the engine's
// lifetime context instead, so a suspension does not tear down the node
// when the delivering caller's context ends.
func (e *Engine) Step(ctx context.Context, input map[string]any) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var span Span
	if e.tracer != nil {
		ctx2, s := e.tracer.Start(ctx, "workflow.step",
			StringAttr("workflow.id", e.workflowID),
			StringAttr("run.id", e.runID))
		ctx, span = ctx2, s
		defer span.End()
	}

	started := time.Now()
	continuing, err := e.step(ctx, input)
	if span != nil {
		span.SetAttr(
			StringAttr("workflow.status", string(e.state.WorkflowStatus)),
			BoolAttr("continuing", continuing))
		if err != nil {
			span.Error(err)
		}
	}
	if e.metrics != nil {
		e.metrics.StepCompleted(ctx, e.workflowID, e.state.WorkflowStatus, time.Since(started))
	}
	return continuing, err
}

// step does the work of Step with the engine lock held.
func (e *Engine) step(ctx context.Context, input map[string]any) (bool, error) {
	if !e.state.active() {
		return false, nil
	}

	if e.state.WorkflowStatus == StatusWaitingForInput && e.state.AwaitingInput != nil {
		aw := *e.state.AwaitingInput
		value, ok := input[aw.RequestID]
		if !ok {
			return true, nil
		}

		e.state.AwaitingInput = nil
		if e.state.NodeStatuses[aw.NodeID] == NodeWaitingForInput {
			delete(e.state.NodeStatuses, aw.NodeID)
		}

		if reply, live := e.futures[aw.RequestID]; live {
			delete(e.futures, aw.RequestID)
			e.state.WorkflowStatus = StatusRunning
			e.logger.Info("input delivered", "workflow_id", e.workflowID, "run_id", e.runID,
				"node", aw.NodeID, "request_id", aw.RequestID)
			reply <- inputReply{value: value}
			return e.driveNode(ctx, e.running)
		}

		// No parked goroutine: the suspension happened in another process.
		// Re-execute the node from its start; the answer rides the input
		// map and short-circuits the request.
		e.state.NextNodeID = &aw.NodeID
		e.logger.Info("input delivered across processes", "workflow_id", e.workflowID, "run_id", e.runID,
			"node", aw.NodeID, "request_id", aw.RequestID)
	}

	e.state.WorkflowStatus = StatusRunning
	current := *e.state.NextNodeID
	def, ok := e.graph.nodes[current]
	if !ok {
		return e.failStep(ctx, fmt.Errorf("node %q not found in workflow %q", current, e.workflowID))
	}

	run := newNodeRun(current)
	e.running = run
	go e.runNode(run, def, e.state, input)
	return e.driveNode(ctx, run)
}

// driveNode blocks until the running node reaches its next boundary: done,
// meaning the step finished or failed, or parked on an input request,
// meaning the step ends suspended. Called and returns with the engine lock
// held; the node goroutine owns the mutable state in between.
func (e *Engine) driveNode(ctx context.Context, run *nodeRun) (bool, error) {
	for {
		select {
		case err := <-run.done:
			e.running = nil
			if err != nil {
				return e.failStep(ctx, err)
			}
			return e.finishStep(ctx, run.nodeID)

		case park := <-run.park:
			record := park.record
			e.state.NodeStatuses[record.NodeID] = NodeWaitingForInput
			e.state.AwaitingInput = &record
			e.state.WorkflowStatus = StatusWaitingForInput
			if err := e.appendSnapshot(ctx); err != nil {
				// The node cannot stay parked without a durable
				// checkpoint. Wake it with the error and collect the
				// failure on the next turn of this loop.
				park.reply <- inputReply{err: err}
				continue
			}
			e.futures[record.RequestID] = park.reply
			if e.metrics != nil {
				e.metrics.InputRequested(ctx, e.workflowID, record.NodeID)
			}
			e.logger.Info("run suspended for input", "workflow_id", e.workflowID, "run_id", e.runID,
				"node", record.NodeID, "request_id", record.RequestID, "prompt", record.Prompt)
			return true, nil
		}
	}
}

// finishStep records the completed node, selects the next edge, and
// persists the step's snapshot.
func (e *Engine) finishStep(ctx context.Context, nodeID string) (bool, error) {
	e.state.PreviousNodeID = &nodeID
	if next, ok := e.graph.nodes[nodeID].nextNodeID(e.cond, e.state); ok {
		e.state.NextNodeID = &next
	} else {
		e.state.NextNodeID = nil
	}

	e.state.WorkflowStatus = StatusIdle
	if e.state.NextNodeID == nil && e.state.AwaitingInput == nil {
		e.state.WorkflowStatus = StatusCompleted
	}

	if err := e.appendSnapshot(ctx); err != nil {
		return false, err
	}
	e.logger.Info("step completed", "workflow_id", e.workflowID, "run_id", e.runID,
		"node", nodeID, "status", string(e.state.WorkflowStatus))
	return e.state.WorkflowStatus != StatusCompleted, nil
}

// failStep marks the run failed, persists the failing snapshot, and
// surfaces the node's error to the caller.
func (e *Engine) failStep(ctx context.Context, cause error) (bool, error) {
	e.state.WorkflowStatus = StatusFailed
	if err := e.appendSnapshot(ctx); err != nil {
		e.logger.Error("persisting failing snapshot failed", "workflow_id", e.workflowID, "run_id", e.runID, "error", err)
	}
	e.logger.Error("run failed", "workflow_id", e.workflowID, "run_id", e.runID, "error", cause)
	return false, cause
}

// RunResult summarizes where a run stopped and why.
type RunResult struct {
	// Status is the workflow status after the last step.
	Status WorkflowStatus
	// IsActive reports whether the run can still advance.
	IsActive bool
	// AwaitingInput carries the pending request when Status is
	// WAITING_FOR_INPUT, nil otherwise.
	AwaitingInput *AwaitingInput
}

// Run steps the workflow until it completes, fails, or suspends for input.
// A non-nil input answers the pending request when the run is suspended and
// is ignored otherwise. On failure the error is returned alongside a result
// describing the failed state.
func (e *Engine) Run(ctx context.Context, input map[string]any) (RunResult, error) {
	var span Span
	if e.tracer != nil {
		ctx2, s := e.tracer.Start(ctx, "workflow.run",
			StringAttr("workflow.id", e.workflowID),
			StringAttr("run.id", e.runID))
		ctx, span = ctx2, s
		defer span.End()
	}

	if input != nil && e.AwaitingInput() != nil {
		if _, err := e.Step(ctx, input); err != nil {
			if span != nil {
				span.Error(err)
			}
			return e.result(), err
		}
	}
	for {
		continuing, err := e.Step(ctx, nil)
		if err != nil {
			if span != nil {
				span.Error(err)
			}
			return e.result(), err
		}
		if !continuing || e.AwaitingInput() != nil {
			break
		}
	}

	res := e.result()
	if span != nil {
		span.SetAttr(StringAttr("workflow.status", string(res.Status)))
	}
	return res, nil
}

func (e *Engine) result() RunResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return RunResult{
		Status:        e.state.WorkflowStatus,
		IsActive:      e.state.active(),
		AwaitingInput: copyAwaiting(e.state.AwaitingInput),
	}
}

// Close shuts the engine down: the lifetime context handed to node phases
// is cancelled and every parked input request is released with
// ErrEngineClosed. The run itself stays durable in storage; a new engine
// can resume it. Close is idempotent and waits for the current node
// goroutine, if any, so no node phase outlives it.
func (e *Engine) Close() {
	e.cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.closedCh)
	for id, reply := range e.futures {
		delete(e.futures, id)
		reply <- inputReply{err: ErrEngineClosed}
	}
	if e.running != nil {
		<-e.running.done
		e.running = nil
	}
	e.logger.Debug("engine closed", "workflow_id", e.workflowID, "run_id", e.runID)
}

// WorkflowID returns the normalized id of the workflow this engine runs.
func (e *Engine) WorkflowID() string { return e.workflowID }

// RunID returns the id of the run this engine owns.
func (e *Engine) RunID() string { return e.runID }

// Status returns the workflow status as of the last step boundary.
func (e *Engine) Status() WorkflowStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.WorkflowStatus
}

// AwaitingInput returns a copy of the pending input request, or nil when
// the run is not suspended.
func (e *Engine) AwaitingInput() *AwaitingInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyAwaiting(e.state.AwaitingInput)
}

// StepCount returns the number of snapshots in the journal, including the
// seed snapshot the run started from.
func (e *Engine) StepCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.journal.len()
}

// State returns a deep copy of the current execution state.
func (e *Engine) State() (*ExecutionState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Shared returns a deep copy of the shared state.
func (e *Engine) Shared() (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.state.clone()
	if err != nil {
		return nil, err
	}
	return s.Shared, nil
}

// Tracking identifies a run and its fork lineage.
type Tracking struct {
	WorkflowID string
	RunID      string
	// ForkedFrom is the ancestor run id when this run was forked from
	// another, empty otherwise.
	ForkedFrom string
	// ForkStep is the ancestor snapshot index the fork started from.
	ForkStep int
}

// Tracking returns the run's identity and fork lineage.
func (e *Engine) Tracking() Tracking {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := Tracking{WorkflowID: e.workflowID, RunID: e.runID}
	if raw, ok := e.state.Metadata["forked_from"].(map[string]any); ok {
		if id, ok := raw["run_id"].(string); ok {
			t.ForkedFrom = id
		}
		switch v := raw["step"].(type) {
		case int:
			t.ForkStep = v
		case float64:
			t.ForkStep = int(v)
		}
	}
	return t
}

func copyAwaiting(aw *AwaitingInput) *AwaitingInput {
	if aw == nil {
		return nil
	}
	out := *aw
	out.Options = append([]any(nil), aw.Options...)
	return &out
}
