package flume

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Document is the serializable definition of a workflow: its nodes, the
// guarded edges between them, the start node, and optionally the initial
// shared state for new runs.
type Document struct {
	Start        string         `json:"start"`
	Nodes        []DocumentNode `json:"nodes"`
	Edges        []DocumentEdge `json:"edges"`
	InitialState map[string]any `json:"initial_state,omitempty"`
}

// DocumentNode declares one node: a unique id, the class tag resolved
// against the registry, and per-instance config. The engine reads two config
// keys itself as the retry policy: "max_retries" (total execute attempts,
// default 1) and "wait" (seconds between attempts, default 0); the factory
// still receives the config whole.
type DocumentNode struct {
	ID     string         `json:"id"`
	Class  string         `json:"class"`
	Config map[string]any `json:"config,omitempty"`
}

// DocumentEdge declares one guarded transition. The condition is an
// expression over the shared state, or one of the sentinels "True",
// "False", and "None". An omitted condition means "None": the edge is the
// default taken when no conditional sibling matches.
type DocumentEdge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// ParseDocument decodes a workflow document from JSON.
func ParseDocument(workflowID string, data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{WorkflowID: workflowID, Message: "malformed document", Err: err}
	}
	return &doc, nil
}

// readDocument loads and decodes a workflow document file.
func readDocument(workflowID, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{WorkflowID: workflowID, Message: fmt.Sprintf("read document %s", path), Err: err}
	}
	return ParseDocument(workflowID, data)
}

// buildGraph validates a document against the registry and compiles it into
// the immutable graph the engine executes. Each factory runs once here so a
// config the node rejects fails at load time, not mid-run.
func buildGraph(workflowID string, doc *Document, registry *Registry) (*graph, error) {
	fail := func(format string, args ...any) (*graph, error) {
		return nil, &LoadError{WorkflowID: workflowID, Message: fmt.Sprintf(format, args...)}
	}

	if len(doc.Nodes) == 0 {
		return fail("document has no nodes")
	}

	nodes := make(map[string]*nodeDef, len(doc.Nodes))
	for _, dn := range doc.Nodes {
		if dn.ID == "" {
			return fail("node with empty id")
		}
		if _, exists := nodes[dn.ID]; exists {
			return fail("duplicate node id %q", dn.ID)
		}
		factory, ok := registry.Lookup(dn.Class)
		if !ok {
			return fail("unknown node class %q (registered: %s)", dn.Class, strings.Join(registry.Classes(), ", "))
		}

		maxRetries, wait, err := retryPolicy(dn.Config)
		if err != nil {
			return fail("node %q: %v", dn.ID, err)
		}
		def := &nodeDef{
			ID:         dn.ID,
			Class:      dn.Class,
			Config:     dn.Config,
			MaxRetries: maxRetries,
			Wait:       wait,
			factory:    factory,
		}
		if _, err := def.instantiate(); err != nil {
			return fail("node %q: %v", dn.ID, err)
		}
		nodes[dn.ID] = def
	}

	for _, de := range doc.Edges {
		from, ok := nodes[de.From]
		if !ok {
			return fail("edge references unknown node %q", de.From)
		}
		if _, ok := nodes[de.To]; !ok {
			return fail("edge references unknown node %q", de.To)
		}
		condition := de.Condition
		if condition == "" {
			condition = condNone
		}
		from.Transitions = append(from.Transitions, transition{
			From:      de.From,
			To:        de.To,
			Condition: condition,
		})
	}

	if doc.Start == "" {
		return fail("document has no start node")
	}
	if _, ok := nodes[doc.Start]; !ok {
		return fail("start node %q not found", doc.Start)
	}

	return &graph{start: doc.Start, nodes: nodes}, nil
}

// retryPolicy reads the execute retry settings from a node config.
func retryPolicy(config map[string]any) (int, time.Duration, error) {
	maxRetries := 1
	if raw, ok := config["max_retries"]; ok {
		n, ok := asInt(raw)
		if !ok {
			return 0, 0, fmt.Errorf("max_retries must be an integer, got %v", raw)
		}
		if n < 1 {
			return 0, 0, fmt.Errorf("max_retries must be at least 1, got %d", n)
		}
		maxRetries = n
	}

	var wait time.Duration
	if raw, ok := config["wait"]; ok {
		sec, ok := asFloat(raw)
		if !ok {
			return 0, 0, fmt.Errorf("wait must be a number of seconds, got %v", raw)
		}
		if sec < 0 {
			return 0, 0, fmt.Errorf("wait must not be negative, got %v", raw)
		}
		wait = time.Duration(sec * float64(time.Second))
	}
	return maxRetries, wait, nil
}

// asInt accepts the numeric shapes a config value can arrive in: float64
// from JSON decoding, int from documents built in Go.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
