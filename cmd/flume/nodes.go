package main

import (
	"context"
	"fmt"

	"github.com/nevindra/flume"
)

// builtinRegistry returns the node classes workflow documents can use out
// of the box: Set writes literals into the shared state, Print echoes a
// value, Ask suspends the run for terminal input.
func builtinRegistry() *flume.Registry {
	r := flume.NewRegistry()
	r.Register("Set", newSetNode)
	r.Register("Print", newPrintNode)
	r.Register("Ask", newAskNode)
	return r
}

// newSetNode merges the config's "values" table into the shared state.
func newSetNode(id string, config map[string]any) (flume.Node, error) {
	values, ok := config["values"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("node %q: set node needs a values table", id)
	}
	return &flume.FuncNode{
		CleanupFunc: func(ctx context.Context, shared map[string]any, prepared, result any) (any, error) {
			for k, v := range values {
				shared[k] = v
			}
			return nil, nil
		},
	}, nil
}

// newPrintNode prints the shared value under the config's "key", or the
// literal "message" when no key is given.
func newPrintNode(id string, config map[string]any) (flume.Node, error) {
	message, hasMessage := config["message"].(string)
	key, hasKey := config["key"].(string)
	if !hasMessage && !hasKey {
		return nil, fmt.Errorf("node %q: print node needs a message or a key", id)
	}
	return &flume.FuncNode{
		PrepareFunc: func(ctx context.Context, shared map[string]any, _ flume.RequestInputFunc) (any, error) {
			if hasKey {
				return shared[key], nil
			}
			return message, nil
		},
		ExecuteFunc: func(ctx context.Context, prepared any) (any, error) {
			fmt.Println(prepared)
			return prepared, nil
		},
	}, nil
}

// newAskNode suspends the run for external input and stores the answer in
// the shared state. Config keys mirror the request fields: "prompt",
// "options", "type", and "key" (the request id and shared-state slot,
// defaulting to the node id).
func newAskNode(id string, config map[string]any) (flume.Node, error) {
	req := flume.InputRequest{RequestID: id}
	if prompt, ok := config["prompt"].(string); ok {
		req.Prompt = prompt
	}
	if options, ok := config["options"].([]any); ok {
		req.Options = options
	}
	if typ, ok := config["type"].(string); ok {
		req.Type = typ
	}
	key := id
	if k, ok := config["key"].(string); ok && k != "" {
		key = k
		req.RequestID = k
	}
	return &flume.FuncNode{
		PrepareFunc: func(ctx context.Context, shared map[string]any, input flume.RequestInputFunc) (any, error) {
			return input(ctx, req)
		},
		CleanupFunc: func(ctx context.Context, shared map[string]any, prepared, result any) (any, error) {
			shared[key] = prepared
			return prepared, nil
		},
	}, nil
}
