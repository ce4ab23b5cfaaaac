package flume

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Batch wraps a node so its execute phase runs once per element of the
// prepared value, sequentially and in order. Prepare must produce a []any
// (nil means no work); the execution result handed to Cleanup is the slice
// of per-element results. Every element gets the node's full retry and
// fallback treatment; the first terminal failure stops the batch.
//
// Wrap inside a factory to expose a batched class tag:
//
//	flume.Register("FetchAll", func(id string, config map[string]any) (flume.Node, error) {
//		return flume.Batch(&FetchNode{}), nil
//	})
func Batch(n Node) Node {
	return &batchNode{inner: n}
}

type batchNode struct {
	inner Node
}

func (b *batchNode) Prepare(ctx context.Context, shared map[string]any, input RequestInputFunc) (any, error) {
	return b.inner.Prepare(ctx, shared, input)
}

func (b *batchNode) Execute(ctx context.Context, item any) (any, error) {
	return b.inner.Execute(ctx, item)
}

func (b *batchNode) Cleanup(ctx context.Context, shared map[string]any, prepared, result any) (any, error) {
	return b.inner.Cleanup(ctx, shared, prepared, result)
}

func (b *batchNode) ExecFallback(ctx context.Context, item any, execErr error) (any, error) {
	if fb, ok := b.inner.(Fallback); ok {
		return fb.ExecFallback(ctx, item, execErr)
	}
	return nil, execErr
}

func (b *batchNode) ExecuteMulti(ctx context.Context, prepared any, exec ExecFunc) (any, error) {
	items, err := multiItems(prepared)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(items))
	for i, item := range items {
		r, err := exec(ctx, item)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// Parallel is Batch with concurrent elements: the execute phase runs once
// per element of the prepared []any, all at once, and the results keep
// element order. The first terminal failure cancels the remaining elements'
// context and wins; retries and fallbacks still apply per element.
func Parallel(n Node) Node {
	return &parallelNode{inner: n}
}

type parallelNode struct {
	inner Node
}

func (p *parallelNode) Prepare(ctx context.Context, shared map[string]any, input RequestInputFunc) (any, error) {
	return p.inner.Prepare(ctx, shared, input)
}

func (p *parallelNode) Execute(ctx context.Context, item any) (any, error) {
	return p.inner.Execute(ctx, item)
}

func (p *parallelNode) Cleanup(ctx context.Context, shared map[string]any, prepared, result any) (any, error) {
	return p.inner.Cleanup(ctx, shared, prepared, result)
}

func (p *parallelNode) ExecFallback(ctx context.Context, item any, execErr error) (any, error) {
	if fb, ok := p.inner.(Fallback); ok {
		return fb.ExecFallback(ctx, item, execErr)
	}
	return nil, execErr
}

func (p *parallelNode) ExecuteMulti(ctx context.Context, prepared any, exec ExecFunc) (any, error) {
	items, err := multiItems(prepared)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			r, err := exec(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// multiItems normalizes a prepared value into the elements a multi executor
// fans out over.
func multiItems(prepared any) ([]any, error) {
	switch v := prepared.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("multi execute: prepared value is %T, want []any", prepared)
	}
}

var (
	_ Node          = (*batchNode)(nil)
	_ MultiExecutor = (*batchNode)(nil)
	_ Fallback      = (*batchNode)(nil)
	_ Node          = (*parallelNode)(nil)
	_ MultiExecutor = (*parallelNode)(nil)
	_ Fallback      = (*parallelNode)(nil)
)
