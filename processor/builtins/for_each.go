package builtins

import (
	"context"

	"github.com/vkorna/kstreams/processor"
	"github.com/vkorna/kstreams/record"
)

var _ processor.Processor[any, any, any, any] = (*ForEachProcessor[any, any])(nil)

// ForEachFunc is the action run for every record; a non-nil error is
// returned from Process.
type ForEachFunc[K, V any] func(ctx context.Context, key K, value V) error

type ForEachProcessor[K, V any] struct {
	action ForEachFunc[K, V]
	ctx    processor.Context[K, V]
}

func NewForEachProcessor[K, V any](action ForEachFunc[K, V]) *ForEachProcessor[K, V] {
	return &ForEachProcessor[K, V]{action: action}
}

func (p *ForEachProcessor[K, V]) Init(ctx processor.Context[K, V]) {
	p.ctx = ctx
}

func (p *ForEachProcessor[K, V]) Process(ctx context.Context, record *record.Record[K, V]) error {
	return p.action(ctx, record.Key, record.Value)
}

func (p *ForEachProcessor[K, V]) Close() error {
	return nil
}
