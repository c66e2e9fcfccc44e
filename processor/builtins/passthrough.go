package builtins

import (
	"context"

	"github.com/vkorna/kstreams/processor"
	"github.com/vkorna/kstreams/record"
)

var _ processor.Processor[any, any, any, any] = (*PassthroughProcessor[any, any])(nil)

type PassthroughProcessor[K, V any] struct {
	ctx processor.Context[K, V]
}

func NewPassthroughProcessor[K, V any]() *PassthroughProcessor[K, V] {
	return &PassthroughProcessor[K, V]{}
}

func (p *PassthroughProcessor[K, V]) Init(ctx processor.Context[K, V]) {
	p.ctx = ctx
}

func (p *PassthroughProcessor[K, V]) Process(ctx context.Context, r *record.Record[K, V]) error {
	return p.ctx.Forward(ctx, r)
}

func (p *PassthroughProcessor[K, V]) Close() error {
	return nil
}
