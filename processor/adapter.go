package processor

import (
	"context"

	"github.com/vkorna/kstreams/record"
)

var _ UntypedProcessor = (*processorAdapter[any, any, any, any])(nil)

// processorAdapter type-erases a typed Processor so a topology node can
// hold it without a generic parameter.
type processorAdapter[KIn, VIn, KOut, VOut any] struct {
	typed Processor[KIn, VIn, KOut, VOut]
}

func (a *processorAdapter[KIn, VIn, KOut, VOut]) Init(ctx UntypedContext) {
	a.typed.Init(&contextAdapter[KOut, VOut]{untyped: ctx})
}

func (a *processorAdapter[KIn, VIn, KOut, VOut]) Process(ctx context.Context, r *record.UntypedRecord) error {
	key, ok := r.Key.(KIn)
	value, ok2 := r.Value.(VIn)
	if !ok || !ok2 {
		panic("processor: record type mismatch at runtime, topology was built incorrectly")
	}

	return a.typed.Process(
		ctx, &record.Record[KIn, VIn]{
			Key:      key,
			Value:    value,
			Metadata: r.Metadata,
		},
	)
}

func (a *processorAdapter[KIn, VIn, KOut, VOut]) Close() error {
	return a.typed.Close()
}

var _ Context[any, any] = (*contextAdapter[any, any])(nil)

// contextAdapter re-types an UntypedContext for a typed Processor's use.
type contextAdapter[K, V any] struct {
	untyped UntypedContext
}

func (c *contextAdapter[K, V]) Forward(ctx context.Context, r *record.Record[K, V]) error {
	return c.untyped.Forward(ctx, r.ToUntyped())
}

func (c *contextAdapter[K, V]) ForwardTo(ctx context.Context, childName string, r *record.Record[K, V]) error {
	return c.untyped.ForwardTo(ctx, childName, r.ToUntyped())
}
