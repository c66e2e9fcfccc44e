package task

import (
	"context"
	"fmt"
	"time"

	"github.com/vkorna/kstreams/kafka"
	streamsotel "github.com/vkorna/kstreams/otel"
	"github.com/vkorna/kstreams/record"
	"github.com/vkorna/kstreams/topology"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

type sinkHandler struct {
	node      topology.SinkNode
	producer  kafka.Producer
	telemetry *streamsotel.Telemetry
}

func (s *sinkHandler) Process(ctx context.Context, rec *record.UntypedRecord) error {
	topic := s.node.Topic()

	key, err := s.node.KeySerde().Serialise(topic, rec.Key)
	if err != nil {
		return NewSerdeError(fmt.Errorf("serialize key: %w", err))
	}

	value, err := s.node.ValueSerde().Serialise(topic, rec.Value)
	if err != nil {
		return NewSerdeError(fmt.Errorf("serialize value: %w", err))
	}

	tel := s.telemetry
	start := time.Now()
	ctx, span := tel.Tracer.Start(
		ctx, topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeSend,
			semconv.MessagingDestinationName(topic),
		),
	)
	defer span.End()

	err = s.producer.Send(ctx, topic, key, value, mapToHeaders(rec.Headers))

	status := streamsotel.StatusSuccess
	if err != nil {
		status = streamsotel.StatusError
		span.RecordError(err)
	}
	tel.ProduceDuration.Record(
		ctx, time.Since(start).Seconds(), metric.WithAttributes(
			semconv.MessagingDestinationName(topic),
			streamsotel.AttrProduceStatus.String(status),
		),
	)

	if err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	tel.MessagesProduced.Add(ctx, 1, metric.WithAttributes(semconv.MessagingDestinationName(topic)))
	return nil
}
