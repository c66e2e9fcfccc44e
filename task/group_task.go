package task

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vkorna/kstreams/group"
	"github.com/vkorna/kstreams/kafka"
	"github.com/vkorna/kstreams/logger"
	streamsotel "github.com/vkorna/kstreams/otel"
	"github.com/vkorna/kstreams/processor"
	"github.com/vkorna/kstreams/record"
	"github.com/vkorna/kstreams/topology"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

var (
	_ group.Receiver      = (*GroupTask)(nil)
	_ group.RecordDecoder = (*GroupTask)(nil)
)

// GroupTask forwards one partition's decoded records through a topology's
// node graph. It does not implement Task: instead of a single
// Process(ctx, ConsumerRecord) entry point, a group.StreamGroup drives it
// through the split group.RecordDecoder.Decode / group.Receiver.Receive
// calls, deferring deserialization to the group's staged-drain step
// (SPEC_FULL.md §9) rather than doing it inline as TopologyTask does.
//
// A GroupTask is bound to exactly one partition; the enclosing runner
// creates one per partition assigned to a StreamGroup, mirroring
// topologyTaskFactory's per-partition TopologyTask construction.
type GroupTask struct {
	partition  kafka.TopicPartition
	source     topology.SourceNode
	processors map[string]processor.UntypedProcessor
	contexts   map[string]*groupNodeContext
	sinks      map[string]*sinkHandler
	producer   kafka.Producer
	topology   *topology.Topology
	groupID    string

	closed atomic.Bool

	telemetry *streamsotel.Telemetry
	logger    logger.Logger
}

func (t *GroupTask) Partition() kafka.TopicPartition {
	return t.partition
}

// Decode implements group.RecordDecoder. It runs under the StreamGroup's
// lock during Process's drain step, so it must stay non-blocking, matching
// the deserializer contract in SPEC_FULL.md §6.
func (t *GroupTask) Decode(topic string, key, value []byte) (decodedKey, decodedValue any, err error) {
	k, err := t.source.KeySerde().Deserialise(topic, key)
	if err != nil {
		return nil, nil, NewSerdeError(fmt.Errorf("deserialize key: %w", err))
	}

	v, err := t.source.ValueSerde().Deserialise(topic, value)
	if err != nil {
		return nil, nil, NewSerdeError(fmt.Errorf("deserialize value: %w", err))
	}

	return k, v, nil
}

// Receive implements group.Receiver. It is invoked synchronously under the
// StreamGroup's lock once per popped record; it must not re-enter the
// StreamGroup that owns it.
//
// group.Receiver (SPEC_FULL.md §6) intentionally does not carry the
// record's offset to the receiver — StreamGroup.ConsumedOffsets tracks
// that separately — so the forwarded record's Metadata.Offset is left at
// its zero value here. recordTimestamp is interpreted as milliseconds
// since epoch, the conventional (if formally opaque, per SPEC_FULL.md §3)
// unit produced by the default timestamp extractors.
func (t *GroupTask) Receive(key, value any, recordTimestamp, streamTime int64) error {
	if t.closed.Load() {
		return fmt.Errorf("group task for partition %s is closed", t.partition)
	}

	// group.Receiver carries no trace headers (SPEC_FULL.md §6 keeps the
	// synchronization core transport-agnostic), so this span roots a new
	// trace rather than continuing one propagated on the original record.
	processStart := time.Now()
	ctx, span := t.telemetry.Tracer.Start(
		context.Background(), t.partition.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeProcess,
			semconv.MessagingDestinationName(t.partition.Topic),
			semconv.MessagingConsumerGroupName(t.groupID),
		),
	)
	defer span.End()

	rec := record.NewUntyped(
		key, value, record.Metadata{
			Topic:     t.partition.Topic,
			Partition: t.partition.Partition,
			Timestamp: time.UnixMilli(recordTimestamp),
		},
	)

	t.logger.Debug(
		"Dispatching record from group", "topic", t.partition.Topic, "partition", t.partition.Partition,
		"record_timestamp", recordTimestamp, "stream_time", streamTime,
	)

	recordProcessStatus := func(status string) {
		t.telemetry.ProcessDuration.Record(
			ctx, time.Since(processStart).Seconds(), metric.WithAttributes(
				semconv.MessagingDestinationName(t.partition.Topic),
				streamsotel.AttrProcessStatus.String(status),
			),
		)
	}

	for _, childName := range t.topology.Children(t.source.Name()) {
		if err := t.processAt(ctx, childName, rec); err != nil {
			span.RecordError(err)
			recordProcessStatus(streamsotel.StatusError)
			return err
		}
	}

	recordProcessStatus(streamsotel.StatusSuccess)
	return nil
}

func (t *GroupTask) processAt(ctx context.Context, nodeName string, rec *record.UntypedRecord) error {
	if sink, ok := t.sinks[nodeName]; ok {
		if err := sink.Process(ctx, rec); err != nil {
			return NewProductionError(err, nodeName)
		}
		return nil
	}

	proc, ok := t.processors[nodeName]
	if !ok {
		return fmt.Errorf("unknown node: %s", nodeName)
	}

	ctx, span := t.telemetry.Tracer.Start(
		ctx, nodeName+" execute", trace.WithAttributes(
			streamsotel.AttrNodeName.String(nodeName),
			streamsotel.AttrNodeType.String(streamsotel.NodeTypeProcessor),
		),
	)
	defer span.End()

	if err := proc.Process(ctx, rec); err != nil {
		span.RecordError(err)
		return NewProcessError(err, nodeName)
	}
	return nil
}

// Close closes every processor owned by this task. Safe to call more than
// once.
func (t *GroupTask) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	var lastErr error
	for name, proc := range t.processors {
		if err := proc.Close(); err != nil {
			lastErr = fmt.Errorf("close processor %s: %w", name, err)
		}
	}
	return lastErr
}

func (t *GroupTask) IsClosed() bool {
	return t.closed.Load()
}

func (t *GroupTask) init() (*GroupTask, error) {
	for name, node := range t.topology.Nodes() {
		if pn, ok := node.(topology.ProcessorNode); ok {
			t.processors[name] = pn.Supplier()()
		}
	}

	for name := range t.topology.Nodes() {
		t.contexts[name] = &groupNodeContext{
			task:       t,
			nodeName:   name,
			children:   t.topology.Children(name),
			namedEdges: t.topology.NamedEdges(name),
		}
	}

	for name, node := range t.topology.Nodes() {
		if sn, ok := node.(topology.SinkNode); ok {
			t.sinks[name] = &sinkHandler{
				node:      sn,
				producer:  t.producer,
				telemetry: t.telemetry,
			}
		}
	}

	for name, proc := range t.processors {
		proc.Init(t.contexts[name])
	}

	return t, nil
}

var _ processor.UntypedContext = (*groupNodeContext)(nil)

type groupNodeContext struct {
	task       *GroupTask
	nodeName   string
	children   []string
	namedEdges map[string]string
}

func (c *groupNodeContext) Forward(ctx context.Context, rec *record.UntypedRecord) error {
	for _, child := range c.children {
		if err := c.task.processAt(ctx, child, rec); err != nil {
			return fmt.Errorf("forward to %s: %w", child, err)
		}
	}
	return nil
}

func (c *groupNodeContext) ForwardTo(ctx context.Context, childName string, rec *record.UntypedRecord) error {
	actualName, ok := c.namedEdges[childName]
	if !ok {
		return fmt.Errorf("unknown child name: %s", childName)
	}
	return c.task.processAt(ctx, actualName, rec)
}

// GroupTaskFactory creates a GroupTask per partition assigned to a
// group.StreamGroup, mirroring Factory/topologyTaskFactory's shape for the
// per-record task model.
type GroupTaskFactory interface {
	CreateGroupTask(partition kafka.TopicPartition, producer kafka.Producer) (*GroupTask, error)
}

var _ GroupTaskFactory = (*groupTaskFactory)(nil)

type groupTaskFactory struct {
	topology      *topology.Topology
	sourceByTopic map[string]topology.SourceNode
	logger        logger.Logger
	telemetry     *streamsotel.Telemetry
	groupID       string
}

// GroupOption configures a GroupTaskFactory built by NewGroupTaskFactory.
type GroupOption func(*groupTaskFactory)

// WithGroupTelemetry attaches OpenTelemetry tracing and metrics to every
// GroupTask the factory creates. Without it, tasks use a noop Telemetry.
func WithGroupTelemetry(tel *streamsotel.Telemetry) GroupOption {
	return func(f *groupTaskFactory) {
		f.telemetry = tel
	}
}

// WithGroupID sets the consumer group name attached to spans a GroupTask
// starts, mirroring the "messaging.consumer.group.name" attribute
// processRecordWithRetry attaches on the per-record task path.
func WithGroupID(groupID string) GroupOption {
	return func(f *groupTaskFactory) {
		f.groupID = groupID
	}
}

// NewGroupTaskFactory validates the topology and returns a GroupTaskFactory
// that builds a GroupTask per partition.
func NewGroupTaskFactory(t *topology.Topology, l logger.Logger, opts ...GroupOption) (GroupTaskFactory, error) {
	sourceByTopic := make(map[string]topology.SourceNode)

	for _, name := range t.Sources() {
		node, ok := t.Nodes()[name].(topology.SourceNode)
		if !ok {
			return nil, fmt.Errorf("node %s registered as a source but does not implement SourceNode", name)
		}

		if _, exists := sourceByTopic[node.Topic()]; exists {
			return nil, fmt.Errorf("duplicate source topic: %s", node.Topic())
		}

		sourceByTopic[node.Topic()] = node
	}

	if len(sourceByTopic) == 0 {
		return nil, fmt.Errorf("topology has no source nodes")
	}

	f := &groupTaskFactory{
		topology:      t,
		sourceByTopic: sourceByTopic,
		logger:        l.With("component", "group-task-factory"),
		telemetry:     streamsotel.Noop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *groupTaskFactory) CreateGroupTask(partition kafka.TopicPartition, producer kafka.Producer) (*GroupTask, error) {
	source, ok := f.sourceByTopic[partition.Topic]
	if !ok {
		return nil, fmt.Errorf("no source node for topic: %s", partition.Topic)
	}

	t := &GroupTask{
		partition:  partition,
		source:     source,
		processors: make(map[string]processor.UntypedProcessor),
		contexts:   make(map[string]*groupNodeContext),
		sinks:      make(map[string]*sinkHandler),
		producer:   producer,
		topology:   f.topology,
		groupID:    f.groupID,
		telemetry:  f.telemetry,
		logger: f.logger.With(
			"component", "group-task", "topic", partition.Topic, "partition", partition.Partition,
		),
	}

	return t.init()
}
