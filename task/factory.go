package task

import (
	"fmt"

	"github.com/vkorna/kstreams/kafka"
	"github.com/vkorna/kstreams/logger"
	streamsotel "github.com/vkorna/kstreams/otel"
	"github.com/vkorna/kstreams/processor"
	"github.com/vkorna/kstreams/topology"
)

// Factory creates a Task for a given partition. A single Factory is shared
// across all partitions assigned to a runner; each call to CreateTask
// builds a fresh TopologyTask with its own processor instances.
type Factory interface {
	CreateTask(partition kafka.TopicPartition, producer kafka.Producer) (Task, error)
}

var _ Factory = (*topologyTaskFactory)(nil)

type topologyTaskFactory struct {
	topology *topology.Topology

	sourceByTopic map[string]topology.SourceNode

	logger    logger.Logger
	telemetry *streamsotel.Telemetry
}

// Option configures a Factory built by NewTopologyTaskFactory.
type Option func(*topologyTaskFactory)

// WithTelemetry attaches OpenTelemetry tracing and metrics to every task the
// factory creates. Without it, tasks use a noop Telemetry.
func WithTelemetry(tel *streamsotel.Telemetry) Option {
	return func(f *topologyTaskFactory) {
		f.telemetry = tel
	}
}

// NewTopologyTaskFactory validates the topology and returns a Factory that
// builds a TopologyTask per partition.
func NewTopologyTaskFactory(t *topology.Topology, l logger.Logger, opts ...Option) (Factory, error) {
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

	f := &topologyTaskFactory{
		topology:      t,
		sourceByTopic: sourceByTopic,
		logger:        l.With("component", "task-factory"),
		telemetry:     streamsotel.Noop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *topologyTaskFactory) CreateTask(partition kafka.TopicPartition, producer kafka.Producer) (Task, error) {
	source, ok := f.sourceByTopic[partition.Topic]
	if !ok {
		return nil, fmt.Errorf("no source node for topic: %s", partition.Topic)
	}

	t := &TopologyTask{
		partition:  partition,
		source:     source,
		processors: make(map[string]processor.UntypedProcessor),
		contexts:   make(map[string]*nodeContext),
		sinks:      make(map[string]*sinkHandler),
		producer:   producer,
		offset:     kafka.Offset{Offset: -1},
		topology:   f.topology,
		logger: f.logger.With(
			"component", "topology-task", "topic", partition.Topic, "partition", partition.Partition,
		),
		telemetry: f.telemetry,
	}

	return t.init()
}
