package topology

import (
	"github.com/vkorna/kstreams/processor"
	"github.com/vkorna/kstreams/serde"
)

type NodeType int

const (
	NodeTypeSource NodeType = iota
	NodeTypeProcessor
	NodeTypeSink
)

func (nt NodeType) String() string {
	switch nt {
	case NodeTypeSource:
		return "Source"
	case NodeTypeProcessor:
		return "Processor"
	case NodeTypeSink:
		return "Sink"
	default:
		return "Unknown"
	}
}

// Node represents a processing step in the topology
type Node interface {
	Name() string
	Type() NodeType // Source, Processor, Sink
}

// SourceNode is a Node that reads from a Kafka topic and deserializes
// records before they enter the processor graph.
type SourceNode interface {
	Node
	Topic() string
	KeySerde() serde.UntypedDeserialiser
	ValueSerde() serde.UntypedDeserialiser
}

// ProcessorNode is a Node backed by a processor.UntypedSupplier, one
// instance of which is constructed per task at topology init time.
type ProcessorNode interface {
	Node
	Supplier() processor.UntypedSupplier
}

// SinkNode is a Node that serializes records and produces them to a
// Kafka topic.
type SinkNode interface {
	Node
	Topic() string
	KeySerde() serde.UntypedSerialiser
	ValueSerde() serde.UntypedSerialiser
}

var (
	_ SourceNode    = (*sourceNodeDef)(nil)
	_ ProcessorNode = (*processorNodeDef)(nil)
	_ SinkNode      = (*sinkNodeDef)(nil)
)

type sourceNodeDef struct {
	name       string
	topic      string
	keySerde   serde.UntypedDeserialiser
	valueSerde serde.UntypedDeserialiser
}

func (s *sourceNodeDef) Name() string                            { return s.name }
func (s *sourceNodeDef) Type() NodeType                          { return NodeTypeSource }
func (s *sourceNodeDef) Topic() string                           { return s.topic }
func (s *sourceNodeDef) KeySerde() serde.UntypedDeserialiser      { return s.keySerde }
func (s *sourceNodeDef) ValueSerde() serde.UntypedDeserialiser    { return s.valueSerde }

type processorNodeDef struct {
	name     string
	supplier processor.UntypedSupplier
}

func (p *processorNodeDef) Name() string                      { return p.name }
func (p *processorNodeDef) Type() NodeType                    { return NodeTypeProcessor }
func (p *processorNodeDef) Supplier() processor.UntypedSupplier { return p.supplier }

type sinkNodeDef struct {
	name       string
	topic      string
	keySerde   serde.UntypedSerialiser
	valueSerde serde.UntypedSerialiser
}

func (s *sinkNodeDef) Name() string                        { return s.name }
func (s *sinkNodeDef) Type() NodeType                      { return NodeTypeSink }
func (s *sinkNodeDef) Topic() string                       { return s.topic }
func (s *sinkNodeDef) KeySerde() serde.UntypedSerialiser   { return s.keySerde }
func (s *sinkNodeDef) ValueSerde() serde.UntypedSerialiser { return s.valueSerde }
