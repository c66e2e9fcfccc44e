package topology

import (
	"github.com/vkorna/kstreams/processor"
	"github.com/vkorna/kstreams/serde"
)

// Builder is a fluent wrapper around Topology, kept for callers that
// prefer to build up a topology before handing it off rather than
// mutating one directly.
type Builder struct {
	topology *Topology
}

func NewBuilder() *Builder {
	return &Builder{
		topology: NewTopology(),
	}
}

func (b *Builder) AddSource(
	name, topic string,
	keySerde, valueSerde serde.UntypedDeserialiser,
) *Builder {
	b.topology.AddSource(name, topic, keySerde, valueSerde)
	return b
}

func (b *Builder) AddProcessor(name string, supplier processor.UntypedSupplier, parents ...string) *Builder {
	b.topology.AddProcessor(name, supplier, parents...)
	return b
}

func (b *Builder) AddProcessorWithChildName(
	name string,
	supplier processor.UntypedSupplier,
	parent string,
	childName string,
) *Builder {
	b.topology.AddProcessorWithChildName(name, supplier, parent, childName)
	return b
}

func (b *Builder) AddSink(
	name, topic string,
	keySerde, valueSerde serde.UntypedSerialiser,
	parents ...string,
) *Builder {
	b.topology.AddSink(name, topic, keySerde, valueSerde, parents...)
	return b
}

func (b *Builder) Build() *Topology {
	return b.topology
}
