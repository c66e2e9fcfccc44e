package topology

import (
	"fmt"

	"github.com/vkorna/kstreams/processor"
	"github.com/vkorna/kstreams/serde"
)

type Topology struct {
	nodes      map[string]Node
	edges      map[string][]string
	namedEdges map[string]map[string]string
	sources    []string
	sinks      []string
}

func NewTopology() *Topology {
	return &Topology{
		nodes:      make(map[string]Node),
		edges:      make(map[string][]string),
		namedEdges: make(map[string]map[string]string),
		sources:    []string{},
		sinks:      []string{},
	}
}

// New is a shorthand for NewTopology, used when building a topology
// directly rather than through a Builder.
func New() *Topology {
	return NewTopology()
}

func (t *Topology) AddSource(
	name, topic string,
	keySerde, valueSerde serde.UntypedDeserialiser,
) *Topology {
	t.nodes[name] = &sourceNodeDef{
		name:       name,
		topic:      topic,
		keySerde:   keySerde,
		valueSerde: valueSerde,
	}
	t.sources = append(t.sources, name)
	return t
}

func (t *Topology) AddProcessor(name string, supplier processor.UntypedSupplier, parents ...string) *Topology {
	t.nodes[name] = &processorNodeDef{
		name:     name,
		supplier: supplier,
	}

	for _, parent := range parents {
		t.edges[parent] = append(t.edges[parent], name)
	}

	return t
}

func (t *Topology) AddProcessorWithChildName(
	name string,
	supplier processor.UntypedSupplier,
	parent string,
	childName string,
) *Topology {
	t.nodes[name] = &processorNodeDef{
		name:     name,
		supplier: supplier,
	}

	t.edges[parent] = append(t.edges[parent], name)

	if t.namedEdges[parent] == nil {
		t.namedEdges[parent] = make(map[string]string)
	}
	t.namedEdges[parent][childName] = name

	return t
}

func (t *Topology) AddSink(
	name, topic string,
	keySerde, valueSerde serde.UntypedSerialiser,
	parents ...string,
) *Topology {
	t.nodes[name] = &sinkNodeDef{
		name:       name,
		topic:      topic,
		keySerde:   keySerde,
		valueSerde: valueSerde,
	}
	t.sinks = append(t.sinks, name)

	for _, parent := range parents {
		t.edges[parent] = append(t.edges[parent], name)
	}

	return t
}

func (t *Topology) Nodes() map[string]Node {
	return t.nodes
}

func (t *Topology) Children(parent string) []string {
	return t.edges[parent]
}

func (t *Topology) ChildByName(parent, childName string) string {
	if named, ok := t.namedEdges[parent]; ok {
		return named[childName]
	}
	return ""
}

// NamedEdges returns parent's childName-to-actual-node-name map, or nil if
// parent has no named children.
func (t *Topology) NamedEdges(parent string) map[string]string {
	return t.namedEdges[parent]
}

func (t *Topology) Sources() []string {
	return t.sources
}

// SourceTopics returns the Kafka topic backing each source node, in the
// same order as Sources.
func (t *Topology) SourceTopics() []string {
	topics := make([]string, 0, len(t.sources))
	for _, name := range t.sources {
		if src, ok := t.nodes[name].(SourceNode); ok {
			topics = append(topics, src.Topic())
		}
	}
	return topics
}

func (t *Topology) Sinks() []string {
	return t.sinks
}

func (t *Topology) PrintTree() {
	visited := make(map[string]bool)
	for _, source := range t.sources {
		t.printNode(source, "", visited)
	}
}

func (t *Topology) printNode(name, prefix string, visited map[string]bool) {
	if visited[name] {
		return
	}
	visited[name] = true

	node, exists := t.nodes[name]
	if !exists {
		return
	}

	fmt.Printf("%s- %s (%s)\n", prefix, name, node.Type().String())

	children, exists := t.edges[name]
	if !exists {
		return
	}

	for _, child := range children {
		newPrefix := prefix + "  "
		t.printNode(child, newPrefix, visited)
	}
}
