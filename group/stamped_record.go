package group

import "fmt"

// NoTimestamp is the sentinel tracked timestamp of an empty RecordQueue,
// and the stream time of a StreamGroup that has not yet delivered a record.
const NoTimestamp int64 = -1 << 63

// PartitionID identifies one partition of one topic.
type PartitionID struct {
	Topic     string
	Partition int32
}

func (p PartitionID) String() string {
	return fmt.Sprintf("%s-%d", p.Topic, p.Partition)
}

// StampedRecord is an immutable (key, value, timestamp) triple plus the
// offset it was read from. The core treats key/value as opaque; they are
// produced by a partition's RecordDecoder at drain time.
type StampedRecord struct {
	Key       any
	Value     any
	Timestamp int64
	Offset    int64
}
