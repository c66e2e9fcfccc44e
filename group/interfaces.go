package group

// Ingestor is the external fetcher abstraction. Pause/Unpause must be
// idempotent and safe to call from the processing thread while the
// fetcher thread is inside its own fetch loop — StreamGroup assumes the
// Ingestor implements that itself.
type Ingestor interface {
	Pause(partition PartitionID)
	Unpause(partition PartitionID, fromOffset int64)
}

// TimestampExtractor is a pure, side-effect-free function deriving a
// record's timestamp from its topic and decoded key/value.
type TimestampExtractor interface {
	Extract(topic string, key, value any) (int64, error)
}

// TimestampExtractorFunc adapts a plain function to a TimestampExtractor.
type TimestampExtractorFunc func(topic string, key, value any) (int64, error)

func (f TimestampExtractorFunc) Extract(topic string, key, value any) (int64, error) {
	return f(topic, key, value)
}

// RecordDecoder turns the raw key/value bytes of one partition's records
// into the decoded (key, value) pair a Receiver expects. Decoding is
// deferred until process's drain step (SPEC_FULL.md §9) rather than
// performed in AddRecords.
type RecordDecoder interface {
	Decode(topic string, key, value []byte) (decodedKey, decodedValue any, err error)
}

// RawRecord is the undecoded record as handed to AddRecords by the
// fetcher — key/value are still wire bytes, not yet run through a
// RecordDecoder or TimestampExtractor.
type RawRecord struct {
	Key    []byte
	Value  []byte
	Offset int64
}

// recordBatch is one pending AddRecords call, staged until the next
// process drains it.
type recordBatch struct {
	partition PartitionID
	records   []RawRecord
}
