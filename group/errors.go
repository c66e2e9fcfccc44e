package group

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	// ErrDuplicatePartition is returned by AddPartition when the partition
	// is already present in the stash. The group's state is unchanged.
	ErrDuplicatePartition = errors.New("group: duplicate partition")

	// ErrInvalidConfiguration is returned at construction or scheduling
	// time for a non-positive desiredUnprocessed or punctuation interval.
	ErrInvalidConfiguration = errors.New("group: invalid configuration")

	// ErrEmptyChosenQueue indicates the Chooser handed back a queue with
	// no buffered records — an internal invariant violation. It is never
	// expected and is not recoverable; callers should treat it as fatal.
	ErrEmptyChosenQueue = errors.New("group: chosen queue is empty")
)

// DeserializerError wraps a failure from a partition's RecordDecoder
// during the staged-drain step of process.
type DeserializerError struct {
	Cause     error
	Partition PartitionID
}

func (e *DeserializerError) Error() string {
	return "group: deserializer failed for partition " + e.Partition.String() + ": " + e.Cause.Error()
}

func (e *DeserializerError) Unwrap() error { return e.Cause }

// ExtractorError wraps a failure from the TimestampExtractor during the
// staged-drain step of process.
type ExtractorError struct {
	Cause     error
	Partition PartitionID
}

func (e *ExtractorError) Error() string {
	return "group: timestamp extractor failed for partition " + e.Partition.String() + ": " + e.Cause.Error()
}

func (e *ExtractorError) Unwrap() error { return e.Cause }

// ReceiverError wraps a failure returned by a Receiver. The popped record
// is not re-enqueued; its position in the stream is lost.
type ReceiverError struct {
	Cause     error
	Partition PartitionID
}

func (e *ReceiverError) Error() string {
	return "group: receiver failed for partition " + e.Partition.String() + ": " + e.Cause.Error()
}

func (e *ReceiverError) Unwrap() error { return e.Cause }
