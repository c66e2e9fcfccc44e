package group

// Receiver is the downstream sink bound to one partition. It is called
// synchronously, under the StreamGroup's lock, and must not call back into
// the StreamGroup that owns it.
type Receiver interface {
	Receive(key, value any, recordTimestamp, streamTime int64) error
}

// RecordQueue is a per-partition FIFO of StampedRecord with an embedded
// TimestampTracker. StreamGroup owns the queue; the queue holds a
// non-owning reference to its Receiver, whose lifetime belongs to the
// enclosing task.
type RecordQueue struct {
	partition PartitionID
	receiver  Receiver
	decoder   RecordDecoder

	records []*StampedRecord
	tracker TimestampTracker
	offset  int64
}

func newRecordQueue(partition PartitionID, receiver Receiver, decoder RecordDecoder) *RecordQueue {
	return &RecordQueue{
		partition: partition,
		receiver:  receiver,
		decoder:   decoder,
		tracker:   NewMinTimestampTracker(),
		offset:    -1,
	}
}

// Add appends a record to the FIFO and the tracker, and records its offset
// as the queue's most-recently-enqueued offset.
func (q *RecordQueue) Add(r *StampedRecord) {
	q.records = append(q.records, r)
	q.tracker.AddStamped(r)
	q.offset = r.Offset
}

// Next pops the front record, removing it from the tracker, or returns nil
// if the queue is empty.
func (q *RecordQueue) Next() *StampedRecord {
	if len(q.records) == 0 {
		return nil
	}
	r := q.records[0]
	q.records = q.records[1:]
	q.tracker.RemoveStamped(r)
	return r
}

func (q *RecordQueue) TrackedTimestamp() int64 {
	return q.tracker.Get()
}

func (q *RecordQueue) Size() int {
	return len(q.records)
}

func (q *RecordQueue) IsEmpty() bool {
	return len(q.records) == 0
}

func (q *RecordQueue) Partition() PartitionID {
	return q.partition
}

func (q *RecordQueue) Offset() int64 {
	return q.offset
}
