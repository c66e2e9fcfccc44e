// Package group implements the per-task stream synchronization core: a
// single-writer state machine that drains per-partition record queues into
// a receiver one record at a time while advancing a logical stream-time
// clock, applying per-partition backpressure, and firing punctuation
// callbacks. Everything outside this package — transport, serialization
// formats, commit coordination, the DSL operator tree — is an external
// collaborator.
package group

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vkorna/kstreams/logger"
)

// ProcessStatus is populated by Process to advise the caller whether the
// fetcher should be invoked again. PollRequired is advisory, not a
// promise: a spurious true is acceptable, a false negative is a bug.
type ProcessStatus struct {
	PollRequired bool
}

// StreamGroupConfig configures a StreamGroup. Use NewStreamGroup with
// StreamGroupOption values rather than constructing this directly.
type StreamGroupConfig struct {
	DesiredUnprocessed int
	Chooser            Chooser
	TimestampExtractor TimestampExtractor
	Ingestor           Ingestor
	PunctuationQueue   *PunctuationQueue
	Logger             logger.Logger
}

func defaultStreamGroupConfig() StreamGroupConfig {
	return StreamGroupConfig{
		DesiredUnprocessed: 1,
		Chooser:            NewFIFOChooser(),
		Ingestor:           noopIngestor{},
		PunctuationQueue:   NewPunctuationQueue(),
		Logger:             logger.NewNoopLogger(),
		TimestampExtractor: TimestampExtractorFunc(func(string, any, any) (int64, error) {
			return 0, fmt.Errorf("%w: no TimestampExtractor configured", ErrInvalidConfiguration)
		}),
	}
}

type StreamGroupOption func(*StreamGroupConfig)

// WithDesiredUnprocessed sets the per-partition backpressure threshold.
// Values below 1 are rejected by NewStreamGroup.
func WithDesiredUnprocessed(n int) StreamGroupOption {
	return func(c *StreamGroupConfig) { c.DesiredUnprocessed = n }
}

// WithChooser overrides the default FIFO chooser, e.g. with
// NewTimeBasedChooser() for cross-partition event-time alignment.
func WithChooser(chooser Chooser) StreamGroupOption {
	return func(c *StreamGroupConfig) { c.Chooser = chooser }
}

// WithTimestampExtractor sets the function used to derive a record's
// timestamp from its decoded key/value during the staged-drain step.
func WithTimestampExtractor(extractor TimestampExtractor) StreamGroupOption {
	return func(c *StreamGroupConfig) { c.TimestampExtractor = extractor }
}

// WithIngestor sets the pause/unpause backpressure target. If omitted, a
// no-op Ingestor is used (suitable for tests that don't assert on it).
func WithIngestor(ingestor Ingestor) StreamGroupOption {
	return func(c *StreamGroupConfig) { c.Ingestor = ingestor }
}

// WithPunctuationQueue overrides the default empty punctuation queue,
// letting a caller pre-register schedules before the group starts
// processing.
func WithPunctuationQueue(pq *PunctuationQueue) StreamGroupOption {
	return func(c *StreamGroupConfig) { c.PunctuationQueue = pq }
}

// WithLogger sets the logger used for partition lifecycle and invariant
// violations. Defaults to a no-op logger.
func WithLogger(l logger.Logger) StreamGroupOption {
	return func(c *StreamGroupConfig) { c.Logger = l }
}

// StreamGroup is the orchestration state machine described in
// SPEC_FULL.md §4.5. A single monitor (mu) protects all mutable state;
// buffered is additionally published through atomic.Int64 so out-of-lock
// observers (metrics) can read a recent value without contending the lock.
type StreamGroup struct {
	mu sync.Mutex

	config StreamGroupConfig
	logger logger.Logger

	stash           map[PartitionID]*RecordQueue
	staging         []recordBatch
	consumedOffsets map[PartitionID]int64
	streamTime      int64
	buffered        atomic.Int64

	closed bool
}

// NewStreamGroup constructs a StreamGroup. Returns ErrInvalidConfiguration
// if DesiredUnprocessed is below 1.
func NewStreamGroup(opts ...StreamGroupOption) (*StreamGroup, error) {
	cfg := defaultStreamGroupConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.DesiredUnprocessed < 1 {
		return nil, fmt.Errorf("%w: desiredUnprocessed must be >= 1, got %d", ErrInvalidConfiguration, cfg.DesiredUnprocessed)
	}

	return &StreamGroup{
		config:          cfg,
		logger:          cfg.Logger.With("component", "group"),
		stash:           make(map[PartitionID]*RecordQueue),
		consumedOffsets: make(map[PartitionID]int64),
		streamTime:      NoTimestamp,
	}, nil
}

// AddPartition installs a fresh, empty RecordQueue bound to receiver.
// Returns ErrDuplicatePartition if the partition is already present,
// leaving the existing queue (and its receiver) untouched.
func (g *StreamGroup) AddPartition(partition PartitionID, receiver Receiver, decoder RecordDecoder) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.stash[partition]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePartition, partition)
	}

	g.stash[partition] = newRecordQueue(partition, receiver, decoder)
	g.logger.Debug("partition added", "partition", partition.String())
	return nil
}

// RemovePartition drops the partition from the stash and forgets any
// consumed-offset entry for it. Its buffered records are discarded and no
// longer counted by Buffered. If the queue is currently resident in the
// Chooser, Process discards it when the Chooser next returns it, so it is
// never processed again (see SPEC_FULL.md §12).
func (g *StreamGroup) RemovePartition(partition PartitionID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if queue, ok := g.stash[partition]; ok {
		g.buffered.Add(-int64(queue.Size()))
	}
	delete(g.stash, partition)
	delete(g.consumedOffsets, partition)
	g.logger.Debug("partition removed", "partition", partition.String())
}

// AddRecords stages raw records for partition without decoding or
// timestamp extraction — that work is deferred to the next Process call.
// An unknown partition is silently ignored per SPEC_FULL.md §7: it may
// have been revoked between the fetcher reading it and this call.
func (g *StreamGroup) AddRecords(partition PartitionID, records []RawRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.stash[partition]; !ok {
		g.logger.Debug("addRecords for unknown partition, ignoring", "partition", partition.String())
		return
	}

	g.staging = append(g.staging, recordBatch{partition: partition, records: records})
}

// Process performs one orchestration step: drains staged records,
// selects a queue via the Chooser, pops one record, advances stream time,
// dispatches to the receiver, and fires matured punctuations. See
// SPEC_FULL.md §4.5.3 for the numbered steps this mirrors.
func (g *StreamGroup) Process(status *ProcessStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	status.PollRequired = false

	if err := g.ingestNewRecords(); err != nil {
		return err
	}

	queue := g.config.Chooser.Next()
	for queue != nil && g.stash[queue.Partition()] != queue {
		// Removed partition still resident in the Chooser: skip it.
		queue = g.config.Chooser.Next()
	}
	if queue == nil {
		status.PollRequired = true
		return nil
	}

	if queue.IsEmpty() {
		g.logger.Warn("chooser returned an empty queue", "partition", queue.Partition().String())
		return fmt.Errorf("%w: partition %s", ErrEmptyChosenQueue, queue.Partition())
	}

	if queue.Size() == g.config.DesiredUnprocessed {
		g.config.Ingestor.Unpause(queue.Partition(), queue.Offset())
	}

	trackedTimestamp := queue.TrackedTimestamp()
	record := queue.Next()

	if queue.Size() < g.config.DesiredUnprocessed {
		status.PollRequired = true
	}

	if trackedTimestamp > g.streamTime {
		g.streamTime = trackedTimestamp
	}

	partition := queue.Partition()
	if err := queue.receiver.Receive(record.Key, record.Value, record.Timestamp, g.streamTime); err != nil {
		return &ReceiverError{Cause: err, Partition: partition}
	}

	g.consumedOffsets[partition] = record.Offset

	if !queue.IsEmpty() {
		g.config.Chooser.Add(queue)
	}

	g.buffered.Add(-1)

	return g.config.PunctuationQueue.MayPunctuate(g.streamTime)
}

// ingestNewRecords drains the staging buffer into per-partition queues,
// decoding each raw record and extracting its timestamp. This is the
// costly work SPEC_FULL.md §9 deliberately keeps out of AddRecords.
func (g *StreamGroup) ingestNewRecords() error {
	if len(g.staging) == 0 {
		return nil
	}

	batches := g.staging
	g.staging = nil

	for i, batch := range batches {
		queue, ok := g.stash[batch.partition]
		if !ok {
			continue
		}

		for j, raw := range batch.records {
			wasEmpty := queue.IsEmpty()

			key, value, err := queue.decoder.Decode(batch.partition.Topic, raw.Key, raw.Value)
			if err != nil {
				g.restage(batch.partition, batch.records[j+1:], batches[i+1:])
				return &DeserializerError{Cause: err, Partition: batch.partition}
			}

			timestamp, err := g.config.TimestampExtractor.Extract(batch.partition.Topic, key, value)
			if err != nil {
				g.restage(batch.partition, batch.records[j+1:], batches[i+1:])
				return &ExtractorError{Cause: err, Partition: batch.partition}
			}

			queue.Add(&StampedRecord{
				Key:       key,
				Value:     value,
				Timestamp: timestamp,
				Offset:    raw.Offset,
			})
			g.buffered.Add(1)

			if wasEmpty {
				g.config.Chooser.Add(queue)
			}
			if queue.Size() >= g.config.DesiredUnprocessed {
				g.config.Ingestor.Pause(batch.partition)
			}
		}
	}

	return nil
}

// restage re-inserts a failing batch's not-yet-decoded remainder and every
// later batch back onto the front of the staging buffer, so a
// DeserializerFailure/ExtractorFailure on one record only loses that record
// (SPEC_FULL.md §7) rather than the rest of the ingest cycle's backlog.
func (g *StreamGroup) restage(partition PartitionID, remainder []RawRecord, laterBatches []recordBatch) {
	restored := make([]recordBatch, 0, len(laterBatches)+1)
	if len(remainder) > 0 {
		restored = append(restored, recordBatch{partition: partition, records: remainder})
	}
	restored = append(restored, laterBatches...)

	g.staging = append(restored, g.staging...)
}

// ConsumedOffsets returns the live partition-to-last-consumed-offset map.
// Callers must not mutate it.
func (g *StreamGroup) ConsumedOffsets() map[PartitionID]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consumedOffsets
}

// Buffered returns the total number of records currently buffered across
// all partitions. Safe to call without holding the group lock.
func (g *StreamGroup) Buffered() int64 {
	return g.buffered.Load()
}

// StreamTime returns the group's current logical clock value.
func (g *StreamGroup) StreamTime() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streamTime
}

// Schedule registers processor to fire every intervalMs of stream time,
// counting from the current stream time, or from 0 if no record has been
// processed yet.
func (g *StreamGroup) Schedule(processor Punctuator, intervalMs int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	start := g.streamTime
	if start == NoTimestamp {
		start = 0
	}
	return g.config.PunctuationQueue.Schedule(processor, intervalMs, start)
}

// Close releases the Chooser and clears the stash. Safe to call more than
// once.
func (g *StreamGroup) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}

	g.config.Chooser.Close()
	g.stash = make(map[PartitionID]*RecordQueue)
	g.closed = true
}

type noopIngestor struct{}

func (noopIngestor) Pause(PartitionID)           {}
func (noopIngestor) Unpause(PartitionID, int64) {}
