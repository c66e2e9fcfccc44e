package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vkorna/kstreams/errorhandler"
	"github.com/vkorna/kstreams/group"
	"github.com/vkorna/kstreams/kafka"
	"github.com/vkorna/kstreams/logger"
	streamsotel "github.com/vkorna/kstreams/otel"
	"github.com/vkorna/kstreams/task"
	"github.com/vkorna/kstreams/topology"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

var _ Runner = (*SingleThreaded)(nil)
var _ kafka.RebalanceCallback = (*SingleThreaded)(nil)

// SingleThreaded drives a single group.StreamGroup spanning every
// partition assigned to this runner. One goroutine both feeds the group
// (AddRecords, fed from Poll) and drains it (Process), matching
// SPEC_FULL.md §5's single-writer, cooperative scheduling model: there is
// exactly one thread inside StreamGroup.Process, and it is the same thread
// that calls AddRecords.
//
// This is in contrast to PartitionedRunner, which fans each partition out
// to its own goroutine and a per-partition TopologyTask; SingleThreaded is
// the runner that exercises the stream-synchronization core's stream-time
// alignment and backpressure protocol directly.
type SingleThreaded struct {
	consumer kafka.Consumer
	producer kafka.Producer
	factory  task.GroupTaskFactory
	topology *topology.Topology
	config   SingleThreadedConfig

	group    *group.StreamGroup
	groupObs metric.Registration
	tasks    map[kafka.TopicPartition]*task.GroupTask

	errorHandler errorhandler.Handler

	// lastMarked deduplicates MarkRecords calls: only marked when a
	// partition's ConsumedOffsets entry actually advances.
	lastMarked map[kafka.TopicPartition]int64

	logger    logger.Logger
	telemetry *streamsotel.Telemetry
}

// NewSingleThreadedRunner returns a Factory that builds a SingleThreaded
// runner backed by its own group.StreamGroup. The injected task.Factory is
// accepted for signature compatibility with the shared Factory type but is
// unused: SingleThreaded builds a task.GroupTaskFactory internally, since
// GroupTask (decode-then-dispatch, group.Receiver/group.RecordDecoder)
// rather than TopologyTask (single Process(ctx, record) call) is the task
// shape the StreamGroup-driven model requires.
func NewSingleThreadedRunner(opts ...SingleThreadedOption) Factory {
	config := defaultSingleThreadedConfig()
	for _, opt := range opts {
		opt.applySingleThreaded(&config)
	}

	return func(
		t *topology.Topology, _ task.Factory, consumer kafka.Consumer, producer kafka.Producer,
		telemetryArgs ...*streamsotel.Telemetry,
	) (Runner, error) {
		l := config.Logger.With("component", "runner", "runner", "single_threaded")
		telemetry := resolveTelemetry(telemetryArgs...)

		groupTaskFactory, err := task.NewGroupTaskFactory(
			t, config.Logger, task.WithGroupTelemetry(telemetry), task.WithGroupID(consumer.GroupID()),
		)
		if err != nil {
			return nil, fmt.Errorf("build group task factory: %w", err)
		}

		r := &SingleThreaded{
			consumer:     consumer,
			producer:     producer,
			factory:      groupTaskFactory,
			topology:     t,
			config:       config,
			tasks:        make(map[kafka.TopicPartition]*task.GroupTask),
			lastMarked:   make(map[kafka.TopicPartition]int64),
			errorHandler: config.ErrorHandler,
			logger:       l,
			telemetry:    telemetry,
		}

		sg, err := group.NewStreamGroup(
			group.WithDesiredUnprocessed(config.DesiredUnprocessed),
			group.WithChooser(config.Chooser),
			group.WithTimestampExtractor(config.TimestampExtractor),
			group.WithIngestor(consumerIngestor{consumer: consumer, logger: l}),
			group.WithLogger(config.Logger),
		)
		if err != nil {
			return nil, fmt.Errorf("build stream group: %w", err)
		}
		r.group = sg

		reg, err := telemetry.ObserveGroup(sg.Buffered, sg.StreamTime)
		if err != nil {
			return nil, fmt.Errorf("register group observers: %w", err)
		}
		r.groupObs = reg

		return r, nil
	}
}

// Run subscribes to the topology's source topics and alternates between
// polling the fetcher and draining the group until it reports
// ProcessStatus.PollRequired (no queue can be chosen, or the queue just
// processed fell below DesiredUnprocessed), then polls again.
func (r *SingleThreaded) Run(ctx context.Context) error {
	defer r.shutdown()

	topics := r.topology.SourceTopics()
	if err := r.consumer.Subscribe(topics, r); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	r.logger.Info("Single-threaded runner started", "topics", topics)

	var errAttempts uint
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := r.doPoll(ctx); err != nil {
			r.logger.Warn("Poll/process error", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.config.PollErrorBackoff.Next(errAttempts)):
			}
			errAttempts++
			continue
		}

		errAttempts = 0
	}
}

// doPoll fetches one batch, stages it, and then repeatedly calls
// group.Process until the group reports PollRequired — i.e. until it has
// reason to believe another Poll is worthwhile (SPEC_FULL.md §4.5.5).
func (r *SingleThreaded) doPoll(ctx context.Context) error {
	pollStart := time.Now()

	var receiveSpan trace.Span
	ctx, receiveSpan = r.telemetry.Tracer.Start(
		ctx, "receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeReceive,
		),
	)

	records, err := r.consumer.Poll(ctx)
	if err != nil {
		receiveSpan.RecordError(err)
		receiveSpan.End()
		r.telemetry.PollDuration.Record(
			ctx, time.Since(pollStart).Seconds(), metric.WithAttributes(
				streamsotel.AttrPollStatus.String(streamsotel.StatusError),
			),
		)
		return fmt.Errorf("failed to poll: %w", err)
	}

	r.telemetry.PollDuration.Record(
		ctx, time.Since(pollStart).Seconds(), metric.WithAttributes(
			streamsotel.AttrPollStatus.String(streamsotel.StatusSuccess),
		),
	)
	receiveSpan.SetAttributes(semconv.MessagingBatchMessageCount(len(records)))
	receiveSpan.End()

	if len(records) > 0 {
		r.logger.Debug("Polled records", "count", len(records))
		r.stageRecords(records)
	}

	status := &group.ProcessStatus{}
	for {
		if err := r.group.Process(status); err != nil {
			if r.handleProcessError(ctx, err) {
				continue
			}
			return err
		}

		r.markConsumed()

		if status.PollRequired {
			return nil
		}
	}
}

func (r *SingleThreaded) stageRecords(records []kafka.ConsumerRecord) {
	batches := make(map[group.PartitionID][]group.RawRecord)
	for _, rec := range records {
		pid := group.PartitionID{Topic: rec.Topic, Partition: rec.Partition}
		batches[pid] = append(batches[pid], group.RawRecord{Key: rec.Key, Value: rec.Value, Offset: rec.Offset})
	}

	if r.telemetry != nil {
		r.telemetry.MessagesConsumed.Add(context.Background(), int64(len(records)))
	}

	for pid, raws := range batches {
		r.group.AddRecords(pid, raws)
	}
}

// markConsumed marks every partition whose consumed offset has advanced
// since the last call, so the next Commit call picks it up. StreamGroup
// tracks the offset itself (SPEC_FULL.md §4.5.3 step 7); it does not push
// it to the fetcher, so the runner has to poll ConsumedOffsets and diff.
func (r *SingleThreaded) markConsumed() {
	for pid, offset := range r.group.ConsumedOffsets() {
		tp := kafka.TopicPartition{Topic: pid.Topic, Partition: pid.Partition}
		if last, ok := r.lastMarked[tp]; ok && last == offset {
			continue
		}

		r.lastMarked[tp] = offset
		r.consumer.MarkRecords(kafka.ConsumerRecord{Topic: tp.Topic, Partition: tp.Partition, Offset: offset})
	}
}

// handleProcessError classifies an error returned from group.Process and
// asks the configured errorhandler.Handler what to do. The stream
// synchronization core has no retry path for a record it has already
// popped (SPEC_FULL.md §7): the record's position in the stream is lost
// the moment Process returns an error. So only ActionTypeContinue has a
// meaningful effect here — the group has already advanced past the failed
// record, and the run loop simply keeps going. Any other action is
// treated as fatal.
func (r *SingleThreaded) handleProcessError(ctx context.Context, err error) bool {
	if errors.Is(err, group.ErrEmptyChosenQueue) {
		r.logger.Error("Stream group invariant violation", "error", err)
		return false
	}

	partition, phase, cause := classifyGroupError(err)
	ec := errorhandler.NewErrorContext(
		kafka.ConsumerRecord{Topic: partition.Topic, Partition: partition.Partition}, cause,
	).WithPhase(phase)

	action := r.errorHandler.Handle(ctx, ec)
	if action.Type() == errorhandler.ActionTypeContinue {
		r.logger.Warn("Group reported an error, continuing", "partition", partition.String(), "error", cause)
		return true
	}

	r.logger.Error(
		"Group reported an unrecoverable error; the synchronization core cannot retry a popped record",
		"partition", partition.String(), "action", action.Type().String(), "error", cause,
	)
	return false
}

func classifyGroupError(err error) (group.PartitionID, errorhandler.ErrorPhase, error) {
	var de *group.DeserializerError
	if errors.As(err, &de) {
		return de.Partition, errorhandler.PhaseSerde, de.Cause
	}

	var ee *group.ExtractorError
	if errors.As(err, &ee) {
		return ee.Partition, errorhandler.PhaseProcessing, ee.Cause
	}

	var re *group.ReceiverError
	if errors.As(err, &re) {
		phase := errorhandler.PhaseProcessing
		if _, ok := task.AsProductionError(re.Cause); ok {
			phase = errorhandler.PhaseProduction
		}
		return re.Partition, phase, re.Cause
	}

	return group.PartitionID{}, errorhandler.PhaseUnknown, err
}

func (r *SingleThreaded) OnAssigned(ctx context.Context, partitions []kafka.TopicPartition) {
	r.logger.Info("Partitions assigned", "partitions", partitions)

	for _, tp := range partitions {
		t, err := r.factory.CreateGroupTask(tp, r.producer)
		if err != nil {
			r.logger.Error("Failed to create group task for partition", "partition", tp, "error", err)
			continue
		}

		pid := group.PartitionID{Topic: tp.Topic, Partition: tp.Partition}
		if err := r.group.AddPartition(pid, t, t); err != nil {
			r.logger.Error("Failed to add partition to stream group", "partition", tp, "error", err)
			continue
		}

		r.tasks[tp] = t

		// resume in case the partition was left paused by backpressure
		// before a prior revoke; a no-op otherwise.
		r.consumer.ResumePartitions(tp)
	}

	if r.telemetry != nil {
		r.telemetry.TasksActive.Add(
			ctx, int64(len(partitions)), metric.WithAttributes(
				streamsotel.AttrRunnerType.String(streamsotel.RunnerTypeSingleThreaded),
			),
		)
	}
}

func (r *SingleThreaded) OnRevoked(ctx context.Context, partitions []kafka.TopicPartition) {
	r.logger.Info("Partitions revoked", "partitions", partitions)

	for _, tp := range partitions {
		pid := group.PartitionID{Topic: tp.Topic, Partition: tp.Partition}
		r.group.RemovePartition(pid)

		if t, ok := r.tasks[tp]; ok {
			if err := t.Close(); err != nil {
				r.logger.Warn("Failed to close group task on revoke", "partition", tp, "error", err)
			}
			delete(r.tasks, tp)
		}

		delete(r.lastMarked, tp)
	}

	commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.consumer.Commit(commitCtx); err != nil {
		r.logger.Error("Failed to commit offsets on revoke", "error", err)
	}

	if r.telemetry != nil {
		r.telemetry.TasksActive.Add(
			ctx, -int64(len(partitions)), metric.WithAttributes(
				streamsotel.AttrRunnerType.String(streamsotel.RunnerTypeSingleThreaded),
			),
		)
	}
}

func (r *SingleThreaded) shutdown() {
	r.logger.Info("Shutting down single-threaded runner")

	if r.groupObs != nil {
		if err := r.groupObs.Unregister(); err != nil {
			r.logger.Warn("Failed to unregister group observer", "error", err)
		}
	}

	r.group.Close()

	for tp, t := range r.tasks {
		if err := t.Close(); err != nil {
			r.logger.Warn("Failed to close group task during shutdown", "partition", tp, "error", err)
		}
	}
	r.tasks = make(map[kafka.TopicPartition]*task.GroupTask)

	commitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.consumer.Commit(commitCtx); err != nil {
		r.logger.Error("Failed to commit offsets during shutdown", "error", err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer flushCancel()

	if err := r.producer.Flush(flushCtx); err != nil {
		r.logger.Error("Failed to flush producer during shutdown", "error", err)
	}

	r.logger.Info("Single-threaded runner shutdown complete")
}

// consumerIngestor adapts kafka.Consumer's pause/resume to group.Ingestor.
// fromOffset needs no seek: PausePartitions only stops fetching, it never
// rewinds franz-go's internal fetch cursor, so resuming continues from
// wherever that cursor already sits.
type consumerIngestor struct {
	consumer kafka.Consumer
	logger   logger.Logger
}

func (i consumerIngestor) Pause(partition group.PartitionID) {
	i.consumer.PausePartitions(kafka.TopicPartition{Topic: partition.Topic, Partition: partition.Partition})
}

func (i consumerIngestor) Unpause(partition group.PartitionID, fromOffset int64) {
	i.logger.Debug("Resuming partition", "partition", partition.String(), "from_offset", fromOffset)
	i.consumer.ResumePartitions(kafka.TopicPartition{Topic: partition.Topic, Partition: partition.Partition})
}
