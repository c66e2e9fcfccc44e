package runner

import (
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/vkorna/kstreams/errorhandler"
	"github.com/vkorna/kstreams/group"
	"github.com/vkorna/kstreams/logger"
)

type SingleThreadedOption interface {
	applySingleThreaded(*SingleThreadedConfig)
}

type PartitionedOption interface {
	applyPartitioned(*PartitionedConfig)
}

type loggerOption struct {
	logger logger.Logger
}

func (o loggerOption) applySingleThreaded(c *SingleThreadedConfig) {
	c.Logger = o.logger
}

func (o loggerOption) applyPartitioned(c *PartitionedConfig) {
	c.Logger = o.logger
}

func WithLogger(l logger.Logger) loggerOption {
	return loggerOption{logger: l}
}

type errorHandlerOption struct {
	handler errorhandler.Handler
}

func (o errorHandlerOption) applySingleThreaded(c *SingleThreadedConfig) {
	c.ErrorHandler = o.handler
}

func (o errorHandlerOption) applyPartitioned(c *PartitionedConfig) {
	c.ErrorHandler = o.handler
}

// WithErrorHandler sets the error handler for a runner
func WithErrorHandler(h errorhandler.Handler) errorHandlerOption {
	return errorHandlerOption{handler: h}
}

type serdeErrorHandlerOption struct {
	handler errorhandler.Handler
}

func (o serdeErrorHandlerOption) applyPartitioned(c *PartitionedConfig) {
	c.SerdeErrorHandler = o.handler
}

// WithSerdeErrorHandler overrides PartitionedConfig.ErrorHandler for
// errors in errorhandler.PhaseSerde, routed via errorhandler.PhaseRouter.
func WithSerdeErrorHandler(h errorhandler.Handler) serdeErrorHandlerOption {
	return serdeErrorHandlerOption{handler: h}
}

type processingErrorHandlerOption struct {
	handler errorhandler.Handler
}

func (o processingErrorHandlerOption) applyPartitioned(c *PartitionedConfig) {
	c.ProcessingErrorHandler = o.handler
}

// WithProcessingErrorHandler overrides PartitionedConfig.ErrorHandler for
// errors in errorhandler.PhaseProcessing.
func WithProcessingErrorHandler(h errorhandler.Handler) processingErrorHandlerOption {
	return processingErrorHandlerOption{handler: h}
}

type productionErrorHandlerOption struct {
	handler errorhandler.Handler
}

func (o productionErrorHandlerOption) applyPartitioned(c *PartitionedConfig) {
	c.ProductionErrorHandler = o.handler
}

// WithProductionErrorHandler overrides PartitionedConfig.ErrorHandler for
// errors in errorhandler.PhaseProduction.
func WithProductionErrorHandler(h errorhandler.Handler) productionErrorHandlerOption {
	return productionErrorHandlerOption{handler: h}
}

type desiredUnprocessedOption int

func (o desiredUnprocessedOption) applySingleThreaded(c *SingleThreadedConfig) {
	c.DesiredUnprocessed = int(o)
}

// WithDesiredUnprocessed sets SingleThreaded's per-partition backpressure
// threshold (SPEC_FULL.md §6). Validated by group.NewStreamGroup when the
// runner Factory builds the runner; values below 1 fail there rather than
// here.
func WithDesiredUnprocessed(n int) desiredUnprocessedOption {
	return desiredUnprocessedOption(n)
}

type chooserOption struct {
	chooser group.Chooser
}

func (o chooserOption) applySingleThreaded(c *SingleThreadedConfig) {
	if o.chooser != nil {
		c.Chooser = o.chooser
	}
}

// WithChooser overrides SingleThreaded's default FIFO chooser, e.g. with
// group.NewTimeBasedChooser() for cross-topic event-time alignment.
func WithChooser(chooser group.Chooser) chooserOption {
	return chooserOption{chooser: chooser}
}

type timestampExtractorOption struct {
	extractor group.TimestampExtractor
}

func (o timestampExtractorOption) applySingleThreaded(c *SingleThreadedConfig) {
	c.TimestampExtractor = o.extractor
}

// WithTimestampExtractor sets the function SingleThreaded's StreamGroup
// uses to derive a record's stream-time timestamp from its decoded
// key/value. Without it, SingleThreaded stamps each record with its
// wallclock arrival time.
func WithTimestampExtractor(extractor group.TimestampExtractor) timestampExtractorOption {
	return timestampExtractorOption{extractor: extractor}
}

type channelBufferSizeOption int

func (o channelBufferSizeOption) applyPartitioned(c *PartitionedConfig) {
	if o > 0 {
		c.ChannelBufferSize = int(o)
	}
}

// WithChannelBufferSize sets the buffer size for partition record channels
func WithChannelBufferSize(size int) channelBufferSizeOption {
	return channelBufferSizeOption(size)
}

type workerShutdownTimeoutOption time.Duration

func (o workerShutdownTimeoutOption) applyPartitioned(c *PartitionedConfig) {
	if o > 0 {
		c.WorkerShutdownTimeout = time.Duration(o)
	}
}

// WithWorkerShutdownTimeout sets the timeout for waiting on worker shutdown
func WithWorkerShutdownTimeout(d time.Duration) workerShutdownTimeoutOption {
	return workerShutdownTimeoutOption(d)
}

type drainTimeoutOption time.Duration

func (o drainTimeoutOption) applyPartitioned(c *PartitionedConfig) {
	if o > 0 {
		c.DrainTimeout = time.Duration(o)
	}
}

// WithDrainTimeout sets the timeout for draining partition channels
func WithDrainTimeout(d time.Duration) drainTimeoutOption {
	return drainTimeoutOption(d)
}

type pollErrorBackoffOption struct {
	b backoff.Backoff
}

func (o pollErrorBackoffOption) applySingleThreaded(c *SingleThreadedConfig) {
	if o.b != nil {
		c.PollErrorBackoff = o.b
	}
}

func (o pollErrorBackoffOption) applyPartitioned(c *PartitionedConfig) {
	if o.b != nil {
		c.PollErrorBackoff = o.b
	}
}

func WithPollErrorBackoff(b backoff.Backoff) pollErrorBackoffOption {
	return pollErrorBackoffOption{b: b}
}
