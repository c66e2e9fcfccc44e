package runner

import (
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/vkorna/kstreams/errorhandler"
	"github.com/vkorna/kstreams/group"
	"github.com/vkorna/kstreams/logger"
)

// BaseConfig is shared by all runners
type BaseConfig struct {
	Logger           logger.Logger
	ErrorHandler     errorhandler.Handler
	PollErrorBackoff backoff.Backoff
}

func defaultBaseConfig() BaseConfig {
	l := logger.NewNoopLogger()
	return BaseConfig{
		Logger:           l,
		ErrorHandler:     errorhandler.LogAndContinue(l),
		PollErrorBackoff: backoff.NewFixed(time.Second),
	}
}

// SingleThreadedConfig configures SingleThreaded's underlying
// group.StreamGroup in addition to the fields shared with every runner.
type SingleThreadedConfig struct {
	BaseConfig

	// DesiredUnprocessed is the per-partition backpressure threshold
	// (SPEC_FULL.md §6). Must be >= 1.
	DesiredUnprocessed int

	// Chooser selects which partition's queue to drain next. Defaults to
	// group.NewFIFOChooser(); pass group.NewTimeBasedChooser() to bias
	// consumption toward whichever partition is furthest behind in event
	// time.
	Chooser group.Chooser

	// TimestampExtractor derives a record's stream-time timestamp from its
	// decoded key/value. Defaults to a wallclock extractor (each record is
	// stamped with its processing-time arrival, in milliseconds since
	// epoch) for callers with no event-time field to key off; pass
	// WithTimestampExtractor for event-time semantics.
	TimestampExtractor group.TimestampExtractor
}

// wallclockTimestampExtractor stamps every record with its processing-time
// arrival. It is the same fallback Kafka Streams itself defaults to when a
// topology declares no event-time extractor.
func wallclockTimestampExtractor() group.TimestampExtractor {
	return group.TimestampExtractorFunc(
		func(topic string, key, value any) (int64, error) {
			return time.Now().UnixMilli(), nil
		},
	)
}

func defaultSingleThreadedConfig() SingleThreadedConfig {
	return SingleThreadedConfig{
		BaseConfig:         defaultBaseConfig(),
		DesiredUnprocessed: 1,
		Chooser:            group.NewFIFOChooser(),
		TimestampExtractor: wallclockTimestampExtractor(),
	}
}

type PartitionedConfig struct {
	BaseConfig

	// SerdeErrorHandler, ProcessingErrorHandler, and ProductionErrorHandler
	// override BaseConfig.ErrorHandler for their respective
	// errorhandler.ErrorPhase, via errorhandler.NewPhaseRouter. Any left
	// nil fall back to BaseConfig.ErrorHandler.
	SerdeErrorHandler      errorhandler.Handler
	ProcessingErrorHandler errorhandler.Handler
	ProductionErrorHandler errorhandler.Handler

	ChannelBufferSize     int
	WorkerShutdownTimeout time.Duration
	DrainTimeout          time.Duration
}

func defaultPartitionedConfig() PartitionedConfig {
	return PartitionedConfig{
		BaseConfig:            defaultBaseConfig(),
		ChannelBufferSize:     100,
		WorkerShutdownTimeout: 30 * time.Second,
		DrainTimeout:          60 * time.Second,
	}
}
