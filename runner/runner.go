package runner

import (
	"context"

	"github.com/vkorna/kstreams/kafka"
	"github.com/vkorna/kstreams/otel"
	"github.com/vkorna/kstreams/task"
	"github.com/vkorna/kstreams/topology"
)

type Runner interface {
	kafka.RebalanceCallback
	Run(ctx context.Context) error
}

type Factory = func(
	t *topology.Topology, f task.Factory, consumer kafka.Consumer, producer kafka.Producer, telemetry ...*otel.Telemetry,
) (Runner, error)

// resolveTelemetry returns the first non-nil Telemetry passed to a Factory,
// or a noop Telemetry if none was supplied — accommodating both the 4-arg
// call sites that predate telemetry support and 5-arg call sites that pass
// it explicitly.
func resolveTelemetry(telemetry ...*otel.Telemetry) *otel.Telemetry {
	for _, t := range telemetry {
		if t != nil {
			return t
		}
	}
	return otel.Noop()
}
