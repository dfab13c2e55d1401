package reflection

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/core"
)

// Setup is a scheduler built from configuration, together with the
// resources it owns.
type Setup struct {
	Scheduler *Scheduler
	Reflector *Reflector
	Metrics   *Metrics

	nats *NATSReporter
}

// FromConfig wires a Reflector over store into a Scheduler. Failures are
// always logged and are also published on NATS when rc.NATSURL is set.
// Metrics are registered with reg when it is non-nil.
func FromConfig(rc core.ReflectionConfig, store Store, extractor Extractor, logger *zap.Logger, reg prometheus.Registerer) (*Setup, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ropts := []ReflectorOption{WithReflectorLogger(logger)}
	if len(rc.Namespace) > 0 {
		ropts = append(ropts, WithNamespace(core.NewNamespace(rc.Namespace...)))
	}
	setup := &Setup{Reflector: NewReflector(store, extractor, ropts...)}

	reporter := Reporter(NewLogReporter(logger.Named("reflection")))
	if rc.NATSURL != "" {
		nr, err := DialNATS(rc.NATSURL, rc.NATSSubject)
		if err != nil {
			return nil, err
		}
		setup.nats = nr
		reporter = MultiReporter{reporter, nr}
	}

	opts := []Option{WithLogger(logger), WithReporter(reporter)}
	if reg != nil {
		setup.Metrics = NewMetrics(reg)
		opts = append(opts, WithMetrics(setup.Metrics))
	}

	setup.Scheduler = New(setup.Reflector, Config{
		Delay:      rc.Delay,
		Workers:    rc.Workers,
		MaxRetries: rc.MaxRetries,
	}, opts...)
	return setup, nil
}

// Close releases the NATS connection, if any. Close the scheduler first.
func (s *Setup) Close() error {
	if s.nats == nil {
		return nil
	}
	return s.nats.Close()
}
