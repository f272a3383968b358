// Package observe provides routing.Observer implementations.
//
// This package includes:
//   - Prometheus metrics (Metrics)
//   - OpenTelemetry spans (Tracer)
//   - zap logging (Log)
//
// Observers are combined with Multi:
//
//	obs := observe.Multi{
//	    observe.NewMetrics(observe.WithRegistry(reg)),
//	    observe.NewTracer(),
//	    observe.NewLog(logger),
//	}
//	rt, err := routing.New(table, routing.Options{Observer: obs})
//
// # Prometheus Metrics
//
// Expose the registry with promhttp:
//
//	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// Observers never influence a decision; removing them changes no routing
// outcome.
package observe
