package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// transferEvents counts workflow events by type. The label set is the fixed
// EventType vocabulary, so cardinality stays bounded.
var transferEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "transfer_events_total",
		Help: "Total number of transfer workflow events emitted.",
	},
	[]string{"type"},
)

func init() {
	prometheus.MustRegister(transferEvents)
}

// MetricsDispatcher counts events in Prometheus. It carries no payload
// anywhere; pair it with a delivering dispatcher via Multi.
type MetricsDispatcher struct{}

// Dispatch increments the per-type event counter and never fails.
func (MetricsDispatcher) Dispatch(_ context.Context, ev Event) error {
	transferEvents.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Multi fans one event out to several dispatchers in order. The first error
// is returned after all dispatchers have been invoked; one failing channel
// does not starve the others.
type Multi []Dispatcher

// Dispatch delivers ev to every member dispatcher.
func (m Multi) Dispatch(ctx context.Context, ev Event) error {
	var first error
	for _, d := range m {
		if err := d.Dispatch(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
