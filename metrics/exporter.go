package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pithecene-io/tickflow/log"
)

// Namespace prefixes every exported metric name.
const Namespace = "tickflow"

// Exporter exposes a Collector to Prometheus. It reads a fresh Snapshot on
// every scrape, so it never holds counters of its own.
type Exporter struct {
	collector *Collector

	runs        *prometheus.Desc
	ticks       *prometheus.Desc
	setups      *prometheus.Desc
	initial     *prometheus.Desc
	nodesAdded  *prometheus.Desc
	connects    *prometheus.Desc
	sent        *prometheus.Desc
	delivered   *prometheus.Desc
	sentBy      *prometheus.Desc
	unconnected *prometheus.Desc
	overflows   *prometheus.Desc
	faults      *prometheus.Desc
	nodes       *prometheus.Desc
	pending     *prometheus.Desc
	peak        *prometheus.Desc
	capacity    *prometheus.Desc
	bytes       *prometheus.Desc
	commands    *prometheus.Desc
	protoErrs   *prometheus.Desc
	resyncs     *prometheus.Desc
}

// NewExporter creates an exporter for c. Run dimensions become constant labels.
func NewExporter(c *Collector) *Exporter {
	snap := c.Snapshot()
	labels := prometheus.Labels{"run_id": snap.RunID}
	if snap.Graph != "" {
		labels["graph"] = snap.Graph
	}
	desc := func(subsystem, name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, subsystem, name), help, variable, labels)
	}

	return &Exporter{
		collector: c,

		runs:    desc("runs", "total", "Runs by final outcome.", "outcome"),
		ticks:   desc("scheduler", "ticks_total", "Completed scheduler ticks."),
		setups:  desc("scheduler", "setups_total", "Completed setup passes."),
		initial: desc("scheduler", "initial_packets_total", "Initial packets injected into the graph."),

		nodesAdded: desc("graph", "nodes_added_total", "Components registered."),
		connects:   desc("graph", "connects_total", "Output ports wired."),
		nodes:      desc("graph", "nodes", "Components in the current graph."),

		sent:        desc("messages", "sent_total", "Messages enqueued."),
		delivered:   desc("messages", "delivered_total", "Messages delivered to components."),
		sentBy:      desc("messages", "sent_by_component_total", "Messages enqueued by sender component type.", "component"),
		unconnected: desc("messages", "unconnected_sends_total", "Sends on unconnected ports."),
		overflows:   desc("queue", "overflows_total", "Messages rejected by a full queue."),
		faults:      desc("messages", "delivery_faults_total", "Messages whose target was absent."),

		pending:  desc("queue", "pending", "Messages waiting in the queue."),
		peak:     desc("queue", "peak", "Largest queue depth in the current graph."),
		capacity: desc("queue", "capacity", "Queue capacity in messages."),

		bytes:     desc("protocol", "bytes_total", "Graph stream bytes consumed."),
		commands:  desc("protocol", "commands_total", "Graph commands by result.", "result"),
		protoErrs: desc("protocol", "errors_total", "Bad headers and unknown opcodes."),
		resyncs:   desc("protocol", "resyncs_total", "Recoveries from an invalid stream."),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		e.runs, e.ticks, e.setups, e.initial,
		e.nodesAdded, e.connects, e.nodes,
		e.sent, e.delivered, e.sentBy, e.unconnected, e.overflows, e.faults,
		e.pending, e.peak, e.capacity,
		e.bytes, e.commands, e.protoErrs, e.resyncs,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.collector.Snapshot()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}

	counter(e.runs, s.RunsCompleted, "completed")
	counter(e.runs, s.RunsGraphError, "graph_error")
	counter(e.runs, s.RunsFaulted, "runtime_fault")
	counter(e.runs, s.RunsOverflowed, "queue_overflow")
	counter(e.ticks, s.TicksRun)
	counter(e.setups, s.SetupsRun)
	counter(e.initial, s.InitialInjected)

	counter(e.nodesAdded, s.NodesAdded)
	counter(e.connects, s.Connects)
	gauge(e.nodes, s.Nodes)

	counter(e.sent, s.MessagesSent)
	counter(e.delivered, s.MessagesDelivered)
	names := make([]string, 0, len(s.SentByComponent))
	for name := range s.SentByComponent {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		counter(e.sentBy, s.SentByComponent[name], name)
	}
	counter(e.unconnected, s.UnconnectedSends)
	counter(e.overflows, s.Overflows)
	counter(e.faults, s.DeliveryFaults)

	gauge(e.pending, s.QueuePending)
	gauge(e.peak, s.QueuePeak)
	gauge(e.capacity, s.QueueCapacity)

	counter(e.bytes, s.ProtocolBytes)
	counter(e.commands, s.CommandsApplied, "applied")
	counter(e.commands, s.CommandsRejected, "rejected")
	counter(e.protoErrs, s.ProtocolErrors)
	counter(e.resyncs, s.Resyncs)
}

// NewRegistry returns a registry holding an exporter for c plus the Go
// runtime and process collectors.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, pc := range []prometheus.Collector{
		NewExporter(c),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(pc); err != nil {
			return nil, fmt.Errorf("failed to register metrics collector: %w", err)
		}
	}
	return reg, nil
}

// Handler returns the HTTP handler serving reg at /metrics and a health check at /health.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve serves reg on addr until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *log.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger = logger.With(map[string]any{"component": "metrics"})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", map[string]any{"addr": addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}
