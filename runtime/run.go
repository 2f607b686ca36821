package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pithecene-io/tickflow/graph"
	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/log"
	"github.com/pithecene-io/tickflow/metrics"
	"github.com/pithecene-io/tickflow/network"
	"github.com/pithecene-io/tickflow/types"
)

// DefaultSimStep is the simulated time per tick when neither SimStep nor
// TickPeriod is set.
const DefaultSimStep = 10 * time.Millisecond

// maxRecordedErrors caps RunResult.Errors.
const maxRecordedErrors = 32

// Clock is advanced once per tick, before the tick runs. board.Sim implements it.
type Clock interface {
	Advance(d time.Duration)
}

// RunConfig configures a single run.
type RunConfig struct {
	// RunMeta is the run identity.
	RunMeta *types.RunMeta
	// Source supplies the graph protocol stream.
	Source io.Reader
	// ChunkSize is the source read size. Zero means DefaultChunkSize.
	ChunkSize int
	// Live interleaves ingestion with ticking: commands are applied as they
	// arrive and initial packets are injected at EOF. Otherwise the whole
	// source is applied before the first tick.
	Live bool
	// Factory creates components for CreateComponent commands.
	Factory ipc.Factory
	// Network sizes the engine. Its Logger field is ignored.
	Network network.Config
	// Recovery is the streamer policy for malformed input.
	Recovery ipc.Recovery
	// Initial packets are injected once the source ends.
	Initial []graph.InitialPacket
	// TickPeriod is the wall-clock time between ticks. Zero runs ticks back
	// to back and requires MaxTicks.
	TickPeriod time.Duration
	// SimStep is the simulated time per tick. Zero means TickPeriod, or
	// DefaultSimStep when TickPeriod is zero.
	SimStep time.Duration
	// MaxTicks stops the run after that many ticks. Zero runs until the
	// context is done.
	MaxTicks int64
	// StrictOverflow makes a queue overflow fail the run.
	StrictOverflow bool
	// Clock is advanced by SimStep before every tick. Optional.
	Clock Clock
	// Hooks are installed on the network alongside the collector's.
	Hooks network.Hooks
	// Collector is the metrics collector for this run.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
	// Logger overrides the run logger. If nil, a logger with run context is created.
	Logger *log.Logger
}

// RunResult represents the result of a run.
type RunResult struct {
	// RunMeta is the run identity.
	RunMeta *types.RunMeta
	// Outcome is the run outcome.
	Outcome *types.RunOutcome
	// Duration is the total run duration.
	Duration time.Duration
	// Ticks is the number of ticks run.
	Ticks int64
	// Initial is the number of initial packets injected.
	Initial int
	// Engine is the final engine snapshot.
	Engine network.Stats
	// Stream is the final streamer snapshot.
	Stream ipc.StreamStats
	// Errors holds the first graph and runtime errors, in order.
	Errors []string
	// ErrorsDropped counts errors beyond the recorded ones.
	ErrorsDropped int
	// Network is the engine in its final state, for inspection.
	Network *network.Network
}

// RunOrchestrator orchestrates a single run. The network and the streamer are
// only ever touched by the goroutine that calls Execute.
type RunOrchestrator struct {
	config    *RunConfig
	logger    *log.Logger
	startTime time.Time

	net      *network.Network
	streamer *ipc.Streamer

	ticks       int64
	graphErrors int
	truncated   bool
	initialDone bool
	initial     int
	errs        []string
	errsDropped int
}

// NewRunOrchestrator creates a new run orchestrator and its network.
// Returns error if the configuration is invalid.
func NewRunOrchestrator(config *RunConfig) (*RunOrchestrator, error) {
	if config.RunMeta == nil {
		return nil, errors.New("run metadata is required")
	}
	if err := config.RunMeta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run metadata: %w", err)
	}
	switch {
	case config.Source == nil:
		return nil, errors.New("graph source is required")
	case config.Factory == nil:
		return nil, errors.New("component factory is required")
	case config.MaxTicks < 0:
		return nil, fmt.Errorf("max ticks must be >= 0, got %d", config.MaxTicks)
	case config.TickPeriod < 0 || config.SimStep < 0:
		return nil, errors.New("tick period and sim step must be >= 0")
	case config.Live && config.TickPeriod == 0:
		return nil, errors.New("live runs need a tick period")
	case config.TickPeriod == 0 && config.MaxTicks == 0:
		return nil, errors.New("runs without a tick period need max ticks")
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(config.RunMeta)
	}

	netCfg := config.Network
	netCfg.Logger = logger
	net, err := network.New(netCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}
	net.SetHooks(network.ChainHooks(config.Collector.Hooks(), config.Hooks))

	return &RunOrchestrator{
		config: config,
		logger: logger,
		net:    net,
		streamer: ipc.NewGraphStreamer(net, config.Factory, ipc.StreamerConfig{
			Recovery: config.Recovery,
			Logger:   logger,
		}),
	}, nil
}

// Network returns the engine driven by this run.
func (r *RunOrchestrator) Network() *network.Network { return r.net }

// Execute executes the run end-to-end.
//
// Execution flow:
//  1. Start the ingestion goroutine on the source
//  2. Apply byte chunks to the streamer as they arrive
//  3. At EOF, inject initial packets
//  4. Tick until MaxTicks or until ctx is done
//  5. Determine outcome
//
// In live mode steps 2-4 interleave. Cancellation ends the run normally;
// the outcome then reflects what had happened so far.
func (r *RunOrchestrator) Execute(ctx context.Context) (*RunResult, error) {
	r.startTime = time.Now()
	r.config.Collector.IncRunStarted()

	r.logger.Info("starting run", map[string]any{
		"live":        r.config.Live,
		"tick_period": r.config.TickPeriod.String(),
		"sim_step":    r.simStep().String(),
		"max_ticks":   r.config.MaxTicks,
		"recovery":    r.config.Recovery.String(),
	})

	// Canceled on return so the ingestion goroutine never blocks on a send
	// nobody will receive.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ingestion := NewIngestionEngine(r.config.Source, r.config.ChunkSize, r.logger)
	chunks := make(chan []byte, 16)
	ingestionDone := make(chan error, 1)
	go func() {
		ingestionDone <- ingestion.Run(ctx, chunks)
		close(chunks)
	}()

	var ticker <-chan time.Time
	if r.config.TickPeriod > 0 {
		t := time.NewTicker(r.config.TickPeriod)
		defer t.Stop()
		ticker = t.C
	}

	var ingErr error
	if r.config.Live {
		ingErr = r.runLive(ctx, chunks, ingestionDone, ticker)
	} else {
		ingErr = r.runBatch(ctx, chunks, ingestionDone, ticker)
	}
	// A reader blocked in Read on a live source may outlive the run until
	// that Read returns.
	return r.buildResult(ingErr), nil
}

// runBatch applies the whole source, then ticks.
func (r *RunOrchestrator) runBatch(ctx context.Context, chunks <-chan []byte, done <-chan error, ticker <-chan time.Time) error {
	for chunk := range chunks {
		r.apply(chunk)
	}
	if err := <-done; err != nil {
		if IsCanceledError(err) {
			return nil
		}
		return err
	}
	r.endOfSource()

	for r.config.MaxTicks == 0 || r.ticks < r.config.MaxTicks {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker:
			}
		} else if ctx.Err() != nil {
			return nil
		}
		r.tick()
	}
	return nil
}

// runLive applies chunks and runs ticks as each becomes ready.
func (r *RunOrchestrator) runLive(ctx context.Context, chunks <-chan []byte, done <-chan error, ticker <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				// A nil channel is never ready; stop selecting on it.
				chunks = nil
				if err := <-done; err != nil {
					if IsCanceledError(err) {
						return nil
					}
					return err
				}
				r.endOfSource()
				continue
			}
			r.apply(chunk)
		case <-ticker:
			r.tick()
			if r.config.MaxTicks > 0 && r.ticks >= r.config.MaxTicks {
				return nil
			}
		}
	}
}

func (r *RunOrchestrator) apply(chunk []byte) {
	if _, err := r.streamer.Write(chunk); err != nil {
		for _, e := range unjoin(err) {
			r.graphErrors++
			r.record(e)
			switch {
			case ipc.IsProtocolError(e):
				r.logger.Warn("graph stream rejected", map[string]any{"error": e.Error()})
			case network.IsGraphMutationError(e), ipc.IsCommandError(e):
				r.logger.Warn("graph command rejected", map[string]any{"error": e.Error()})
			}
		}
	}
	r.config.Collector.AbsorbStreamStats(r.streamer.Stats())
	r.config.Collector.AbsorbNetworkStats(r.net.Stats())
}

func (r *RunOrchestrator) endOfSource() {
	if partial := r.streamer.Partial(); partial > 0 {
		r.truncated = true
		r.record(fmt.Errorf("graph stream ended with %d byte(s) of an incomplete frame", partial))
	}
	r.logger.Info("graph loaded", map[string]any{
		"nodes":  r.net.Len(),
		"state":  r.streamer.State().String(),
		"errors": r.graphErrors,
	})
	r.injectInitial()
}

// injectInitial queues the initial packets from outside the graph.
func (r *RunOrchestrator) injectInitial() {
	if r.initialDone {
		return
	}
	r.initialDone = true

	for _, ip := range r.config.Initial {
		pkt, err := ip.Packet()
		if err != nil {
			r.graphErrors++
			r.record(fmt.Errorf("initial packet for node %d: %w", ip.Node, err))
			continue
		}
		if err := r.net.SendMessage(ip.Node, ip.Port, pkt, types.NoNode, types.NoPort); err != nil {
			// Overflows are counted by the engine.
			if network.IsGraphMutationError(err) {
				r.graphErrors++
			}
			r.record(fmt.Errorf("initial packet for %d.%d: %w", ip.Node, ip.Port, err))
			continue
		}
		r.initial++
	}
	r.config.Collector.AddInitial(r.initial)
}

func (r *RunOrchestrator) tick() {
	if r.net.Len() > 0 && !r.net.SetupDone() {
		if err := r.net.RunSetup(); err != nil {
			r.record(err)
		} else {
			r.config.Collector.IncSetup()
		}
	}
	if r.config.Clock != nil {
		r.config.Clock.Advance(r.simStep())
	}
	if err := r.net.RunTick(); err != nil {
		for _, e := range unjoin(err) {
			r.record(e)
		}
	}
	r.ticks++
	r.config.Collector.IncTick()
	r.config.Collector.AbsorbNetworkStats(r.net.Stats())
}

func (r *RunOrchestrator) simStep() time.Duration {
	switch {
	case r.config.SimStep > 0:
		return r.config.SimStep
	case r.config.TickPeriod > 0:
		return r.config.TickPeriod
	default:
		return DefaultSimStep
	}
}

func (r *RunOrchestrator) record(err error) {
	if len(r.errs) >= maxRecordedErrors {
		r.errsDropped++
		return
	}
	r.errs = append(r.errs, err.Error())
}

// unjoin splits an errors.Join result.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// buildResult constructs the final run result.
func (r *RunOrchestrator) buildResult(ingErr error) *RunResult {
	engine := r.net.Stats()
	stream := r.streamer.Stats()

	var sourceErr error
	if IsSourceError(ingErr) {
		sourceErr = ingErr
		r.record(ingErr)
	}

	outcome := DetermineOutcome(OutcomeInputs{
		SourceErr:      sourceErr,
		Faults:         engine.Faults,
		GraphErrors:    r.graphErrors,
		Truncated:      r.truncated,
		Nodes:          engine.Nodes,
		Overflows:      engine.Overflows,
		StrictOverflow: r.config.StrictOverflow,
		Ticks:          r.ticks,
	})

	r.config.Collector.AbsorbNetworkStats(engine)
	r.config.Collector.AbsorbStreamStats(stream)
	r.config.Collector.RecordOutcome(outcome.Status)

	duration := time.Since(r.startTime)
	r.logger.Info("run completed", map[string]any{
		"outcome":   outcome.Status,
		"ticks":     r.ticks,
		"nodes":     engine.Nodes,
		"delivered": engine.Delivered,
		"overflows": engine.Overflows,
		"duration":  duration.String(),
	})

	return &RunResult{
		RunMeta:       r.config.RunMeta,
		Outcome:       outcome,
		Duration:      duration,
		Ticks:         r.ticks,
		Initial:       r.initial,
		Engine:        engine,
		Stream:        stream,
		Errors:        r.errs,
		ErrorsDropped: r.errsDropped,
		Network:       r.net,
	}
}
