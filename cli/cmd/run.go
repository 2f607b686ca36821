package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/tickflow/adapter"
	"github.com/pithecene-io/tickflow/adapter/redis"
	"github.com/pithecene-io/tickflow/adapter/webhook"
	"github.com/pithecene-io/tickflow/board"
	"github.com/pithecene-io/tickflow/cli/config"
	"github.com/pithecene-io/tickflow/components"
	"github.com/pithecene-io/tickflow/graph"
	"github.com/pithecene-io/tickflow/iox"
	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/log"
	"github.com/pithecene-io/tickflow/metrics"
	"github.com/pithecene-io/tickflow/network"
	"github.com/pithecene-io/tickflow/runtime"
	"github.com/pithecene-io/tickflow/types"
)

// RunCommand returns the run command, the only command that executes a graph.
func RunCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to tickflow.yaml (default: ./tickflow.yaml if present)",
		},
		&cli.StringFlag{
			Name:  "run-id",
			Usage: "Run ID (default: random UUID)",
		},
		// Tick loop
		&cli.Int64Flag{
			Name:  "max-ticks",
			Usage: "Stop after this many ticks (0: until interrupted)",
		},
		&cli.DurationFlag{
			Name:  "tick-period",
			Usage: "Wall-clock time between ticks (0: back to back, requires --max-ticks)",
		},
		&cli.DurationFlag{
			Name:  "sim-step",
			Usage: "Simulated board time per tick (default: tick period, or 10ms)",
		},
		&cli.BoolFlag{
			Name:  "live",
			Usage: "Tick while the graph stream is still arriving",
		},
		&cli.StringFlag{
			Name:  "serial-in",
			Usage: "Bytes queued on the simulated serial input before the run",
		},
		// Engine
		&cli.IntFlag{
			Name:  "max-nodes",
			Usage: fmt.Sprintf("Node table size (default %d)", network.DefaultConfig().MaxNodes),
		},
		&cli.IntFlag{
			Name:  "max-ports",
			Usage: fmt.Sprintf("Ports per node (default %d)", network.DefaultConfig().MaxPorts),
		},
		&cli.IntFlag{
			Name:  "queue-capacity",
			Usage: fmt.Sprintf("Message queue capacity (default %d)", network.DefaultConfig().QueueCapacity),
		},
		&cli.BoolFlag{
			Name:  "panic-on-fault",
			Usage: "Panic on delivery faults instead of recording them",
		},
		&cli.BoolFlag{
			Name:  "strict-overflow",
			Usage: "Fail the run (exit 3) when the message queue overflows",
		},
		&cli.StringFlag{
			Name:  "recovery",
			Usage: "Graph stream error recovery: resync or none",
		},
		// Output
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write a JSON run report to this path (- for stderr)",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address during the run",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (debug traces every message)",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress the result summary",
		},
		// Adapter
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Run completion adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Adapter endpoint (webhook URL or redis:// URL)",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel (default " + redis.DefaultChannel + ")",
		},
		&cli.StringFlag{
			Name:  "adapter-stream",
			Usage: "Redis stream that also records each event",
		},
		&cli.StringFlag{
			Name:  "adapter-encoding",
			Usage: "Redis payload encoding: json or msgpack",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Webhook header as Key=Value (repeatable)",
		},
		&cli.StringFlag{
			Name:  "adapter-secret",
			Usage: "Webhook HMAC-SHA256 signing secret",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Adapter publish timeout",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Adapter retry attempts",
			Value: 3,
		},
	}

	return &cli.Command{
		Name:      "run",
		Usage:     "Run a graph on the simulated board",
		ArgsUsage: "[graph]",
		Description: "The graph is a YAML or HCL definition, a compiled image (.tfi), or a raw\n" +
			"protocol stream. Locations are paths, s3://bucket/key, or - for stdin.",
		Flags:  append(flags, graphSourceFlags()...),
		Action: runAction,
	}
}

// runChoice is the resolved run configuration.
type runChoice struct {
	location       string
	inputFormat    string
	runID          string
	maxTicks       int64
	tickPeriod     time.Duration
	simStep        time.Duration
	live           bool
	serialIn       string
	network        network.Config
	recovery       ipc.Recovery
	strictOverflow bool
	report         string
	metricsAddr    string
	logLevel       string
	quiet          bool
}

func resolveRunChoice(c *cli.Context, cfg *config.Config) (*runChoice, error) {
	rc := &runChoice{
		location:    c.Args().First(),
		inputFormat: c.String("input-format"),
		runID:       c.String("run-id"),
		live:        c.Bool("live"),
		serialIn:    c.String("serial-in"),
		quiet:       c.Bool("quiet"),
	}
	if rc.location == "" {
		rc.location = configVal(cfg, func(c *config.Config) string { return c.Graph })
	}
	if rc.location == "" {
		return nil, errors.New("a graph location is required (argument or graph: in config)")
	}
	if rc.runID == "" {
		rc.runID = uuid.NewString()
	}
	meta := types.RunMeta{RunID: rc.runID}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid --run-id: %w", err)
	}

	var net config.NetworkConfig
	var run config.RunConfig
	if cfg != nil {
		net, run = cfg.Network, cfg.Run
	}
	rc.network = network.Config{
		MaxNodes:      resolveInt(c, "max-nodes", net.MaxNodes),
		MaxPorts:      resolveInt(c, "max-ports", net.MaxPorts),
		QueueCapacity: resolveInt(c, "queue-capacity", net.QueueCapacity),
		PanicOnFault:  resolveBool(c, "panic-on-fault", net.PanicOnFault),
	}
	rc.maxTicks = resolveInt64(c, "max-ticks", run.MaxTicks)
	rc.tickPeriod = resolveDuration(c, "tick-period", run.TickPeriod.Duration)
	rc.simStep = resolveDuration(c, "sim-step", run.SimStep.Duration)
	rc.strictOverflow = resolveBool(c, "strict-overflow", run.StrictOverflow)
	rc.report = resolveString(c, "report", run.Report)
	rc.metricsAddr = resolveString(c, "metrics-addr", configVal(cfg, func(c *config.Config) string { return c.Metrics.Addr }))
	rc.logLevel = resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.Log.Level }))

	recovery, err := ipc.ParseRecovery(resolveString(c, "recovery", configVal(cfg, func(c *config.Config) string { return c.Protocol.Recovery })))
	if err != nil {
		return nil, fmt.Errorf("invalid --recovery: %w", err)
	}
	rc.recovery = recovery
	return rc, nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	choice, err := resolveRunChoice(c, cfg)
	if err != nil {
		return err
	}
	adapterCfg, err := parseAdapterConfig(c, cfg)
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(choice.logLevel)
	if err != nil {
		return err
	}
	if choice.logLevel == "" && isStderrTTY() {
		// Keep an interactive terminal for the summary.
		level = zapcore.WarnLevel
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	sim := board.NewSim()
	if choice.serialIn != "" {
		_, _ = io.WriteString(sim, choice.serialIn)
	}
	reg := components.NewRegistry(sim)

	format, err := parseInputFormat(choice.inputFormat, choice.location)
	if err != nil {
		return err
	}
	in, err := openGraph(ctx, newOpener(c, cfg), choice.location, format, reg, graph.CompileOptions{})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load graph: %v", err), runtime.ExitCodeGraphError)
	}
	defer in.close()

	runMeta := &types.RunMeta{RunID: choice.runID, Graph: in.name()}
	logger := log.NewLoggerWithLevel(runMeta, os.Stderr, level)
	defer iox.DiscardErr(logger.Sync)

	collector := metrics.NewCollector(runMeta.RunID, runMeta.Graph)
	collector.SetTypeNames(reg.TypeName)

	metricsDone := make(chan struct{})
	metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
	if choice.metricsAddr != "" {
		promReg, err := metrics.NewRegistry(collector)
		if err != nil {
			stopMetrics()
			return fmt.Errorf("failed to create metrics registry: %w", err)
		}
		go func() {
			defer close(metricsDone)
			if err := metrics.Serve(metricsCtx, choice.metricsAddr, promReg, logger); err != nil {
				logger.Error("metrics server failed", map[string]any{"error": err.Error()})
			}
		}()
	} else {
		close(metricsDone)
	}
	defer func() {
		stopMetrics()
		<-metricsDone
	}()

	stream, err := in.streamReader()
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to encode graph: %v", err), runtime.ExitCodeGraphError)
	}
	var initial []graph.InitialPacket
	if in.program != nil {
		initial = in.program.Initial
	}

	orchestrator, err := runtime.NewRunOrchestrator(&runtime.RunConfig{
		RunMeta:        runMeta,
		Source:         stream,
		Live:           choice.live,
		Factory:        reg,
		Network:        choice.network,
		Recovery:       choice.recovery,
		Initial:        initial,
		TickPeriod:     choice.tickPeriod,
		SimStep:        choice.simStep,
		MaxTicks:       choice.maxTicks,
		StrictOverflow: choice.strictOverflow,
		Clock:          sim,
		Collector:      collector,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	result, err := orchestrator.Execute(ctx)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	exitCode := runtime.ExitCode(result.Outcome.Status)
	snap := collector.Snapshot()
	report := runtime.BuildRunReport(result, &snap, &runtime.BoardState{
		Pins:   sim.Pins(),
		Serial: sim.SerialOutput(),
	}, exitCode)

	if choice.report != "" {
		if err := runtime.WriteRunReport(report, choice.report); err != nil {
			logger.Error("failed to write run report", map[string]any{"error": err.Error()})
		}
	}

	if adapterCfg != nil {
		publishRunCompleted(context.WithoutCancel(ctx), adapterCfg, report, choice.location, logger)
	}

	if !choice.quiet {
		printRunResult(os.Stdout, report)
	}

	return cli.Exit("", exitCode)
}

// adapterChoice is the resolved adapter configuration.
type adapterChoice struct {
	typ      string
	url      string
	channel  string
	stream   string
	encoding string
	headers  map[string]string
	secret   string
	timeout  time.Duration
	retries  int
}

// parseAdapterConfig merges adapter flags over the config file. It returns
// nil when no adapter is configured.
func parseAdapterConfig(c *cli.Context, cfg *config.Config) (*adapterChoice, error) {
	var ac config.AdapterConfig
	if cfg != nil {
		ac = cfg.Adapter
	}
	typ := resolveString(c, "adapter", ac.Type)
	if typ == "" {
		return nil, nil
	}

	choice := &adapterChoice{
		typ:      typ,
		url:      resolveString(c, "adapter-url", ac.URL),
		channel:  resolveString(c, "adapter-channel", ac.Channel),
		stream:   resolveString(c, "adapter-stream", ac.Stream),
		encoding: resolveString(c, "adapter-encoding", ac.Encoding),
		secret:   resolveString(c, "adapter-secret", ac.Secret),
		timeout:  resolveDuration(c, "adapter-timeout", ac.Timeout.Duration),
		retries:  c.Int("adapter-retries"),
		headers:  make(map[string]string, len(ac.Headers)),
	}
	if !c.IsSet("adapter-retries") && ac.Retries != nil {
		choice.retries = *ac.Retries
	}
	for k, v := range ac.Headers {
		choice.headers[k] = v
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --adapter-header %q (want Key=Value)", h)
		}
		choice.headers[k] = v
	}

	switch typ {
	case "webhook", "redis":
	default:
		return nil, fmt.Errorf("invalid --adapter %q (must be webhook or redis)", typ)
	}
	if choice.url == "" {
		return nil, fmt.Errorf("--adapter-url is required for --adapter %s", typ)
	}
	if choice.retries < 0 {
		return nil, fmt.Errorf("--adapter-retries must be >= 0, got %d", choice.retries)
	}
	return choice, nil
}

func buildAdapter(choice *adapterChoice) (adapter.Adapter, error) {
	switch choice.typ {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     choice.url,
			Headers: choice.headers,
			Secret:  choice.secret,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:      choice.url,
			Channel:  choice.channel,
			Stream:   choice.stream,
			Encoding: redis.Encoding(choice.encoding),
			Timeout:  choice.timeout,
			Retries:  choice.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", choice.typ)
	}
}

// publishRunCompleted is best effort: failures are logged and never change
// the exit code.
func publishRunCompleted(ctx context.Context, choice *adapterChoice, report *runtime.RunReport, location string, logger *log.Logger) {
	a, err := buildAdapter(choice)
	if err != nil {
		logger.Warn("adapter setup failed", map[string]any{"adapter": choice.typ, "error": err.Error()})
		return
	}
	defer iox.DiscardClose(a)

	event := adapter.NewRunCompletedEvent(report, location, time.Now())
	if err := a.Publish(ctx, event); err != nil {
		logger.Warn("adapter publish failed", map[string]any{"adapter": choice.typ, "error": err.Error()})
		return
	}
	logger.Info("run completion published", map[string]any{"adapter": choice.typ})
}

func printRunResult(w io.Writer, r *runtime.RunReport) {
	fmt.Fprintf(w, "\nrun_id=%s, outcome=%s, ticks=%d, duration=%dms\n", r.RunID, r.Outcome, r.Ticks, r.DurationMs)

	fmt.Fprintf(w, "\n=== Run Result ===\n")
	fmt.Fprintf(w, "Run ID:       %s\n", r.RunID)
	if r.Graph != "" {
		fmt.Fprintf(w, "Graph:        %s\n", r.Graph)
	}
	fmt.Fprintf(w, "Outcome:      %s\n", r.Outcome)
	fmt.Fprintf(w, "Message:      %s\n", r.Message)
	fmt.Fprintf(w, "Ticks:        %d\n", r.Ticks)
	fmt.Fprintf(w, "Initial:      %d\n", r.Initial)

	if e := r.Engine; e != nil {
		fmt.Fprintf(w, "\n=== Engine ===\n")
		fmt.Fprintf(w, "Nodes:        %d\n", e.Nodes)
		fmt.Fprintf(w, "Delivered:    %d / %d sent\n", e.Delivered, e.Sent)
		fmt.Fprintf(w, "Queue peak:   %d / %d\n", e.QueuePeak, e.QueueCapacity)
		if e.Overflows > 0 {
			fmt.Fprintf(w, "Overflows:    %d\n", e.Overflows)
		}
		if e.Faults > 0 {
			fmt.Fprintf(w, "Faults:       %d\n", e.Faults)
		}
	}

	if len(r.Pins) > 0 || r.Serial != "" {
		fmt.Fprintf(w, "\n=== Board ===\n")
		for _, p := range r.Pins {
			level := "low"
			if p.High {
				level = "high"
			}
			fmt.Fprintf(w, "Pin %-3d       %s (%d transitions)\n", p.Pin, level, p.Transitions)
		}
		if r.Serial != "" {
			fmt.Fprintf(w, "Serial:       %q\n", r.Serial)
		}
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "\n=== Errors ===\n")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "- %s\n", e)
		}
		if r.ErrorsDropped > 0 {
			fmt.Fprintf(w, "(%d more)\n", r.ErrorsDropped)
		}
	}
}
