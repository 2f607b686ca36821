package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tickflow/adapter"
	"github.com/pithecene-io/tickflow/adapter/webhook"
	"github.com/pithecene-io/tickflow/board"
	"github.com/pithecene-io/tickflow/components"
	"github.com/pithecene-io/tickflow/graph"
	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/runtime"
	"github.com/pithecene-io/tickflow/source"
	"github.com/pithecene-io/tickflow/types"
)

const echoYAML = `
name: echo
nodes:
  - {name: fwd, component: Forward}
  - {name: out, component: SerialOut}
edges:
  - {from: fwd.OUT, to: out.IN}
initial:
  - {to: fwd.IN, char: 65}
  - {to: fwd.IN, char: 66}
`

const echoHCL = `
name = "echo"

node "fwd" {
  component = "Forward"
}
node "out" {
  component = "SerialOut"
}

edge {
  from = "fwd.OUT"
  to   = "out.IN"
}

initial {
  to   = "fwd.IN"
  char = 65
}
`

// Two packets for one node with room for one.
const overflowYAML = `
name: overflow
nodes:
  - {name: fwd, component: Forward}
  - {name: out, component: SerialOut}
edges:
  - {from: fwd.OUT, to: out.IN}
initial:
  - {to: out.IN, char: 65}
  - {to: out.IN, char: 66}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// newTestApp wires the commands with ExitErrHandler suppressed so errors are
// returned instead of calling os.Exit.
func newTestApp() *cli.App {
	app := cli.NewApp()
	app.Commands = []*cli.Command{RunCommand(), CompileCommand()}
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

// exitCode extracts the code from a cli.Exit error. A nil error is 0.
func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		t.Fatalf("error %v is not a cli.ExitCoder", err)
	}
	return ec.ExitCode()
}

func readReport(t *testing.T, path string) *runtime.RunReport {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	var report runtime.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("invalid report JSON: %v", err)
	}
	return &report
}

// runGraph runs tickflow with args plus a report path and returns the exit
// code and report.
func runGraph(t *testing.T, args ...string) (int, *runtime.RunReport) {
	t.Helper()
	t.Chdir(t.TempDir())
	reportPath := filepath.Join(t.TempDir(), "report.json")
	argv := append([]string{"tickflow", "run", "--quiet", "--report", reportPath, "--log-level", "error"}, args...)
	err := newTestApp().Run(argv)
	return exitCode(t, err), readReport(t, reportPath)
}

func TestRunAction_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "echo.yaml", echoYAML)

	code, report := runGraph(t, "--run-id", "run-001", "--max-ticks", "3", path)
	if code != runtime.ExitCodeCompleted {
		t.Fatalf("exit code = %d, want %d (errors: %v)", code, runtime.ExitCodeCompleted, report.Errors)
	}
	if report.RunID != "run-001" || report.Graph != "echo" {
		t.Errorf("report identity = %s/%s, want run-001/echo", report.RunID, report.Graph)
	}
	if report.Serial != "AB" {
		t.Errorf("serial output = %q, want %q", report.Serial, "AB")
	}
	if report.Initial != 2 || report.Ticks != 3 {
		t.Errorf("initial = %d, ticks = %d, want 2, 3", report.Initial, report.Ticks)
	}
	if report.Metrics == nil || report.Metrics.SentByComponent["Forward"] != 2 {
		t.Errorf("metrics sent_by_component = %v, want Forward: 2", report.Metrics)
	}
}

func TestRunAction_HCLAndGeneratedRunID(t *testing.T) {
	path := writeFile(t, t.TempDir(), "echo.hcl", echoHCL)

	code, report := runGraph(t, "--max-ticks", "2", path)
	if code != runtime.ExitCodeCompleted {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if report.Serial != "A" {
		t.Errorf("serial output = %q, want %q", report.Serial, "A")
	}
	if len(report.RunID) != 36 {
		t.Errorf("run id = %q, want a UUID", report.RunID)
	}
}

func TestRunAction_StrictOverflow(t *testing.T) {
	tests := []struct {
		name     string
		strict   bool
		wantCode int
	}{
		{"strict", true, runtime.ExitCodeQueueOverflow},
		{"lenient", false, runtime.ExitCodeCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "overflow.yaml", overflowYAML)
			args := []string{"--max-ticks", "2", "--queue-capacity", "1"}
			if tt.strict {
				args = append(args, "--strict-overflow")
			}
			code, report := runGraph(t, append(args, path)...)
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", code, tt.wantCode)
			}
			if report.Engine == nil || report.Engine.Overflows != 1 {
				t.Errorf("engine = %+v, want 1 overflow", report.Engine)
			}
		})
	}
}

func TestRunAction_RawStream(t *testing.T) {
	data, err := ipc.AppendProgram(nil, []ipc.Command{
		ipc.CreateCommand(components.TypeForward),
		ipc.CreateCommand(components.TypeSerialOut),
		ipc.ConnectCommand(0, 0, 1, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	good := filepath.Join(dir, "echo.bin")
	if err := os.WriteFile(good, data, 0o644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.bin")
	if err := os.WriteFile(bad, append([]byte("xC/Flo"), data[ipc.MagicSize:]...), 0o644); err != nil {
		t.Fatal(err)
	}

	code, report := runGraph(t, "--max-ticks", "1", good)
	if code != runtime.ExitCodeCompleted {
		t.Errorf("exit code = %d, want 0", code)
	}
	if report.Protocol == nil || report.Protocol.Commands != 3 {
		t.Errorf("protocol = %+v, want 3 commands", report.Protocol)
	}

	code, report = runGraph(t, "--max-ticks", "1", "--recovery", "none", bad)
	if code != runtime.ExitCodeGraphError {
		t.Errorf("exit code = %d, want %d", code, runtime.ExitCodeGraphError)
	}
	if report.Protocol == nil || report.Protocol.State != ipc.StateInvalid.String() {
		t.Errorf("protocol = %+v, want state invalid", report.Protocol)
	}
}

func TestRunAction_SerialIn(t *testing.T) {
	path := writeFile(t, t.TempDir(), "loop.yaml", `
name: loop
nodes:
  - {name: in, component: SerialIn}
  - {name: out, component: SerialOut}
edges:
  - {from: in.OUT, to: out.IN}
`)
	code, report := runGraph(t, "--max-ticks", "4", "--serial-in", "hi", path)
	if code != runtime.ExitCodeCompleted {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if report.Serial != "hi" {
		t.Errorf("serial output = %q, want %q", report.Serial, "hi")
	}
}

func TestRunAction_ConfigProvidesGraph(t *testing.T) {
	dir := t.TempDir()
	graphPath := writeFile(t, dir, "echo.yaml", echoYAML)
	cfgPath := writeFile(t, dir, "tickflow.yaml", "graph: "+graphPath+"\nrun:\n  max_ticks: 5\nnetwork:\n  queue_capacity: 8\n")

	code, report := runGraph(t, "--config", cfgPath)
	if code != runtime.ExitCodeCompleted {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if report.Ticks != 5 {
		t.Errorf("ticks = %d, want 5 from config", report.Ticks)
	}
	if report.Engine.QueueCapacity != 8 {
		t.Errorf("queue capacity = %d, want 8 from config", report.Engine.QueueCapacity)
	}

	// Flags override config.
	code, report = runGraph(t, "--config", cfgPath, "--max-ticks", "2")
	if code != runtime.ExitCodeCompleted || report.Ticks != 2 {
		t.Errorf("exit code = %d, ticks = %d, want 0, 2", code, report.Ticks)
	}
}

func TestRunAction_UsageErrors(t *testing.T) {
	dir := t.TempDir()
	graphPath := writeFile(t, dir, "echo.yaml", echoYAML)

	tests := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{"missing graph", []string{"--max-ticks", "1"}, "graph location is required"},
		{"bad run id", []string{"--run-id", "has space", graphPath}, "invalid --run-id"},
		{"bad recovery", []string{"--recovery", "retry", graphPath}, "invalid --recovery"},
		{"bad log level", []string{"--log-level", "loud", "--max-ticks", "1", graphPath}, "invalid log level"},
		{"bad input format", []string{"--input-format", "xml", "--max-ticks", "1", graphPath}, "invalid --input-format"},
		{"no tick bound", []string{graphPath}, "max ticks"},
		{"adapter without url", []string{"--adapter", "webhook", graphPath}, "--adapter-url is required"},
		{"missing config", []string{"--config", filepath.Join(dir, "nope.yaml"), graphPath}, "not found"},
		{"missing graph file", []string{"--max-ticks", "1", filepath.Join(dir, "nope.yaml")}, "failed to load graph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			err := newTestApp().Run(append([]string{"tickflow", "run", "--quiet"}, tt.args...))
			if err == nil {
				t.Fatal("Run() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Run() error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRunAction_WebhookAdapter(t *testing.T) {
	var (
		mu     sync.Mutex
		events []adapter.RunCompletedEvent
		sigs   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var e adapter.RunCompletedEvent
		_ = json.Unmarshal(body, &e)
		mu.Lock()
		events = append(events, e)
		sigs = append(sigs, r.Header.Get(webhook.HeaderSignature))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	path := writeFile(t, t.TempDir(), "echo.yaml", echoYAML)
	code, _ := runGraph(t, "--run-id", "run-hook", "--max-ticks", "3",
		"--adapter", "webhook", "--adapter-url", srv.URL, "--adapter-secret", "s3cret", path)
	if code != runtime.ExitCodeCompleted {
		t.Fatalf("exit code = %d, want 0", code)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("webhook received %d events, want 1", len(events))
	}
	e := events[0]
	if e.RunID != "run-hook" || e.Outcome != string(types.OutcomeCompleted) || e.Source != path {
		t.Errorf("event = %+v", e)
	}
	if !strings.HasPrefix(sigs[0], "sha256=") {
		t.Errorf("signature header = %q, want sha256=...", sigs[0])
	}
}

func TestRunAction_AdapterFailureKeepsExitCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	path := writeFile(t, t.TempDir(), "echo.yaml", echoYAML)
	code, _ := runGraph(t, "--max-ticks", "1", "--adapter", "webhook", "--adapter-url", srv.URL, "--adapter-retries", "0", path)
	if code != runtime.ExitCodeCompleted {
		t.Errorf("exit code = %d, want 0 despite adapter failure", code)
	}
}

func TestRunAction_RedisAdapterStream(t *testing.T) {
	mr := miniredis.RunT(t)
	path := writeFile(t, t.TempDir(), "echo.yaml", echoYAML)

	code, _ := runGraph(t, "--run-id", "run-redis", "--max-ticks", "1",
		"--adapter", "redis", "--adapter-url", "redis://"+mr.Addr(),
		"--adapter-stream", "tickflow:runs", "--adapter-encoding", "json", path)
	if code != runtime.ExitCodeCompleted {
		t.Fatalf("exit code = %d, want 0", code)
	}

	entries, err := mr.Stream("tickflow:runs")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream entries = %d, want 1", len(entries))
	}
	fields := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		fields[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	if fields["run_id"] != "run-redis" {
		t.Errorf("run_id field = %q, want run-redis", fields["run_id"])
	}
}

// captureAdapterConfig runs parseAdapterConfig through a real app so slice
// flags are parsed the way urfave does it.
func captureAdapterConfig(t *testing.T, cfgYAML string, args ...string) (*adapterChoice, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	if cfgYAML != "" {
		writeFile(t, ".", "tickflow.yaml", cfgYAML)
	}

	var got *adapterChoice
	var gotErr error
	run := RunCommand()
	run.Action = func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		got, gotErr = parseAdapterConfig(c, cfg)
		return nil
	}
	app := cli.NewApp()
	app.Commands = []*cli.Command{run}
	app.ExitErrHandler = func(*cli.Context, error) {}
	if err := app.Run(append([]string{"tickflow", "run"}, args...)); err != nil {
		t.Fatalf("app.Run() error = %v", err)
	}
	return got, gotErr
}

func TestParseAdapterConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     string
		args    []string
		want    *adapterChoice
		wantErr string
	}{
		{
			name: "none",
			want: nil,
		},
		{
			name: "webhook from flags",
			args: []string{"--adapter", "webhook", "--adapter-url", "https://hooks.example.com", "--adapter-header", "X-Team=fw", "--adapter-header", "X-Env=ci"},
			want: &adapterChoice{typ: "webhook", url: "https://hooks.example.com", retries: 3,
				headers: map[string]string{"X-Team": "fw", "X-Env": "ci"}},
		},
		{
			name: "redis from config",
			cfg:  "adapter:\n  type: redis\n  url: redis://localhost:6379\n  channel: runs\n  encoding: msgpack\n  retries: 0\n",
			want: &adapterChoice{typ: "redis", url: "redis://localhost:6379", channel: "runs", encoding: "msgpack",
				retries: 0, headers: map[string]string{}},
		},
		{
			name: "flags override config",
			cfg:  "adapter:\n  type: webhook\n  url: https://old\n  headers:\n    X-Team: old\n",
			args: []string{"--adapter-url", "https://new", "--adapter-header", "X-Team=new", "--adapter-retries", "1"},
			want: &adapterChoice{typ: "webhook", url: "https://new", retries: 1,
				headers: map[string]string{"X-Team": "new"}},
		},
		{
			name:    "unknown type",
			args:    []string{"--adapter", "kafka", "--adapter-url", "x"},
			wantErr: "must be webhook or redis",
		},
		{
			name:    "bad header",
			args:    []string{"--adapter", "webhook", "--adapter-url", "x", "--adapter-header", "novalue"},
			wantErr: "Key=Value",
		},
		{
			name:    "negative retries",
			args:    []string{"--adapter", "redis", "--adapter-url", "redis://x", "--adapter-retries", "-1"},
			wantErr: "--adapter-retries",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := captureAdapterConfig(t, tt.cfg, tt.args...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseAdapterConfig() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAdapterConfig() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(adapterChoice{})); diff != "" {
				t.Errorf("parseAdapterConfig() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileAction_ImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "echo.yaml", echoYAML)
	out := filepath.Join(dir, "echo"+graph.ImageExt)

	err := newTestApp().Run([]string{"tickflow", "compile", "--format", "json", "-o", out, src})
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("compile exit code = %d (%v)", code, err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := graph.ReadImage(f)
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	if img.Name != "echo" || len(img.Labels) != 2 || len(img.Initial) != 2 {
		t.Errorf("image = %s %v %v", img.Name, img.Labels, img.Initial)
	}

	// The image runs like the definition it came from.
	code, report := runGraph(t, "--max-ticks", "3", out)
	if code != 0 || report.Serial != "AB" || report.Graph != "echo" {
		t.Errorf("run image: code = %d, serial = %q, graph = %q", code, report.Serial, report.Graph)
	}
}

func TestCompileAction_RawWithReset(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "echo.hcl", echoHCL)
	out := filepath.Join(dir, "echo.bin")

	err := newTestApp().Run([]string{"tickflow", "compile", "--format", "json", "--reset", "-o", out, src})
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("compile exit code = %d (%v)", code, err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	cmds, err := ipc.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := []ipc.Command{
		ipc.ResetCommand(),
		ipc.CreateCommand(components.TypeForward),
		ipc.CreateCommand(components.TypeSerialOut),
		ipc.ConnectCommand(0, 0, 1, 0),
	}
	if diff := cmp.Diff(want, cmds); diff != "" {
		t.Errorf("compiled commands mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileAction_InvalidGraph(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "bad.yaml", "nodes:\n  - {name: a, component: Nope}\n")
	err := newTestApp().Run([]string{"tickflow", "compile", "-o", filepath.Join(dir, "bad.bin"), src})
	if code := exitCode(t, err); code != 1 {
		t.Errorf("compile exit code = %d, want 1", code)
	}
	if !strings.Contains(err.Error(), "Nope") {
		t.Errorf("error = %q, want it to name the component", err)
	}
}

func TestLoadProgram_Formats(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "echo.yaml", echoYAML)
	reg := components.NewRegistry(nil)
	opener := &source.Opener{}

	in, err := loadProgram(t.Context(), opener, yamlPath, graph.FormatYAML, reg, graph.CompileOptions{})
	if err != nil {
		t.Fatalf("loadProgram(yaml) error = %v", err)
	}
	raw, err := in.program.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	rawPath := filepath.Join(dir, "echo.stream")
	if err := os.WriteFile(rawPath, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	fromRaw, err := loadProgram(t.Context(), opener, rawPath, graph.FormatRaw, reg, graph.CompileOptions{})
	if err != nil {
		t.Fatalf("loadProgram(raw) error = %v", err)
	}
	if diff := cmp.Diff(in.program.Commands, fromRaw.program.Commands); diff != "" {
		t.Errorf("raw commands mismatch (-yaml +raw):\n%s", diff)
	}
	if fromRaw.name() != "" || fromRaw.raw != nil {
		t.Errorf("raw input = %+v, want unnamed and closed", fromRaw)
	}

	// A definition read as a raw stream fails the magic check.
	if _, err := loadProgram(t.Context(), opener, yamlPath, graph.FormatRaw, reg, graph.CompileOptions{}); err == nil {
		t.Error("loadProgram(yaml as raw) error = nil, want error")
	}
}

func TestParseInputFormat(t *testing.T) {
	tests := []struct {
		flag, location string
		want           graph.Format
		wantErr        bool
	}{
		{"", "g.yaml", graph.FormatYAML, false},
		{"", "g.hcl", graph.FormatHCL, false},
		{"", "g" + graph.ImageExt, graph.FormatImage, false},
		{"", "-", graph.FormatRaw, false},
		{"yaml", "-", graph.FormatYAML, false},
		{"xml", "g.yaml", "", true},
	}
	for _, tt := range tests {
		got, err := parseInputFormat(tt.flag, tt.location)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseInputFormat(%q, %q) error = %v, wantErr %v", tt.flag, tt.location, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseInputFormat(%q, %q) = %q, want %q", tt.flag, tt.location, got, tt.want)
		}
	}
}

func TestPrintRunResult(t *testing.T) {
	var buf bytes.Buffer
	printRunResult(&buf, &runtime.RunReport{
		RunID:   "run-001",
		Graph:   "blink",
		Outcome: types.OutcomeRuntimeFault,
		Message: "delivery fault",
		Engine:  &runtime.ReportEngine{Nodes: 3, Faults: 2},
		Pins:    []board.PinState{{Pin: 13, High: true, Transitions: 3}},
		Errors:  []string{"no target for node 2"},
	})
	got := buf.String()
	for _, want := range []string{"outcome=runtime_fault", "Graph:        blink", "Faults:       2", "high (3 transitions)", "- no target for node 2"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Overflows") {
		t.Errorf("output shows zero overflows:\n%s", got)
	}
}
