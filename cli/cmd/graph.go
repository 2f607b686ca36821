package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tickflow/cli/config"
	"github.com/pithecene-io/tickflow/graph"
	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/source"
)

// graphInput is a graph opened from a location.
type graphInput struct {
	location string
	format   graph.Format
	// program is set for definitions and images, and for raw streams
	// loaded with loadProgram.
	program *graph.Program
	// raw is set for raw streams opened with openGraph. The caller closes it.
	raw io.ReadCloser
}

// name is the graph name used for run identity.
func (g *graphInput) name() string {
	if g.program != nil {
		return g.program.Name
	}
	return ""
}

// newOpener builds a source.Opener from the S3 flags and the config's
// source section.
func newOpener(c *cli.Context, cfg *config.Config) *source.Opener {
	return &source.Opener{
		S3: source.S3Config{
			Region:       resolveString(c, "s3-region", configVal(cfg, func(c *config.Config) string { return c.Source.Region })),
			Endpoint:     resolveString(c, "s3-endpoint", configVal(cfg, func(c *config.Config) string { return c.Source.Endpoint })),
			UsePathStyle: resolveBool(c, "s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Source.S3PathStyle })),
		},
	}
}

func parseInputFormat(s, location string) (graph.Format, error) {
	switch f := graph.Format(s); f {
	case "":
		return graph.DetectFormat(location), nil
	case graph.FormatYAML, graph.FormatHCL, graph.FormatImage, graph.FormatRaw:
		return f, nil
	default:
		return "", fmt.Errorf("invalid --input-format %q (must be yaml, hcl, image, or raw)", s)
	}
}

// openGraph opens location. Definitions are compiled against cat and images
// decoded; raw streams are left open so they can be streamed.
func openGraph(ctx context.Context, opener *source.Opener, location string, format graph.Format, cat graph.Catalog, opts graph.CompileOptions) (*graphInput, error) {
	rc, err := opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	in := &graphInput{location: location, format: format}
	if format == graph.FormatRaw {
		in.raw = rc
		return in, nil
	}
	defer func() { _ = rc.Close() }()

	switch format {
	case graph.FormatYAML, graph.FormatHCL:
		def, err := loadDefinition(rc, location, format)
		if err != nil {
			return nil, err
		}
		prog, err := graph.Compile(def, cat, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", location, err)
		}
		in.program = prog
	case graph.FormatImage:
		img, err := graph.ReadImage(rc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", location, err)
		}
		cmds, err := img.Commands()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", location, err)
		}
		in.program = &graph.Program{Name: img.Name, Labels: img.Labels, Commands: cmds, Initial: img.Initial}
	}
	return in, nil
}

// loadProgram is openGraph for commands that need decoded commands. Raw
// streams are decoded strictly.
func loadProgram(ctx context.Context, opener *source.Opener, location string, format graph.Format, cat graph.Catalog, opts graph.CompileOptions) (*graphInput, error) {
	in, err := openGraph(ctx, opener, location, format, cat, opts)
	if err != nil || in.raw == nil {
		return in, err
	}
	defer func() { _ = in.raw.Close() }()

	cmds, err := ipc.Decode(in.raw)
	in.raw = nil
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	if opts.Reset {
		cmds = append([]ipc.Command{ipc.ResetCommand()}, cmds...)
	}
	in.program = &graph.Program{Commands: cmds}
	return in, nil
}

func loadDefinition(r io.Reader, location string, format graph.Format) (*graph.Definition, error) {
	if format == graph.FormatYAML {
		def, err := graph.LoadYAML(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", location, err)
		}
		return def, nil
	}
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	return graph.LoadHCL(src, location)
}

// streamReader returns the bytes to feed the streamer.
func (g *graphInput) streamReader() (io.Reader, error) {
	if g.raw != nil {
		return g.raw, nil
	}
	data, err := g.program.Bytes()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// close releases a raw stream, if any.
func (g *graphInput) close() {
	if g.raw != nil {
		_ = g.raw.Close()
	}
}
