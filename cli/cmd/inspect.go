package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tickflow/cli/render"
	"github.com/pithecene-io/tickflow/cli/tui"
	"github.com/pithecene-io/tickflow/components"
	"github.com/pithecene-io/tickflow/graph"
)

// InspectCommand returns the inspect command. Inspect shows the graph a
// location describes without running it.
func InspectCommand() *cli.Command {
	flags := append(TUIReadOnlyFlags(), &cli.StringFlag{
		Name:  "config",
		Usage: "Path to tickflow.yaml (source section only)",
	})
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the nodes, edges and initial packets of a graph",
		ArgsUsage: "<graph>",
		Flags:     append(flags, graphSourceFlags()...),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("graph location required", 1)
	}
	location := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	format, err := parseInputFormat(c.String("input-format"), location)
	if err != nil {
		return err
	}

	reg := components.NewRegistry(nil)
	in, err := loadProgram(context.Background(), newOpener(c, cfg), location, format, reg, graph.CompileOptions{})
	if err != nil {
		return cli.Exit(fmt.Sprintf("inspect failed: %v", err), 1)
	}
	desc, err := graph.DescribeProgram(in.program, reg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("inspect failed: %v", err), 1)
	}
	desc.Format = in.format

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectGraph, desc)
	}
	return r.Render(desc)
}
