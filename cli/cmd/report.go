package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tickflow/cli/render"
	"github.com/pithecene-io/tickflow/cli/tui"
	"github.com/pithecene-io/tickflow/runtime"
)

// ReportCommand returns the report command, which renders a report written
// by run --report.
func ReportCommand() *cli.Command {
	flags := append(TUIReadOnlyFlags(), &cli.StringFlag{
		Name:  "config",
		Usage: "Path to tickflow.yaml (source section only)",
	})
	return &cli.Command{
		Name:      "report",
		Usage:     "Show a run report",
		ArgsUsage: "<report.json>",
		Flags:     append(flags, s3Flags()...),
		Action:    reportAction,
	}
}

func reportAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("report location required", 1)
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

	rc, err := newOpener(c, cfg).Open(context.Background(), location)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open report: %v", err), 1)
	}
	defer func() { _ = rc.Close() }()

	var report runtime.RunReport
	if err := json.NewDecoder(rc).Decode(&report); err != nil {
		return cli.Exit(fmt.Sprintf("invalid report %s: %v", location, err), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewReport, &report)
	}
	return r.Render(&report)
}
