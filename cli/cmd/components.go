package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tickflow/cli/render"
	"github.com/pithecene-io/tickflow/components"
)

// ComponentsCommand returns the components command, which lists the
// component library with wire type ids and port names.
func ComponentsCommand() *cli.Command {
	return &cli.Command{
		Name:   "components",
		Usage:  "List available components",
		Flags:  ReadOnlyFlags(),
		Action: componentsAction,
	}
}

func componentsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for components command", 1)
	}
	return r.Render(components.NewRegistry(nil).Specs())
}
