// Package cmd provides CLI commands for the tickflow binary.
package cmd

import (
	"os"

	"github.com/urfave/cli/v2"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for inspect and report.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, report only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TUIReadOnlyFlags returns flags for commands that support TUI mode.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}

// graphSourceFlags locate and decode graph inputs.
func graphSourceFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:  "input-format",
			Usage: "Graph input format: yaml, hcl, image, raw (default: from extension)",
		},
	}, s3Flags()...)
}

// s3Flags configure access to s3:// locations.
func s3Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "s3-region",
			Usage: "AWS region for s3:// locations (default: SDK chain)",
		},
		&cli.StringFlag{
			Name:  "s3-endpoint",
			Usage: "Custom S3 endpoint URL (MinIO, R2)",
		},
		&cli.BoolFlag{
			Name:  "s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
	}
}

func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
