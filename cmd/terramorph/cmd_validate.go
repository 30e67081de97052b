package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orogenlabs/terramorph/config"
	"github.com/orogenlabs/terramorph/internal/logging"
)

var validateFlags struct {
	configPath string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Assemble and validate a run configuration without running it",
	Long: `Validate loads a YAML run configuration, assembles the full run, and
checks the component pipeline's field dependencies, then prints the resolved
pipeline instead of advancing the clock.`,
	RunE: runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.StringVarP(&validateFlags.configPath, "config", "f", "", "run configuration YAML (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(validateFlags.configPath)
	if err != nil {
		return err
	}
	run, err := config.Assemble(cfg, config.WithLogger(logging.Noop()))
	if err != nil {
		return err
	}
	if err := run.Model.Validate(); err != nil {
		return fmt.Errorf("validate run %q: %w", run.Model.RunID(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: valid\n", run.Model.RunID())
	fmt.Fprintf(out, "grid: %dx%d nodes, spacing %g\n", run.Grid.Rows(), run.Grid.Cols(), run.Grid.Spacing())
	fmt.Fprintf(out, "clock: t=%g to %g, step %g\n", run.Clock.Start(), run.Clock.Stop(), run.Clock.Step())
	if cfg.Model != "" {
		fmt.Fprintf(out, "model: %s\n", cfg.Model)
	}
	fmt.Fprintln(out, "pipeline:")
	for i, c := range run.Components {
		fmt.Fprintf(out, "  %d. %s\n", i+1, c.Name())
		if req := c.Requires(); len(req) > 0 {
			fmt.Fprintf(out, "     requires: %s\n", strings.Join(req, ", "))
		}
		if prod := c.Produces(); len(prod) > 0 {
			fmt.Fprintf(out, "     produces: %s\n", strings.Join(prod, ", "))
		}
	}
	if handlers := run.Boundary.Handlers(); len(handlers) > 0 {
		fmt.Fprintln(out, "boundary handlers:")
		for _, h := range handlers {
			fmt.Fprintf(out, "  - %s\n", h.Name())
		}
	}
	fields := append(run.Fields.Names(), run.Fields.IntNames()...)
	fmt.Fprintf(out, "fields: %s\n", strings.Join(fields, ", "))
	if run.Output != nil {
		fmt.Fprintf(out, "writers: %s\n", strings.Join(run.Output.Writers(), ", "))
	}
	return nil
}
