package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orogenlabs/terramorph/boundary"
	"github.com/orogenlabs/terramorph/components"
	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
	"github.com/orogenlabs/terramorph/models"
	"github.com/orogenlabs/terramorph/timectrl"
)

var listCmd = &cobra.Command{
	Use:   "list {components|models}",
	Short: "List registered components, boundary handlers, and model presets",
	Long: `List prints the component registry with each kind's field dependencies,
or the preset catalog with each preset's component stack.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"components", "models"},
	RunE:      runList,
}

func runList(cmd *cobra.Command, args []string) error {
	switch args[0] {
	case "components":
		return listComponents(cmd.OutOrStdout())
	case "models":
		return listModels(cmd.OutOrStdout())
	}
	return fmt.Errorf("unknown listing %q (want components or models)", args[0])
}

// sampleParams holds a minimal valid parameter set per kind so the listing
// can instantiate each component and report its real field dependencies.
var sampleParams = map[string]core.Params{
	"uplift":           {"uplift_rate": 0.001},
	"linear_diffuser":  {"regolith_transport_parameter": 0.01},
	"taylor_diffuser":  {"regolith_transport_parameter": 0.01},
	"flow_accumulator": {},
	"stream_power":     {"water_erodibility": 0.0001},
	"precipitator":     {},
}

// sampleOrder builds producers before their consumers; stream_power reads
// the router's fields at construction time.
var sampleOrder = []string{
	"precipitator", "flow_accumulator",
	"uplift", "linear_diffuser", "taylor_diffuser", "stream_power",
}

func listComponents(out io.Writer) error {
	built, err := sampleInstances()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tREQUIRES\tPRODUCES")
	for _, kind := range components.Kinds() {
		c, ok := built[kind]
		if !ok {
			fmt.Fprintf(w, "%s\t-\t-\n", kind)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", kind, fieldList(c.Requires()), fieldList(c.Produces()))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nboundary handlers: %s\n", strings.Join(boundary.HandlerKinds(), ", "))
	return nil
}

// sampleInstances constructs one instance of every registered kind against a
// throwaway grid.
func sampleInstances() (map[string]core.Component, error) {
	g, err := grid.NewRasterGrid(3, 3, 1)
	if err != nil {
		return nil, err
	}
	fs := grid.NewFieldSet(g.NodeCount())
	clock, err := timectrl.NewClock(0, 1, 1)
	if err != nil {
		return nil, err
	}
	bc, err := boundary.NewManager(g, clock, boundary.Config{})
	if err != nil {
		return nil, err
	}
	if err := bc.Classify(); err != nil {
		return nil, err
	}
	if err := g.AddSyntheticTopography(fs, 0, 0, 0); err != nil {
		return nil, err
	}

	built := make(map[string]core.Component, len(sampleOrder))
	for _, kind := range sampleOrder {
		c, err := components.Build(kind, g, fs, bc, sampleParams[kind])
		if err != nil {
			return nil, fmt.Errorf("instantiate %q: %w", kind, err)
		}
		built[kind] = c
	}
	return built, nil
}

func fieldList(fields []string) string {
	if len(fields) == 0 {
		return "-"
	}
	return strings.Join(fields, ", ")
}

func listModels(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tSTACK\tDESCRIPTION")
	for _, name := range models.Names() {
		p, ok := models.Lookup(name)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, strings.Join(p.Kinds(), " > "), p.Description)
	}
	return w.Flush()
}
