// Command terramorph runs landscape-evolution models from YAML run
// configurations: single runs, validation, registry listings, and
// seed-varied ensembles.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "terramorph",
	Short: "Landscape-evolution model engine",
	Long: `Terramorph assembles process components (uplift, hillslope diffusion,
flow routing, stream-power erosion, storm forcing) into landscape-evolution
model runs on raster grids, driven by a YAML run configuration.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(ensembleCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
