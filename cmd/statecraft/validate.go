package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/statecraft-io/statecraft/machine"
)

var validateCmd = &cobra.Command{
	Use:   "validate <definition.yaml>...",
	Short: "Check machine definition files for structural problems",
	Long: `Loads each definition and reports every problem found: names outside the
declared catalog, duplicate states or events, unknown phases, and
transitions with no target.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		failed := false

		for _, path := range args {
			if err := runValidate(path); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)

				failed = true

				continue
			}

			fmt.Printf("%s: ok\n", path)
		}

		if failed {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(path string) error {
	config, err := machine.LoadConfig(path)
	if err != nil {
		return err
	}

	slog.Debug("Definition loaded",
		"owner", config.Owner,
		"states", len(config.Catalog.States),
		"events", len(config.Catalog.Events))

	return nil
}
