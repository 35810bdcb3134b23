package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/statecraft-io/statecraft/machine"
	"github.com/statecraft-io/statecraft/visual"
)

var diagramCmd = &cobra.Command{
	Use:   "diagram <definition.yaml>",
	Short: "Render a machine definition as a Mermaid state diagram",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDiagram(cmd, args[0]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	diagramCmd.Flags().String("direction", "TD", "Diagram direction: TD or LR")
	diagramCmd.Flags().Bool("no-guards", false, "Omit guard annotations from transition labels")
	diagramCmd.Flags().Bool("no-callbacks", false, "Omit callback details from state nodes")
	diagramCmd.Flags().StringSlice("highlight", nil, "States to highlight")
	diagramCmd.Flags().StringP("output", "o", "", "Write the diagram to a file instead of stdout")

	rootCmd.AddCommand(diagramCmd)
}

func runDiagram(cmd *cobra.Command, path string) error {
	// Flags are declared in init, so lookups cannot fail.
	direction, _ := cmd.Flags().GetString("direction")
	noGuards, _ := cmd.Flags().GetBool("no-guards")
	noCallbacks, _ := cmd.Flags().GetBool("no-callbacks")
	highlight, _ := cmd.Flags().GetStringSlice("highlight")
	output, _ := cmd.Flags().GetString("output")

	opts := visual.DefaultOptions().
		WithDirection(direction).
		WithShowGuards(!noGuards).
		WithShowCallbacks(!noCallbacks).
		WithHighlightPath(highlight)

	config, err := machine.LoadConfig(path)
	if err != nil {
		return err
	}

	diagram, err := visual.GenerateMermaidWithOptions(config, opts)
	if err != nil {
		return err
	}

	if output == "" {
		fmt.Print(diagram)

		return nil
	}

	if err := os.WriteFile(output, []byte(diagram), 0o640); err != nil {
		return fmt.Errorf("failed to write diagram: %w", err)
	}

	return nil
}
