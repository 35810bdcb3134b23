// Package visual generates Mermaid state diagrams from machine definitions.
package visual

import (
	"errors"
	"fmt"
	"strings"

	"github.com/statecraft-io/statecraft/machine"
)

var (
	ErrConfigNil      = errors.New("config cannot be nil")
	ErrNoInitialState = errors.New("config must have an initial state")
)

// GenerateMermaid converts a Config to a Mermaid state diagram.
func GenerateMermaid(config *machine.Config) (string, error) {
	return GenerateMermaidWithOptions(config, DefaultOptions())
}

// GenerateMermaidFromFile loads a config from a YAML file and generates a
// Mermaid diagram.
func GenerateMermaidFromFile(path string) (string, error) {
	config, err := machine.LoadConfig(path)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}

	return GenerateMermaid(config)
}

// GenerateMermaidWithOptions generates a Mermaid diagram with custom options.
// Transitions are labeled with their event name; an empty from list fans out
// to an edge from every cataloged state.
func GenerateMermaidWithOptions(config *machine.Config, opts Options) (string, error) {
	if config == nil {
		return "", ErrConfigNil
	}

	if config.InitialState == "" {
		return "", ErrNoInitialState
	}

	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	sb.WriteString(fmt.Sprintf("stateDiagram-%s\n", opts.Direction))
	sb.WriteString(fmt.Sprintf("    [*] --> %s\n", config.InitialState))

	highlighted := make(map[string]bool)
	for _, state := range opts.HighlightPath {
		highlighted[state] = true
	}

	callbacks := make(map[string][]string)

	for _, state := range config.States {
		for _, cb := range state.Callbacks {
			callbacks[state.Name] = append(callbacks[state.Name], cb.Action)
		}
	}

	for _, state := range config.Catalog.States {
		if opts.ShowCallbacks && len(callbacks[state]) > 0 {
			sb.WriteString(fmt.Sprintf("    %s: %s\\n[%s]\n",
				state, state, strings.Join(callbacks[state], ", ")))
		}

		switch {
		case highlighted[state]:
			sb.WriteString(fmt.Sprintf("    class %s highlighted\n", state))
		case len(callbacks[state]) > 0:
			sb.WriteString(fmt.Sprintf("    class %s actionState\n", state))
		}
	}

	for _, event := range config.Events {
		for _, transition := range event.Transitions {
			label := event.Name
			if opts.ShowGuards {
				label += guardLabel(transition)
			}

			from := transition.From
			if len(from) == 0 {
				from = config.Catalog.States
			}

			for _, source := range from {
				sb.WriteString(fmt.Sprintf("    %s --> %s: %s\n", source, transition.To, label))
			}
		}
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef actionState fill:#e1f5ff,stroke:#01579b,stroke-width:2px\n")
	sb.WriteString("    classDef highlighted fill:#fff9c4,stroke:#f57f17,stroke-width:3px\n")
	sb.WriteString("```\n")

	return sb.String(), nil
}

func guardLabel(transition machine.TransitionConfig) string {
	var parts []string

	if transition.If != "" {
		parts = append(parts, "if "+transition.If)
	}

	if transition.Unless != "" {
		parts = append(parts, "unless "+transition.Unless)
	}

	if len(parts) == 0 {
		return ""
	}

	return " [" + strings.Join(parts, ", ") + "]"
}
