package visual

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecraft-io/statecraft/machine"
)

func orderConfig() *machine.Config {
	return &machine.Config{
		Owner: "order",
		Catalog: machine.CatalogConfig{
			States: []string{"draft", "placed", "shipped", "cancelled"},
			Events: []string{"place", "ship", "cancel"},
		},
		InitialState: "draft",
		States: []machine.StateConfig{
			{
				Name: "placed",
				Callbacks: []machine.CallbackConfig{
					{Phase: "after_enter", Action: "notify"},
				},
			},
		},
		Events: []machine.EventConfig{
			{
				Name: "place",
				Transitions: []machine.TransitionConfig{
					{From: []string{"draft"}, To: "placed"},
				},
			},
			{
				Name: "ship",
				Transitions: []machine.TransitionConfig{
					{From: []string{"placed"}, To: "shipped", If: "paid"},
				},
			},
			{
				Name: "cancel",
				Transitions: []machine.TransitionConfig{
					{To: "cancelled"},
				},
			},
		},
	}
}

func TestGenerateMermaid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		config      *machine.Config
		opts        Options
		wantErr     error
		wantContain []string
		wantAbsent  []string
	}{
		{
			name:   "full diagram",
			config: orderConfig(),
			opts:   DefaultOptions(),
			wantContain: []string{
				"stateDiagram-TD",
				"[*] --> draft",
				"draft --> placed: place",
				"placed --> shipped: ship [if paid]",
				"placed: placed\\n[notify]",
				"class placed actionState",
			},
		},
		{
			name:   "empty from fans out to every state",
			config: orderConfig(),
			opts:   DefaultOptions(),
			wantContain: []string{
				"draft --> cancelled: cancel",
				"placed --> cancelled: cancel",
				"shipped --> cancelled: cancel",
				"cancelled --> cancelled: cancel",
			},
		},
		{
			name:   "guards and callbacks suppressed",
			config: orderConfig(),
			opts:   DefaultOptions().WithShowGuards(false).WithShowCallbacks(false),
			wantContain: []string{
				"placed --> shipped: ship",
			},
			wantAbsent: []string{
				"[if paid]",
				"[notify]",
			},
		},
		{
			name:   "left-right direction",
			config: orderConfig(),
			opts:   DefaultOptions().WithDirection("LR"),
			wantContain: []string{
				"stateDiagram-LR",
			},
		},
		{
			name:   "highlighted path",
			config: orderConfig(),
			opts:   DefaultOptions().WithHighlightPath([]string{"draft", "placed"}),
			wantContain: []string{
				"class draft highlighted",
				"class placed highlighted",
			},
		},
		{
			name:    "nil config",
			config:  nil,
			opts:    DefaultOptions(),
			wantErr: ErrConfigNil,
		},
		{
			name:    "missing initial state",
			config:  &machine.Config{Owner: "order"},
			opts:    DefaultOptions(),
			wantErr: ErrNoInitialState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			diagram, err := GenerateMermaidWithOptions(tt.config, tt.opts)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(diagram, "```mermaid\n"))
			assert.True(t, strings.HasSuffix(diagram, "```\n"))

			for _, want := range tt.wantContain {
				assert.Contains(t, diagram, want)
			}

			for _, absent := range tt.wantAbsent {
				assert.NotContains(t, diagram, absent)
			}
		})
	}
}

func TestGenerateMermaidFromFile(t *testing.T) {
	t.Parallel()

	_, err := GenerateMermaidFromFile("does-not-exist.yaml")
	require.Error(t, err)
}
