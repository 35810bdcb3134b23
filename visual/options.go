package visual

// Options configures the diagram output.
type Options struct {
	// ShowCallbacks includes state callback actions in state nodes
	ShowCallbacks bool

	// ShowGuards annotates transition labels with if/unless guard names
	ShowGuards bool

	// Direction controls diagram flow: "TD" (top-down) or "LR" (left-right)
	Direction string

	// HighlightPath highlights a specific state path through the diagram
	HighlightPath []string
}

// DefaultOptions returns sensible defaults for diagram generation.
func DefaultOptions() Options {
	return Options{
		ShowCallbacks: true,
		ShowGuards:    true,
		Direction:     "TD",
	}
}

// WithShowCallbacks enables/disables callback details.
func (o Options) WithShowCallbacks(show bool) Options {
	o.ShowCallbacks = show

	return o
}

// WithShowGuards enables/disables guard annotations.
func (o Options) WithShowGuards(show bool) Options {
	o.ShowGuards = show

	return o
}

// WithDirection sets the diagram direction.
func (o Options) WithDirection(direction string) Options {
	o.Direction = direction

	return o
}

// WithHighlightPath sets states to highlight.
func (o Options) WithHighlightPath(path []string) Options {
	o.HighlightPath = path

	return o
}
