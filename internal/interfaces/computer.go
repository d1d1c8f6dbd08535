package interfaces

import "context"

// ComputerAction is the normalized browser action extracted from a
// computer_call output item.
type ComputerAction struct {
	Type string `json:"type"` // click | double_click | type | scroll | keypress | wait | drag | navigate | screenshot | move

	X      int    `json:"x,omitempty"`
	Y      int    `json:"y,omitempty"`
	Button string `json:"button,omitempty"`

	Text string   `json:"text,omitempty"`
	Keys []string `json:"keys,omitempty"`

	ScrollX int `json:"scroll_x,omitempty"`
	ScrollY int `json:"scroll_y,omitempty"`

	URL string `json:"url,omitempty"`

	// Path holds drag waypoints in order.
	Path []Point `json:"path,omitempty"`

	DurationMS int `json:"duration_ms,omitempty"`
}

// Point is an (x, y) screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ComputerDriver drives a browser/VM for the computer-use tool loop.
// One instance per computer-use step; never shared across steps.
type ComputerDriver interface {
	Initialize(ctx context.Context, width, height int) error
	ExecuteAction(ctx context.Context, action ComputerAction) error
	Screenshot(ctx context.Context) ([]byte, error)
	GetURL(ctx context.Context) (string, error)
	Cleanup(ctx context.Context) error
}

// ComputerDriverProvider acquires a fresh driver per computer-use step.
type ComputerDriverProvider interface {
	Acquire(ctx context.Context) (ComputerDriver, error)
}
