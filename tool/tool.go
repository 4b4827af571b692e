// Package tool defines the schema and handler types for model-invocable
// functions.
package tool

import "context"

type Choice string

const (
	ChoiceAuto Choice = "auto"
	ChoiceNone Choice = "none"
)

// Handler executes a tool call. Arguments arrive already decoded from the
// model's JSON argument string. The returned value is JSON-serialized and
// sent back to the model; a returned error is converted into an error
// payload instead of failing the session.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type Tool struct {
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

type Parameters struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	Required   []string   `json:"required"`
}

type Properties map[string]Property

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}
