package models

// FieldRule is one declarative validation constraint on a submitted form
// field. Rules are advisory for client-only steps and re-applied server-side
// for every server-bound step, since the client is untrusted.
type FieldRule struct {
	FieldID   string   `json:"field_id" validate:"required"`
	Required  bool     `json:"required,omitempty"`
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Message   string   `json:"message,omitempty"`
}
