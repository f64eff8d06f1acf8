package templates

// Well-known template keys. Every model-facing component fetches its prompt
// by one of these; the components themselves never compose prompt wording
// beyond slot-filling.
const (
	KeyReasoning       = "reasoning"
	KeySummary         = "summary"
	KeyCounterArgument = "counter_argument"
	KeyVoting          = "voting"
	KeyFusion          = "fusion"
)

// Template is an immutable named prompt: a system text plus a user-text
// template with named {slot}s.
type Template struct {
	Name   string `yaml:"name"`
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Slots are the values substituted into a template's {slot} markers.
type Slots map[string]string
