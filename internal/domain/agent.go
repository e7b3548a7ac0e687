package domain

import "context"

// ParameterSpec describes one parameter an agent needs before it can answer.
type ParameterSpec struct {
	Name     string `json:"name"          yaml:"name"`
	Prompt   string `json:"prompt"        yaml:"prompt"`
	Required bool   `json:"required"      yaml:"required"`
}

// AgentDescriptor describes a specialized agent in the metadata store.
// Descriptors are loaded once at process start and never mutated.
type AgentDescriptor struct {
	ID           string          `json:"id"            yaml:"id"`
	Name         string          `json:"name"          yaml:"name"`
	Description  string          `json:"description"   yaml:"description"`
	RequiredRole Role            `json:"required_role" yaml:"required_role"`
	Keywords     []string        `json:"keywords"      yaml:"keywords"`
	Parameters   []ParameterSpec `json:"parameters"    yaml:"parameters,omitempty"`
}

// MissingParameters returns the required parameter specs not yet present
// in the scratchpad, in declaration order.
func (d AgentDescriptor) MissingParameters(scratchpad map[string]string) []ParameterSpec {
	var missing []ParameterSpec
	for _, p := range d.Parameters {
		if !p.Required {
			continue
		}
		if v, ok := scratchpad[p.Name]; !ok || v == "" {
			missing = append(missing, p)
		}
	}
	return missing
}

// SpecializedAgent produces a final response once parameters are complete.
// Implementations receive read-only snapshots and must never retain
// references into router state. Failures propagate as ErrGeneration.
type SpecializedAgent interface {
	ID() string
	Respond(ctx context.Context, params map[string]string, history []Turn) (string, error)
}
