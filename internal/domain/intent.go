package domain

import "context"

// Intent is the classifier's verdict for one inbound message.
type Intent struct {
	// AgentID is the best-matching agent, or empty when nothing matched.
	AgentID string `json:"agent_id"`
	// Confidence in [0,1]. Verdicts below the router's threshold fall
	// back to the FAQ agent.
	Confidence float64 `json:"confidence"`
	// Parameters extracted from the message, keyed by parameter name.
	Parameters map[string]string `json:"parameters,omitempty"`
	// Abandon is set when the message signals cancellation of an
	// in-flight task ("never mind", "cancel", ...).
	Abandon bool `json:"abandon"`
	// Continuation is set when the message answers an open parameter
	// prompt rather than starting a new topic.
	Continuation bool `json:"continuation"`
}

// ClassifyInput carries everything the oracle may consider.
type ClassifyInput struct {
	Message string
	History []Turn
	// ActiveAgentID is non-empty while the router is gathering
	// parameters; the classifier uses it to detect continuation vs.
	// topic switch.
	ActiveAgentID string
	// MissingParameters are the names still wanted by the active agent.
	MissingParameters []string
	Agents            []AgentDescriptor
}

// Classifier is the intent/parameter extraction oracle. The router treats
// it as opaque; ambiguity is reported via ErrAmbiguous, upstream failures
// via ErrGeneration.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Intent, error)
}
