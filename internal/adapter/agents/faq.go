package agents

import (
	"context"
	"log/slog"
	"strings"

	"studyportal/internal/domain"
)

// FAQAgent handles greetings, general questions, and everything no other
// agent claims. It never requires parameters or a privileged role.
type FAQAgent struct {
	id       string
	provider domain.LLMProvider
	logger   *slog.Logger
}

// NewFAQAgent creates the FAQ and fallback agent.
func NewFAQAgent(id string, provider domain.LLMProvider, logger *slog.Logger) *FAQAgent {
	return &FAQAgent{id: id, provider: provider, logger: logger}
}

// ID implements domain.SpecializedAgent.
func (a *FAQAgent) ID() string { return a.id }

// Respond implements domain.SpecializedAgent.
func (a *FAQAgent) Respond(ctx context.Context, _ map[string]string, history []domain.Turn) (string, error) {
	system := strings.Join([]string{
		"You are the general assistant of a study portal.",
		"You can review assignments, recommend learning paths, and generate practice questions through specialized colleagues.",
		"Answer general questions helpfully and briefly.",
		"If you cannot help, say what you can do instead.",
	}, " ")

	a.logger.Debug("faq fallback handling turn")
	return chat(ctx, a.provider, system, history, "")
}

var _ domain.SpecializedAgent = (*FAQAgent)(nil)
