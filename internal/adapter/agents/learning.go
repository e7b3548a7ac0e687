package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"studyportal/internal/domain"
)

// LearningPathAgent recommends courses and study plans for a topic at a
// given skill level.
type LearningPathAgent struct {
	id       string
	provider domain.LLMProvider
	logger   *slog.Logger
}

// NewLearningPathAgent creates the learning path agent.
func NewLearningPathAgent(id string, provider domain.LLMProvider, logger *slog.Logger) *LearningPathAgent {
	return &LearningPathAgent{id: id, provider: provider, logger: logger}
}

// ID implements domain.SpecializedAgent.
func (a *LearningPathAgent) ID() string { return a.id }

// Respond implements domain.SpecializedAgent.
func (a *LearningPathAgent) Respond(ctx context.Context, params map[string]string, history []domain.Turn) (string, error) {
	topic := params["topic"]
	level := strings.ToLower(strings.TrimSpace(params["skill_level"]))
	switch level {
	case "beginner", "intermediate", "advanced":
	default:
		// Unrecognized levels still get a plan, just a generic one.
		level = "beginner"
	}

	a.logger.Debug("building learning path", "topic", topic, "level", level)

	system := strings.Join([]string{
		"You are the learning path advisor of a study portal.",
		fmt.Sprintf("Build a concise, ordered study plan for %q at the %s level.", topic, level),
		"Structure it as numbered steps with one suggested resource each.",
		"Keep it under 200 words.",
	}, " ")

	return chat(ctx, a.provider, system, history, "")
}

var _ domain.SpecializedAgent = (*LearningPathAgent)(nil)
