package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"studyportal/internal/domain"
)

// Question count bounds. Requests outside the range are clamped rather
// than rejected.
const (
	minQuestions = 1
	maxQuestions = 20
)

// QuestionAgent generates practice questions for a topic.
type QuestionAgent struct {
	id       string
	provider domain.LLMProvider
	logger   *slog.Logger
}

// NewQuestionAgent creates the question generation agent.
func NewQuestionAgent(id string, provider domain.LLMProvider, logger *slog.Logger) *QuestionAgent {
	return &QuestionAgent{id: id, provider: provider, logger: logger}
}

// ID implements domain.SpecializedAgent.
func (a *QuestionAgent) ID() string { return a.id }

// Respond implements domain.SpecializedAgent.
func (a *QuestionAgent) Respond(ctx context.Context, params map[string]string, history []domain.Turn) (string, error) {
	topic := params["topic"]
	difficulty := strings.ToLower(strings.TrimSpace(params["difficulty"]))
	switch difficulty {
	case "easy", "medium", "hard":
	default:
		difficulty = "medium"
	}

	count := parseCount(params["question_count"])
	a.logger.Debug("generating questions", "topic", topic, "difficulty", difficulty, "count", count)

	system := strings.Join([]string{
		"You are the question generation assistant of a study portal.",
		fmt.Sprintf("Generate exactly %d %s practice questions about %q.", count, difficulty, topic),
		"Number each question. Include a short answer after each question.",
	}, " ")

	return chat(ctx, a.provider, system, history, "")
}

// parseCount extracts the leading integer from the raw value and clamps
// it into range. Non-numeric input defaults to 5.
func parseCount(raw string) int {
	fields := strings.Fields(strings.TrimSpace(raw))
	for _, f := range fields {
		if n, err := strconv.Atoi(f); err == nil {
			if n < minQuestions {
				return minQuestions
			}
			if n > maxQuestions {
				return maxQuestions
			}
			return n
		}
	}
	return 5
}

var _ domain.SpecializedAgent = (*QuestionAgent)(nil)
