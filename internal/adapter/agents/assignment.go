package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"studyportal/internal/adapter/store"
	"studyportal/internal/domain"
)

// AssignmentAgent answers questions about assignments, grades, and
// feedback, grounded on records from the assignment store.
type AssignmentAgent struct {
	id       string
	provider domain.LLMProvider
	store    *store.AssignmentStore
	logger   *slog.Logger
}

// NewAssignmentAgent creates the assignment review agent.
func NewAssignmentAgent(id string, provider domain.LLMProvider, st *store.AssignmentStore, logger *slog.Logger) *AssignmentAgent {
	return &AssignmentAgent{id: id, provider: provider, store: st, logger: logger}
}

// ID implements domain.SpecializedAgent.
func (a *AssignmentAgent) ID() string { return a.id }

// Respond implements domain.SpecializedAgent.
func (a *AssignmentAgent) Respond(ctx context.Context, params map[string]string, history []domain.Turn) (string, error) {
	query := params["assignment_id"]
	if query == "" {
		query = params["assignment_title"]
	}

	var record string
	rec, err := a.store.FindByTitle(ctx, query)
	switch {
	case err == nil && rec.Graded:
		record = fmt.Sprintf("Assignment %q: score %d%%. Feedback: %s", rec.Title, rec.Score, rec.Feedback)
	case err == nil:
		record = fmt.Sprintf("Assignment %q has been submitted but not yet graded.", rec.Title)
	case errors.Is(err, domain.ErrNotFound):
		record = fmt.Sprintf("No record found for assignment %q.", query)
	default:
		return "", err
	}

	a.logger.Debug("assignment lookup", "query", query, "found", err == nil)

	system := strings.Join([]string{
		"You are the assignment review assistant of a study portal.",
		"Answer the student's question using only the record below.",
		"If the record says no assignment was found, say so and suggest checking the name.",
		"Record: " + record,
	}, " ")

	return chat(ctx, a.provider, system, history, "")
}

var _ domain.SpecializedAgent = (*AssignmentAgent)(nil)
