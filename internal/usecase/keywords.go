package usecase

import (
	"context"
	"strings"

	"studyportal/internal/domain"
)

// abandonmentSignals are phrases that cancel an in-flight task regardless
// of what the LLM oracle thinks.
var abandonmentSignals = []string{
	"never mind", "nevermind", "cancel", "forget it", "stop", "quit",
}

// IsAbandonment reports whether the message matches a cancellation phrase.
func IsAbandonment(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range abandonmentSignals {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// KeywordClassifier scores messages against descriptor trigger keywords.
// It is deterministic and needs no network, which makes it both the
// fallback when the LLM oracle is unavailable or ambiguous and a useful
// baseline in tests.
type KeywordClassifier struct{}

// NewKeywordClassifier creates a keyword classifier.
func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

// Classify implements domain.Classifier. Confidence grows with the number
// of matched keywords; a tie between agents is ambiguous, never an
// arbitrary pick.
func (k *KeywordClassifier) Classify(_ context.Context, in domain.ClassifyInput) (domain.Intent, error) {
	msg := strings.ToLower(strings.TrimSpace(in.Message))
	if msg == "" {
		return domain.Intent{}, domain.ErrAmbiguous
	}

	if in.ActiveAgentID != "" && IsAbandonment(msg) {
		return domain.Intent{Abandon: true}, nil
	}

	bestID, bestScore, tie := "", 0, false
	for _, d := range in.Agents {
		score := 0
		for _, kw := range d.Keywords {
			if strings.Contains(msg, strings.ToLower(kw)) {
				score++
			}
		}
		switch {
		case score > bestScore:
			bestID, bestScore, tie = d.ID, score, false
		case score == bestScore && score > 0 && d.ID != bestID:
			tie = true
		}
	}

	if bestScore == 0 || tie {
		// While gathering parameters, an unmatched message is most likely
		// the answer to the open prompt.
		if in.ActiveAgentID != "" {
			return domain.Intent{
				AgentID:      in.ActiveAgentID,
				Confidence:   1,
				Continuation: true,
				Parameters:   answerForFirstMissing(in),
			}, nil
		}
		return domain.Intent{}, domain.ErrAmbiguous
	}

	conf := float64(bestScore) / float64(bestScore+1)
	return domain.Intent{AgentID: bestID, Confidence: conf}, nil
}

// answerForFirstMissing treats the raw message as the value of the first
// still-missing parameter.
func answerForFirstMissing(in domain.ClassifyInput) map[string]string {
	if len(in.MissingParameters) == 0 {
		return nil
	}
	return map[string]string{in.MissingParameters[0]: strings.TrimSpace(in.Message)}
}

var _ domain.Classifier = (*KeywordClassifier)(nil)
