// Package agents contains the specialized responders the router dispatches
// to once an intent is resolved and its parameters are gathered.
package agents

import (
	"context"
	"fmt"
	"strings"

	"studyportal/internal/domain"
)

const historyWindow = 5

// chat sends a system prompt plus recent history to the provider and
// returns the assistant text.
func chat(ctx context.Context, provider domain.LLMProvider, system string, history []domain.Turn, userMsg string) (string, error) {
	msgs := make([]domain.ChatMsg, 0, len(history)+2)
	msgs = append(msgs, domain.ChatMsg{Role: "system", Content: system})

	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	for _, t := range history[start:] {
		role := "user"
		if t.Role == domain.TurnAssistant {
			role = "assistant"
		}
		msgs = append(msgs, domain.ChatMsg{Role: role, Content: t.Text})
	}
	if userMsg != "" {
		msgs = append(msgs, domain.ChatMsg{Role: "user", Content: userMsg})
	}

	resp, err := provider.Chat(ctx, domain.ChatRequest{Messages: msgs, MaxTokens: 1024})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", domain.ErrGeneration)
	}
	return text, nil
}
