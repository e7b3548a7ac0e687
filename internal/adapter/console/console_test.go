package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyportal/internal/domain"
	"studyportal/internal/usecase"
)

type scriptedHandler struct {
	inbound []usecase.Inbound
	cleared int
}

func (h *scriptedHandler) Handle(_ context.Context, in usecase.Inbound) (usecase.Outbound, error) {
	h.inbound = append(h.inbound, in)
	return usecase.Outbound{Text: "reply to " + in.Message, AgentID: "faq_fallback"}, nil
}

func (h *scriptedHandler) HandleClear(_ context.Context, _ string) (usecase.Outbound, error) {
	h.cleared++
	return usecase.Outbound{Text: "Conversation cleared."}, nil
}

func runConsole(t *testing.T, input string) (*scriptedHandler, string) {
	t.Helper()
	handler := &scriptedHandler{}
	var out bytes.Buffer
	c := New(handler, strings.NewReader(input), &out, "demo", domain.RoleConsultant)
	require.NoError(t, c.Run(context.Background()))
	return handler, out.String()
}

func TestConsoleForwardsMessages(t *testing.T) {
	handler, out := runConsole(t, "hello there\n\n  \n/quit\n")

	require.Len(t, handler.inbound, 1)
	assert.Equal(t, "hello there", handler.inbound[0].Message)
	assert.Equal(t, "demo", handler.inbound[0].UserID)
	assert.Equal(t, domain.RoleConsultant, handler.inbound[0].Role)

	assert.Contains(t, out, "[faq_fallback] reply to hello there")
	assert.Contains(t, out, "Bye.")
}

func TestConsoleClearCommand(t *testing.T) {
	handler, out := runConsole(t, "/clear\n")

	assert.Equal(t, 1, handler.cleared)
	assert.Contains(t, out, "Conversation cleared.")
}

func TestConsoleRoleCommand(t *testing.T) {
	handler, out := runConsole(t, "/role admin\ngimme questions\n/role wizard\n/role\n")

	require.Len(t, handler.inbound, 1)
	assert.Equal(t, domain.RoleAdmin, handler.inbound[0].Role)
	assert.Contains(t, out, "role set to admin")
	assert.Contains(t, out, `unknown role "wizard"`)
	assert.Contains(t, out, "current role: admin")
}

func TestConsoleUnknownCommand(t *testing.T) {
	_, out := runConsole(t, "/frobnicate\n")
	assert.Contains(t, out, "unknown command /frobnicate")
}
