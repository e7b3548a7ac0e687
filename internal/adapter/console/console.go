// Package console provides a line-oriented REPL for talking to the
// router without a WebSocket client.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"studyportal/internal/domain"
	"studyportal/internal/usecase"
)

// ChatHandler is the slice of the router the console needs.
type ChatHandler interface {
	Handle(ctx context.Context, in usecase.Inbound) (usecase.Outbound, error)
	HandleClear(ctx context.Context, userID string) (usecase.Outbound, error)
}

// Console reads user turns from in and prints replies to out.
type Console struct {
	handler ChatHandler
	in      io.Reader
	out     io.Writer
	userID  string
	role    domain.Role
}

// New creates a console session for one user.
func New(handler ChatHandler, in io.Reader, out io.Writer, userID string, role domain.Role) *Console {
	return &Console{handler: handler, in: in, out: out, userID: userID, role: role}
}

// Run reads lines until EOF, /quit, or context cancellation.
// Lines starting with "/" are commands: /clear, /role <role>, /quit.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintf(c.out, "Connected as %s (%s). Type /quit to exit.\n", c.userID, c.role)

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := c.command(ctx, line); quit {
				return nil
			}
			continue
		}

		out, err := c.handler.Handle(ctx, usecase.Inbound{
			UserID:  c.userID,
			Role:    c.role,
			Message: line,
		})
		if err != nil {
			fmt.Fprintf(c.out, "error: %s\n", err)
			continue
		}
		fmt.Fprintf(c.out, "[%s] %s\n", out.AgentID, out.Text)
	}
	return scanner.Err()
}

// command handles a slash command and reports whether the session should end.
func (c *Console) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		fmt.Fprintln(c.out, "Bye.")
		return true
	case "/clear":
		out, err := c.handler.HandleClear(ctx, c.userID)
		if err != nil {
			fmt.Fprintf(c.out, "error: %s\n", err)
			return false
		}
		fmt.Fprintln(c.out, out.Text)
	case "/role":
		if len(fields) < 2 {
			fmt.Fprintf(c.out, "current role: %s\n", c.role)
			return false
		}
		role, ok := domain.ParseRole(fields[1])
		if !ok {
			fmt.Fprintf(c.out, "unknown role %q (consultant, sme, admin)\n", fields[1])
			return false
		}
		c.role = role
		fmt.Fprintf(c.out, "role set to %s\n", role)
	default:
		fmt.Fprintf(c.out, "unknown command %s (try /clear, /role, /quit)\n", fields[0])
	}
	return false
}
