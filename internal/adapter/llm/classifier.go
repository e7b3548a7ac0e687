package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"studyportal/internal/domain"
	"studyportal/internal/infra/tracer"
)

// verdictSchema constrains the oracle's JSON output. Anything that fails
// validation is treated as an ambiguous classification, never trusted.
const verdictSchema = `{
	"type": "object",
	"properties": {
		"agent": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"parameters": {"type": "object", "additionalProperties": {"type": "string"}},
		"abandon": {"type": "boolean"},
		"continuation": {"type": "boolean"}
	},
	"required": ["agent", "confidence"]
}`

// OracleClassifier asks an LLM to pick the agent for a message. It degrades
// to ErrAmbiguous on any malformed output so the router can fall back.
type OracleClassifier struct {
	provider domain.LLMProvider
	schema   *jsonschema.Schema
	logger   *slog.Logger
}

// NewOracleClassifier creates an LLM-backed classifier.
func NewOracleClassifier(provider domain.LLMProvider, logger *slog.Logger) (*OracleClassifier, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(verdictSchema))
	if err != nil {
		return nil, fmt.Errorf("compile verdict schema: %w", err)
	}
	return &OracleClassifier{provider: provider, schema: schema, logger: logger}, nil
}

type oracleVerdict struct {
	Agent        string            `json:"agent"`
	Confidence   float64           `json:"confidence"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Abandon      bool              `json:"abandon,omitempty"`
	Continuation bool              `json:"continuation,omitempty"`
}

// Classify implements domain.Classifier.
func (c *OracleClassifier) Classify(ctx context.Context, in domain.ClassifyInput) (domain.Intent, error) {
	ctx, span := tracer.StartSpan(ctx, "classifier.classify",
		trace.WithAttributes(
			tracer.StringAttr("classifier.active_agent", in.ActiveAgentID),
			tracer.IntAttr("classifier.history_turns", len(in.History)),
		),
	)
	defer span.End()

	if strings.TrimSpace(in.Message) == "" {
		return domain.Intent{}, domain.ErrAmbiguous
	}

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.ChatMsg{
			{Role: "system", Content: buildRoutingPrompt(in)},
			{Role: "user", Content: in.Message},
		},
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Intent{}, err
	}

	verdict, err := c.parseVerdict(resp.Content)
	if err != nil {
		c.logger.Warn("oracle verdict rejected", "error", err)
		tracer.RecordError(span, err)
		return domain.Intent{}, fmt.Errorf("%w: %s", domain.ErrAmbiguous, err.Error())
	}

	tracer.SetOK(span)
	return domain.Intent{
		AgentID:      verdict.Agent,
		Confidence:   verdict.Confidence,
		Parameters:   verdict.Parameters,
		Abandon:      verdict.Abandon,
		Continuation: verdict.Continuation,
	}, nil
}

func (c *OracleClassifier) parseVerdict(content string) (*oracleVerdict, error) {
	raw := stripCodeFences(strings.TrimSpace(content))

	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}
	if result := c.schema.Validate(data); !result.IsValid() {
		return nil, fmt.Errorf("verdict schema: %s", result.Error())
	}

	var verdict oracleVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	return &verdict, nil
}

// buildRoutingPrompt renders the agent catalog, recent history, and any
// in-flight parameter gathering into the oracle's system prompt.
func buildRoutingPrompt(in domain.ClassifyInput) string {
	var b strings.Builder
	b.WriteString("You are the routing brain of a study portal assistant. ")
	b.WriteString("Decide which specialized agent should handle the user's message.\n\n")
	b.WriteString("Available agents:\n")
	for _, d := range in.Agents {
		fmt.Fprintf(&b, "- %s: %s\n", d.ID, d.Description)
		if len(d.Parameters) > 0 {
			names := make([]string, 0, len(d.Parameters))
			for _, p := range d.Parameters {
				names = append(names, p.Name)
			}
			fmt.Fprintf(&b, "  parameters: %s\n", strings.Join(names, ", "))
		}
	}

	if len(in.History) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, t := range in.History {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
	}

	if in.ActiveAgentID != "" {
		fmt.Fprintf(&b, "\nAn active task with agent %q is waiting for: %s.\n",
			in.ActiveAgentID, strings.Join(in.MissingParameters, ", "))
		b.WriteString("If the message answers the pending question, set \"continuation\": true, ")
		b.WriteString("keep \"agent\" as the active agent, and put the answer in \"parameters\". ")
		b.WriteString("If the message cancels the task (phrases like \"never mind\"), set \"abandon\": true. ")
		b.WriteString("Only pick a different agent if the message clearly starts a new request.\n")
	}

	b.WriteString("\nExtract any parameter values the message already provides.\n")
	b.WriteString("Respond with JSON only, no prose:\n")
	b.WriteString(`{"agent": "<agent id>", "confidence": <0..1>, "parameters": {}, "abandon": false, "continuation": false}`)
	return b.String()
}

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// stripCodeFences removes markdown code fences if the LLM wrapped its output.
func stripCodeFences(s string) string {
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

var _ domain.Classifier = (*OracleClassifier)(nil)
