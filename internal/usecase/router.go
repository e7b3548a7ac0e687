package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"studyportal/internal/domain"

	"go.opentelemetry.io/otel/trace"

	"studyportal/internal/infra/tracer"
)

// Inbound is one user message entering the router.
type Inbound struct {
	UserID  string
	Role    domain.Role
	Message string
}

// Outbound is the router's terminal reply for a turn.
type Outbound struct {
	Text               string
	AgentID            string
	AwaitingParameters bool
}

// RouterOptions carries the router tunables.
type RouterOptions struct {
	// ConfidenceThreshold below which a classified intent falls back to
	// the FAQ agent instead of being trusted.
	ConfidenceThreshold float64
	// ClassifierWindow is how many recent turns the oracle sees.
	ClassifierWindow int
	// OracleTimeout bounds both suspending calls (classify, respond).
	OracleTimeout time.Duration
}

// Router is the central traffic controller. On every inbound message it
// decides, in fixed priority order, whether to continue gathering
// parameters, abandon the in-flight task, switch topics, deny on role
// grounds, or route fresh. It then either asks a clarifying question or
// dispatches a specialized agent.
//
// Conversation state is mutated only after the suspending oracle calls
// succeed, so a failed turn is safely retryable.
type Router struct {
	registry      *Registry
	conversations *ConversationManager
	locks         *ConversationLocker
	classifier    domain.Classifier
	agents        map[string]domain.SpecializedAgent
	bus           domain.EventBus
	logger        *slog.Logger
	opts          RouterOptions
}

// NewRouter wires the state machine. Every registry descriptor must have
// a matching specialized agent; a gap is a configuration error.
func NewRouter(
	registry *Registry,
	conversations *ConversationManager,
	classifier domain.Classifier,
	agents []domain.SpecializedAgent,
	bus domain.EventBus,
	logger *slog.Logger,
	opts RouterOptions,
) (*Router, error) {
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = 0.55
	}
	if opts.ClassifierWindow <= 0 {
		opts.ClassifierWindow = 5
	}
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = 30 * time.Second
	}

	byID := make(map[string]domain.SpecializedAgent, len(agents))
	for _, a := range agents {
		byID[a.ID()] = a
	}
	for _, d := range registry.All() {
		if _, ok := byID[d.ID]; !ok {
			return nil, domain.NewDomainError("Router.New", domain.ErrConfig,
				fmt.Sprintf("no specialized agent registered for descriptor %q", d.ID))
		}
	}

	return &Router{
		registry:      registry,
		conversations: conversations,
		locks:         NewConversationLocker(),
		classifier:    classifier,
		agents:        byID,
		bus:           bus,
		logger:        logger,
		opts:          opts,
	}, nil
}

// HandleClear resets the user's conversation to idle and acknowledges.
// Idempotent: clearing an already-idle conversation yields the same state
// and the same acknowledgement.
func (r *Router) HandleClear(ctx context.Context, userID string) (Outbound, error) {
	unlock, err := r.locks.Lock(ctx, userID)
	if err != nil {
		return Outbound{}, err
	}
	defer unlock()

	conv := r.conversations.GetOrCreate(userID)
	conv.ClearTask()
	r.publish(ctx, domain.EventConversationCleared, userID, nil)
	r.logger.Info("conversation cleared", "user_id", userID)

	const ack = "Okay, I've cleared our current task. What can I help you with?"
	conv.AppendTurn(domain.TurnAssistant, ack)
	return Outbound{Text: ack, AwaitingParameters: false}, nil
}

// Handle processes one turn end-to-end. Turns for the same user are
// serialized; different users proceed concurrently.
func (r *Router) Handle(ctx context.Context, in Inbound) (Outbound, error) {
	ctx, span := tracer.StartSpan(ctx, "router.turn",
		trace.WithAttributes(tracer.StringAttr("user.role", string(in.Role))),
	)
	defer span.End()

	unlock, err := r.locks.Lock(ctx, in.UserID)
	if err != nil {
		return Outbound{}, err
	}
	defer unlock()

	conv := r.conversations.GetOrCreate(in.UserID)
	msg := strings.TrimSpace(in.Message)

	turn, err := r.decide(ctx, conv, in.Role, msg)
	if err != nil {
		tracer.RecordError(span, err)
		return Outbound{}, err
	}

	out, err := r.execute(ctx, conv, in, msg, turn)
	if err != nil {
		tracer.RecordError(span, err)
		return Outbound{}, err
	}
	tracer.SetOK(span)
	return out, nil
}

// verdict is the outcome of the synchronous transition evaluation
// (steps 2-6): which agent handles the message, what contextual note
// precedes the reply, and which extracted values join the scratchpad.
// Nothing here has touched conversation state yet.
type verdict struct {
	targetID  string
	desc      domain.AgentDescriptor
	prefix    string            // abandonment/denial acknowledgement
	extracted map[string]string // values to merge on commit
	switched  bool              // topic switch away from a prior agent
	abandoned bool
	denied    bool
	deniedID  string // agent the caller was denied, for the audit event
}

// decide runs the classifier oracle and applies the fixed-priority
// transition rules. It never mutates conversation state.
func (r *Router) decide(ctx context.Context, conv *Conversation, role domain.Role, msg string) (verdict, error) {
	activeID := conv.ActiveAgentID()

	var missingNames []string
	if activeID != "" {
		desc, err := r.registry.Get(activeID)
		if err != nil {
			// An active agent the store no longer knows is a broken
			// configuration, not a recoverable routing case.
			return verdict{}, domain.NewDomainError("Router.decide", domain.ErrConfig, activeID)
		}
		for _, p := range desc.MissingParameters(conv.Scratchpad()) {
			missingNames = append(missingNames, p.Name)
		}
	}

	intent, err := r.classify(ctx, domain.ClassifyInput{
		Message:           msg,
		History:           conv.RecentHistory(r.opts.ClassifierWindow),
		ActiveAgentID:     activeID,
		MissingParameters: missingNames,
		Agents:            r.registry.All(),
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAmbiguous):
		// Empty or unreadable messages are non-matches at every step and
		// fall through to fallback routing.
		intent = domain.Intent{}
	default:
		return verdict{}, domain.NewDomainError("Router.classify", domain.ErrGeneration, err.Error())
	}
	r.publish(ctx, domain.EventIntentClassified, conv.UserID, intent)

	v := verdict{extracted: intent.Parameters}

	if activeID != "" {
		switch {
		case intent.Abandon || IsAbandonment(msg):
			// Abandonment outranks treating the text as a parameter value.
			v.abandoned = true
			v.prefix = "No problem, I've dropped that request. "
			v.extracted = nil
			if intent.AgentID != "" && intent.AgentID != activeID && intent.Confidence >= r.opts.ConfidenceThreshold {
				v.targetID = intent.AgentID
			} else {
				v.targetID = r.registry.FallbackID()
			}

		case intent.AgentID == "" || intent.AgentID == activeID || intent.Continuation:
			// Continuation: progress on the still-missing parameters.
			v.targetID = activeID

		default:
			// Topic switch: new target, scratchpad must not leak.
			v.switched = true
			v.targetID = intent.AgentID
		}
	} else {
		if intent.AgentID == "" || intent.Confidence < r.opts.ConfidenceThreshold {
			// Ties and low confidence go to the fallback, never an
			// arbitrary agent.
			v.targetID = r.registry.FallbackID()
			v.extracted = nil
		} else {
			v.targetID = intent.AgentID
		}
	}

	desc, err := r.registry.Get(v.targetID)
	if err != nil {
		return verdict{}, domain.NewDomainError("Router.decide", domain.ErrConfig, v.targetID)
	}
	v.desc = desc

	// Role enforcement: a hard rule, checked before any dispatch or
	// parameter gathering. Denials redirect to the fallback agent with an
	// explanation and never set the active agent.
	if !role.Satisfies(desc.RequiredRole) {
		v.denied = true
		v.deniedID = desc.ID
		v.prefix = fmt.Sprintf("The %s is only available to the %s role. ", desc.Name, desc.RequiredRole)
		v.targetID = r.registry.FallbackID()
		v.desc = r.registry.Fallback()
		v.extracted = nil
	}

	return v, nil
}

// execute finishes the turn: either emit the next clarification prompt or
// dispatch the specialized agent, then commit state mutations.
func (r *Router) execute(ctx context.Context, conv *Conversation, in Inbound, msg string, v verdict) (Outbound, error) {
	// Project the post-commit scratchpad without touching the real one.
	pending := make(map[string]string)
	if v.targetID == conv.ActiveAgentID() && !v.abandoned {
		pending = conv.Scratchpad()
	}
	for k, val := range v.extracted {
		if val != "" {
			pending[k] = val
		}
	}

	missing := v.desc.MissingParameters(pending)
	if len(missing) > 0 && !v.denied {
		// Parameter gathering: prompt for the next missing value. This
		// path has no suspending call left, so commit immediately.
		text := v.prefix + missing[0].Prompt
		r.commit(conv, in, msg, v, pending, text, true)
		r.publish(ctx, domain.EventParametersRequested, in.UserID,
			map[string]string{"agent_id": v.targetID, "parameter": missing[0].Name})
		return Outbound{Text: text, AgentID: v.targetID, AwaitingParameters: true}, nil
	}

	agent, ok := r.agents[v.targetID]
	if !ok {
		return Outbound{}, domain.NewDomainError("Router.dispatch", domain.ErrConfig, v.targetID)
	}

	// Dispatch: the only other suspending call. History snapshot includes
	// the current message so the agent sees what the user just said.
	history := append(conv.RecentHistory(r.opts.ClassifierWindow),
		domain.Turn{Role: domain.TurnUser, Text: msg, Timestamp: time.Now()})

	callCtx, cancel := context.WithTimeout(ctx, r.opts.OracleTimeout)
	defer cancel()

	text, err := agent.Respond(callCtx, pending, history)
	if err != nil {
		// State has not been touched: the turn is retryable as-is.
		return Outbound{}, domain.NewDomainError("Router.dispatch", domain.ErrGeneration, err.Error())
	}
	text = v.prefix + text

	r.commit(conv, in, msg, v, nil, text, false)
	r.publish(ctx, domain.EventAgentDispatched, in.UserID, map[string]string{"agent_id": v.targetID})
	r.logger.Info("agent dispatched",
		"user_id", in.UserID,
		"agent_id", v.targetID,
		"denied", v.denied,
		"abandoned", v.abandoned,
	)
	return Outbound{Text: text, AgentID: v.targetID, AwaitingParameters: false}, nil
}

// commit applies all deferred state mutations for a successful turn.
func (r *Router) commit(conv *Conversation, in Inbound, msg string, v verdict, pending map[string]string, reply string, awaiting bool) {
	conv.AppendTurn(domain.TurnUser, msg)

	ctx := context.Background()
	if v.abandoned {
		r.publish(ctx, domain.EventTaskAbandoned, in.UserID, nil)
	}
	if v.switched {
		r.publish(ctx, domain.EventTopicSwitched, in.UserID, map[string]string{"agent_id": v.targetID})
	}
	if v.denied {
		r.publish(ctx, domain.EventPermissionDenied, in.UserID,
			map[string]string{"agent_id": v.deniedID, "role": string(in.Role)})
	}

	if awaiting {
		conv.SetActiveAgent(v.targetID)
		conv.MergeScratchpad(pending)
	} else {
		// One-shot agents: completion (or denial) returns to idle.
		conv.ClearTask()
	}

	conv.AppendTurn(domain.TurnAssistant, reply)
	r.publish(ctx, domain.EventMessageSent, in.UserID, nil)
}

// classify calls the oracle under the configured timeout.
func (r *Router) classify(ctx context.Context, in domain.ClassifyInput) (domain.Intent, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.OracleTimeout)
	defer cancel()

	intent, err := r.classifier.Classify(callCtx, in)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return domain.Intent{}, fmt.Errorf("%w: classifier timed out", domain.ErrTimeout)
	}
	return intent, err
}

func (r *Router) publish(ctx context.Context, eventType domain.EventType, userID string, payload any) {
	publishEvent(r.bus, ctx, eventType, userID, payload)
}
