package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyportal/internal/domain"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDescriptors() []domain.AgentDescriptor {
	return []domain.AgentDescriptor{
		{
			ID:           "assignment_review",
			Name:         "Assignment Review & Insight Agent",
			RequiredRole: domain.RoleConsultant,
			Keywords:     []string{"assignment", "grade", "feedback"},
			Parameters: []domain.ParameterSpec{
				{Name: "assignment_title", Prompt: "Which assignment are you interested in?", Required: true},
				{Name: "assignment_id"},
			},
		},
		{
			ID:           "learning_path",
			Name:         "Learning Path Recommendation Agent",
			RequiredRole: domain.RoleConsultant,
			Keywords:     []string{"learn", "study", "course"},
			Parameters: []domain.ParameterSpec{
				{Name: "topic", Prompt: "What topic would you like to learn about?", Required: true},
				{Name: "skill_level", Prompt: "What's your current skill level?", Required: true},
			},
		},
		{
			ID:           "question_generation",
			Name:         "Question Generation Agent",
			RequiredRole: domain.RoleAdmin,
			Keywords:     []string{"generate", "quiz", "questions"},
			Parameters: []domain.ParameterSpec{
				{Name: "topic", Prompt: "What topic should the questions cover?", Required: true},
				{Name: "difficulty", Prompt: "What difficulty level?", Required: true},
				{Name: "question_count", Prompt: "How many questions?", Required: true},
			},
		},
		{
			ID:           "faq_fallback",
			Name:         "FAQ & Fallback Agent",
			RequiredRole: domain.RoleAny,
			Keywords:     []string{"help", "hello"},
		},
	}
}

type fakeClassifier struct {
	fn func(in domain.ClassifyInput) (domain.Intent, error)
}

func (f *fakeClassifier) Classify(_ context.Context, in domain.ClassifyInput) (domain.Intent, error) {
	return f.fn(in)
}

type fakeAgent struct {
	id      string
	respond func(params map[string]string, history []domain.Turn) (string, error)
}

func (f *fakeAgent) ID() string { return f.id }

func (f *fakeAgent) Respond(_ context.Context, params map[string]string, history []domain.Turn) (string, error) {
	if f.respond != nil {
		return f.respond(params, history)
	}
	return "reply from " + f.id, nil
}

func intentOf(agentID string, conf float64) func(domain.ClassifyInput) (domain.Intent, error) {
	return func(domain.ClassifyInput) (domain.Intent, error) {
		return domain.Intent{AgentID: agentID, Confidence: conf}, nil
	}
}

func newTestRouter(t *testing.T, classifier domain.Classifier, agents ...domain.SpecializedAgent) (*Router, *ConversationManager) {
	t.Helper()

	registry, err := NewRegistry(testDescriptors(), "faq_fallback", noopLogger())
	require.NoError(t, err)

	if len(agents) == 0 {
		for _, d := range testDescriptors() {
			agents = append(agents, &fakeAgent{id: d.ID})
		}
	}

	conversations := NewConversationManager(40)
	router, err := NewRouter(registry, conversations, classifier, agents, nil, noopLogger(), RouterOptions{
		ConfidenceThreshold: 0.55,
		ClassifierWindow:    5,
		OracleTimeout:       5 * time.Second,
	})
	require.NoError(t, err)
	return router, conversations
}

func TestNewRouterRejectsMissingAgent(t *testing.T) {
	registry, err := NewRegistry(testDescriptors(), "faq_fallback", noopLogger())
	require.NoError(t, err)

	_, err = NewRouter(registry, NewConversationManager(40),
		&fakeClassifier{fn: intentOf("faq_fallback", 1)},
		[]domain.SpecializedAgent{&fakeAgent{id: "faq_fallback"}},
		nil, noopLogger(), RouterOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestHandleDispatchesHighConfidenceIntent(t *testing.T) {
	classifier := &fakeClassifier{fn: func(domain.ClassifyInput) (domain.Intent, error) {
		return domain.Intent{
			AgentID:    "learning_path",
			Confidence: 0.9,
			Parameters: map[string]string{"topic": "go", "skill_level": "beginner"},
		}, nil
	}}
	router, conversations := newTestRouter(t, classifier)

	out, err := router.Handle(context.Background(), Inbound{
		UserID: "u1", Role: domain.RoleConsultant, Message: "I want to learn Go",
	})
	require.NoError(t, err)
	assert.Equal(t, "learning_path", out.AgentID)
	assert.Equal(t, "reply from learning_path", out.Text)
	assert.False(t, out.AwaitingParameters)

	// One-shot dispatch returns the conversation to idle.
	conv, err := conversations.Get("u1")
	require.NoError(t, err)
	assert.Empty(t, conv.ActiveAgentID())
	assert.Empty(t, conv.Scratchpad())
	require.Len(t, conv.History(), 2)
	assert.Equal(t, domain.TurnUser, conv.History()[0].Role)
	assert.Equal(t, domain.TurnAssistant, conv.History()[1].Role)
}

func TestHandleLowConfidenceFallsBack(t *testing.T) {
	router, _ := newTestRouter(t, &fakeClassifier{fn: intentOf("learning_path", 0.2)})

	out, err := router.Handle(context.Background(), Inbound{
		UserID: "u1", Role: domain.RoleConsultant, Message: "hmm",
	})
	require.NoError(t, err)
	assert.Equal(t, "faq_fallback", out.AgentID)
}

func TestHandleAmbiguousFallsBack(t *testing.T) {
	classifier := &fakeClassifier{fn: func(domain.ClassifyInput) (domain.Intent, error) {
		return domain.Intent{}, domain.ErrAmbiguous
	}}
	router, _ := newTestRouter(t, classifier)

	out, err := router.Handle(context.Background(), Inbound{
		UserID: "u1", Role: domain.RoleConsultant, Message: "???",
	})
	require.NoError(t, err)
	assert.Equal(t, "faq_fallback", out.AgentID)
	assert.False(t, out.AwaitingParameters)
}

func TestHandleGathersParametersAcrossTurns(t *testing.T) {
	var gotParams map[string]string
	agents := []domain.SpecializedAgent{
		&fakeAgent{id: "assignment_review"},
		&fakeAgent{id: "learning_path", respond: func(params map[string]string, _ []domain.Turn) (string, error) {
			gotParams = params
			return "here is your plan", nil
		}},
		&fakeAgent{id: "question_generation"},
		&fakeAgent{id: "faq_fallback"},
	}

	step := 0
	classifier := &fakeClassifier{fn: func(in domain.ClassifyInput) (domain.Intent, error) {
		step++
		switch step {
		case 1:
			return domain.Intent{AgentID: "learning_path", Confidence: 0.9}, nil
		default:
			// Answers to clarifying prompts come back as continuations.
			require.Equal(t, "learning_path", in.ActiveAgentID)
			require.NotEmpty(t, in.MissingParameters)
			return domain.Intent{
				AgentID:      "learning_path",
				Confidence:   1,
				Continuation: true,
				Parameters:   map[string]string{in.MissingParameters[0]: in.Message},
			}, nil
		}
	}}
	router, conversations := newTestRouter(t, classifier, agents...)
	ctx := context.Background()
	user := Inbound{UserID: "u1", Role: domain.RoleConsultant}

	// Turn 1: intent recognized, first parameter requested.
	user.Message = "help me study"
	out, err := router.Handle(ctx, user)
	require.NoError(t, err)
	assert.True(t, out.AwaitingParameters)
	assert.Equal(t, "What topic would you like to learn about?", out.Text)

	conv, err := conversations.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "learning_path", conv.ActiveAgentID())

	// Turn 2: first answer stored, second parameter requested.
	user.Message = "goroutines"
	out, err = router.Handle(ctx, user)
	require.NoError(t, err)
	assert.True(t, out.AwaitingParameters)
	assert.Equal(t, "What's your current skill level?", out.Text)
	assert.Equal(t, map[string]string{"topic": "goroutines"}, conv.Scratchpad())

	// Turn 3: all parameters present, agent dispatched, state reset.
	user.Message = "beginner"
	out, err = router.Handle(ctx, user)
	require.NoError(t, err)
	assert.False(t, out.AwaitingParameters)
	assert.Equal(t, "here is your plan", out.Text)
	assert.Equal(t, map[string]string{"topic": "goroutines", "skill_level": "beginner"}, gotParams)
	assert.Empty(t, conv.ActiveAgentID())
	assert.Empty(t, conv.Scratchpad())
}

func TestHandleScratchpadIsMonotonic(t *testing.T) {
	step := 0
	classifier := &fakeClassifier{fn: func(in domain.ClassifyInput) (domain.Intent, error) {
		step++
		if step == 1 {
			return domain.Intent{
				AgentID:    "learning_path",
				Confidence: 0.9,
				Parameters: map[string]string{"topic": "rust"},
			}, nil
		}
		// A later turn must not blank out the stored topic.
		return domain.Intent{
			AgentID:      "learning_path",
			Confidence:   1,
			Continuation: true,
			Parameters:   map[string]string{"topic": "", "skill_level": "advanced"},
		}, nil
	}}
	router, conversations := newTestRouter(t, classifier)
	ctx := context.Background()

	_, err := router.Handle(ctx, Inbound{UserID: "u1", Role: domain.RoleConsultant, Message: "teach me rust"})
	require.NoError(t, err)

	conv, err := conversations.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"topic": "rust"}, conv.Scratchpad())

	out, err := router.Handle(ctx, Inbound{UserID: "u1", Role: domain.RoleConsultant, Message: "advanced"})
	require.NoError(t, err)
	assert.False(t, out.AwaitingParameters)
}

func TestHandleAbandonmentDropsTask(t *testing.T) {
	step := 0
	classifier := &fakeClassifier{fn: func(in domain.ClassifyInput) (domain.Intent, error) {
		step++
		if step == 1 {
			return domain.Intent{AgentID: "learning_path", Confidence: 0.9}, nil
		}
		return domain.Intent{Abandon: true}, nil
	}}
	router, conversations := newTestRouter(t, classifier)
	ctx := context.Background()

	_, err := router.Handle(ctx, Inbound{UserID: "u1", Role: domain.RoleConsultant, Message: "study plan please"})
	require.NoError(t, err)

	out, err := router.Handle(ctx, Inbound{UserID: "u1", Role: domain.RoleConsultant, Message: "never mind"})
	require.NoError(t, err)
	assert.Equal(t, "faq_fallback", out.AgentID)
	assert.Contains(t, out.Text, "No problem, I've dropped that request.")
	assert.False(t, out.AwaitingParameters)

	conv, err := conversations.Get("u1")
	require.NoError(t, err)
	assert.Empty(t, conv.ActiveAgentID())
	assert.Empty(t, conv.Scratchpad())
}

func TestHandleAbandonmentKeywordOverridesClassifier(t *testing.T) {
	step := 0
	classifier := &fakeClassifier{fn: func(in domain.ClassifyInput) (domain.Intent, error) {
		step++
		if step == 1 {
			return domain.Intent{AgentID: "learning_path", Confidence: 0.9}, nil
		}
		// Classifier misreads the cancellation as a parameter answer.
		return domain.Intent{
			AgentID:      "learning_path",
			Confidence:   1,
			Continuation: true,
			Parameters:   map[string]string{"topic": "forget it"},
		}, nil
	}}
	router, conversations := newTestRouter(t, classifier)
	ctx := context.Background()

	_, err := router.Handle(ctx, Inbound{UserID: "u1", Role: domain.RoleConsultant, Message: "I want to study"})
	require.NoError(t, err)

	out, err := router.Handle(ctx, Inbound{UserID: "u1", Role: domain.RoleConsultant, Message: "forget it"})
	require.NoError(t, err)
	assert.Contains(t, out.Text, "No problem")

	conv, err := conversations.Get("u1")
	require.NoError(t, err)
	assert.Empty(t, conv.Scratchpad(), "abandoned text must not be stored as a parameter")
}

func TestHandleTopicSwitchResetsScratchpad(t *testing.T) {
	step := 0
	classifier := &fakeClassifier{fn: func(in domain.ClassifyInput) (domain.Intent, error) {
		step++
		if step == 1 {
			return domain.Intent{
				AgentID:    "learning_path",
				Confidence: 0.9,
				Parameters: map[string]string{"topic": "python"},
			}, nil
		}
		return domain.Intent{AgentID: "assignment_review", Confidence: 0.9}, nil
	}}
	router, conversations := newTestRouter(t, classifier)
	ctx := context.Background()

	_, err := router.Handle(ctx, Inbound{UserID: "u1", Role: domain.RoleConsultant, Message: "teach me python"})
	require.NoError(t, err)

	out, err := router.Handle(ctx, Inbound{UserID: "u1", Role: domain.RoleConsultant, Message: "actually how did my assignment go"})
	require.NoError(t, err)
	assert.Equal(t, "assignment_review", out.AgentID)
	assert.True(t, out.AwaitingParameters)
	assert.Equal(t, "Which assignment are you interested in?", out.Text)

	conv, err := conversations.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "assignment_review", conv.ActiveAgentID())
	assert.NotContains(t, conv.Scratchpad(), "topic", "scratchpad must not leak across agents")
}

func TestHandleDeniesInsufficientRole(t *testing.T) {
	router, conversations := newTestRouter(t, &fakeClassifier{fn: intentOf("question_generation", 0.9)})

	out, err := router.Handle(context.Background(), Inbound{
		UserID: "u1", Role: domain.RoleConsultant, Message: "generate a quiz",
	})
	require.NoError(t, err)
	assert.Equal(t, "faq_fallback", out.AgentID)
	assert.Contains(t, out.Text, "only available to the admin role")
	assert.False(t, out.AwaitingParameters)

	// Denial never starts parameter gathering.
	conv, err := conversations.Get("u1")
	require.NoError(t, err)
	assert.Empty(t, conv.ActiveAgentID())
}

func TestHandleAdminPassesRoleGate(t *testing.T) {
	router, _ := newTestRouter(t, &fakeClassifier{fn: intentOf("question_generation", 0.9)})

	out, err := router.Handle(context.Background(), Inbound{
		UserID: "admin1", Role: domain.RoleAdmin, Message: "generate a quiz",
	})
	require.NoError(t, err)
	assert.Equal(t, "question_generation", out.AgentID)
	assert.True(t, out.AwaitingParameters)
}

func TestHandleUnknownRoleFailsClosed(t *testing.T) {
	router, _ := newTestRouter(t, &fakeClassifier{fn: intentOf("learning_path", 0.9)})

	out, err := router.Handle(context.Background(), Inbound{
		UserID: "u1", Role: domain.Role("superuser"), Message: "I want to study",
	})
	require.NoError(t, err)
	assert.Equal(t, "faq_fallback", out.AgentID)
	assert.Contains(t, out.Text, "only available to the consultant role")
}

func TestHandleClassifierFailureIsRetryable(t *testing.T) {
	classifier := &fakeClassifier{fn: func(domain.ClassifyInput) (domain.Intent, error) {
		return domain.Intent{}, errors.New("oracle exploded")
	}}
	router, conversations := newTestRouter(t, classifier)

	_, err := router.Handle(context.Background(), Inbound{
		UserID: "u1", Role: domain.RoleConsultant, Message: "hello",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGeneration)

	// The failed turn must leave no trace in history.
	conv, err := conversations.Get("u1")
	require.NoError(t, err)
	assert.Empty(t, conv.History())
}

func TestHandleAgentFailurePreservesState(t *testing.T) {
	agents := []domain.SpecializedAgent{
		&fakeAgent{id: "assignment_review"},
		&fakeAgent{id: "learning_path", respond: func(map[string]string, []domain.Turn) (string, error) {
			return "", errors.New("model unavailable")
		}},
		&fakeAgent{id: "question_generation"},
		&fakeAgent{id: "faq_fallback"},
	}
	classifier := &fakeClassifier{fn: func(domain.ClassifyInput) (domain.Intent, error) {
		return domain.Intent{
			AgentID:    "learning_path",
			Confidence: 0.9,
			Parameters: map[string]string{"topic": "go", "skill_level": "beginner"},
		}, nil
	}}
	router, conversations := newTestRouter(t, classifier, agents...)

	_, err := router.Handle(context.Background(), Inbound{
		UserID: "u1", Role: domain.RoleConsultant, Message: "teach me go, I'm new",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.True(t, domain.IsRetryableError(err))

	conv, err := conversations.Get("u1")
	require.NoError(t, err)
	assert.Empty(t, conv.History(), "failed dispatch must not commit the turn")
	assert.Empty(t, conv.ActiveAgentID())
}

func TestHandleClearIsIdempotent(t *testing.T) {
	router, conversations := newTestRouter(t, &fakeClassifier{fn: intentOf("learning_path", 0.9)})
	ctx := context.Background()

	_, err := router.Handle(ctx, Inbound{UserID: "u1", Role: domain.RoleConsultant, Message: "study plan"})
	require.NoError(t, err)

	conv, err := conversations.Get("u1")
	require.NoError(t, err)
	require.Equal(t, "learning_path", conv.ActiveAgentID())

	first, err := router.HandleClear(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, conv.ActiveAgentID())

	second, err := router.HandleClear(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.Empty(t, conv.ActiveAgentID())
}

func TestHandleClearUnknownUserCreatesState(t *testing.T) {
	router, conversations := newTestRouter(t, &fakeClassifier{fn: intentOf("faq_fallback", 1)})

	out, err := router.HandleClear(context.Background(), "stranger")
	require.NoError(t, err)
	assert.NotEmpty(t, out.Text)
	assert.Equal(t, 1, conversations.Count())
}

func TestHandlePublishesDenialEvent(t *testing.T) {
	registry, err := NewRegistry(testDescriptors(), "faq_fallback", noopLogger())
	require.NoError(t, err)

	var agents []domain.SpecializedAgent
	for _, d := range testDescriptors() {
		agents = append(agents, &fakeAgent{id: d.ID})
	}

	bus := newRecordingBus()
	conversations := NewConversationManager(40)
	router, err := NewRouter(registry, conversations,
		&fakeClassifier{fn: intentOf("question_generation", 0.9)},
		agents, bus, noopLogger(), RouterOptions{})
	require.NoError(t, err)

	_, err = router.Handle(context.Background(), Inbound{
		UserID: "u1", Role: domain.RoleSME, Message: "generate a quiz",
	})
	require.NoError(t, err)

	event := bus.waitFor(t, domain.EventPermissionDenied)
	assert.Equal(t, "u1", event.UserID)
	assert.Contains(t, string(event.Payload), "question_generation")
}

// recordingBus captures published events for assertions.
type recordingBus struct {
	events chan domain.Event
}

func newRecordingBus() *recordingBus {
	return &recordingBus{events: make(chan domain.Event, 64)}
}

func (b *recordingBus) Publish(_ context.Context, event domain.Event) {
	select {
	case b.events <- event:
	default:
	}
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) waitFor(t *testing.T, eventType domain.EventType) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-b.events:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("event %s not published", eventType)
			return domain.Event{}
		}
	}
}
