package usecase

import (
	"fmt"
	"log/slog"

	"studyportal/internal/domain"
)

// Registry is the agent metadata store: a static, read-only lookup of
// every specialized agent the router can dispatch to. It is validated
// once at startup and freely shared across concurrent turns.
type Registry struct {
	agents     map[string]domain.AgentDescriptor
	ordered    []domain.AgentDescriptor
	fallbackID string
	logger     *slog.Logger
}

// NewRegistry validates the descriptors and builds the store. A malformed
// descriptor or a missing fallback agent is a configuration error and
// fatal to startup.
func NewRegistry(descriptors []domain.AgentDescriptor, fallbackID string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		agents:     make(map[string]domain.AgentDescriptor, len(descriptors)),
		ordered:    make([]domain.AgentDescriptor, 0, len(descriptors)),
		fallbackID: fallbackID,
		logger:     logger,
	}

	for _, d := range descriptors {
		if err := validateDescriptor(d); err != nil {
			return nil, domain.NewDomainError("Registry.New", domain.ErrConfig, err.Error())
		}
		if _, exists := r.agents[d.ID]; exists {
			return nil, domain.NewDomainError("Registry.New", domain.ErrConfig,
				fmt.Sprintf("duplicate agent id %q", d.ID))
		}
		r.agents[d.ID] = d
		r.ordered = append(r.ordered, d)
		logger.Info("agent registered", "agent_id", d.ID, "required_role", string(d.RequiredRole))
	}

	fb, ok := r.agents[fallbackID]
	if !ok {
		return nil, domain.NewDomainError("Registry.New", domain.ErrConfig,
			fmt.Sprintf("fallback agent %q not registered", fallbackID))
	}
	// The fallback is dispatched without parameter gathering, on denials
	// among others, so it must not require any.
	for _, p := range fb.Parameters {
		if p.Required {
			return nil, domain.NewDomainError("Registry.New", domain.ErrConfig,
				fmt.Sprintf("fallback agent %q requires parameter %q", fallbackID, p.Name))
		}
	}

	return r, nil
}

func validateDescriptor(d domain.AgentDescriptor) error {
	if d.ID == "" {
		return fmt.Errorf("agent descriptor missing id")
	}
	if d.RequiredRole == "" {
		return fmt.Errorf("agent %q missing required_role", d.ID)
	}
	if d.RequiredRole != domain.RoleAny {
		if _, ok := domain.ParseRole(string(d.RequiredRole)); !ok {
			return fmt.Errorf("agent %q has unknown required_role %q", d.ID, d.RequiredRole)
		}
	}
	for _, p := range d.Parameters {
		if p.Name == "" {
			return fmt.Errorf("agent %q has a parameter without a name", d.ID)
		}
		if p.Required && p.Prompt == "" {
			return fmt.Errorf("agent %q parameter %q has no clarification prompt", d.ID, p.Name)
		}
	}
	return nil
}

// All returns every descriptor in registration order.
func (r *Registry) All() []domain.AgentDescriptor {
	out := make([]domain.AgentDescriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Get returns the descriptor for the given ID, or ErrNotFound.
func (r *Registry) Get(agentID string) (domain.AgentDescriptor, error) {
	d, ok := r.agents[agentID]
	if !ok {
		return domain.AgentDescriptor{}, domain.NewDomainError("Registry.Get", domain.ErrNotFound, agentID)
	}
	return d, nil
}

// Fallback returns the FAQ/fallback descriptor. The constructor guarantees
// it exists.
func (r *Registry) Fallback() domain.AgentDescriptor {
	return r.agents[r.fallbackID]
}

// FallbackID returns the configured fallback agent ID.
func (r *Registry) FallbackID() string { return r.fallbackID }
