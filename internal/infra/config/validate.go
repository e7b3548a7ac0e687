package config

import (
	"fmt"
	"net"
	"strings"

	"studyportal/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateRouter(cfg, ve)
	validateLLM(cfg, ve)
	validateLogger(cfg, ve)
	validateGateway(cfg, ve)
	validateAgents(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateRouter(cfg *Config, ve *ValidationError) {
	if cfg.Router.FallbackAgent == "" {
		ve.Add("router.fallback_agent must not be empty")
	}
	if cfg.Router.ConfidenceThreshold < 0 || cfg.Router.ConfidenceThreshold > 1 {
		ve.Add("router.confidence_threshold must be between 0 and 1")
	}
	if cfg.Router.MaxHistory <= 0 {
		ve.Add("router.max_history must be > 0")
	}
	if cfg.Router.ClassifierWindow <= 0 {
		ve.Add("router.classifier_window must be > 0")
	}
	if cfg.Router.OracleTimeout <= 0 {
		ve.Add("router.oracle_timeout must be > 0")
	}
	if cfg.Router.ConversationTTL <= 0 {
		ve.Add("router.conversation_ttl must be > 0")
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.Provider.Model == "" {
		ve.Add("llm.provider.model must not be empty")
	}
	if cfg.LLM.Provider.Temperature < 0 || cfg.LLM.Provider.Temperature > 2 {
		ve.Add("llm.provider.temperature must be between 0 and 2")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not host:port", cfg.Gateway.Addr)
	}
	if cfg.Gateway.Auth.Type == "static" && len(cfg.Gateway.Auth.Tokens) == 0 {
		ve.Add("gateway.auth.type static requires at least one token")
	}
	for i, tok := range cfg.Gateway.Auth.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
		}
		if tok.Role != "" {
			if _, ok := domain.ParseRole(tok.Role); !ok {
				ve.Add("gateway.auth.tokens[%d].role %q is unknown", i, tok.Role)
			}
		}
	}
	if cfg.Gateway.RateLimit.PerSecond < 0 {
		ve.Add("gateway.rate_limit.per_second must be >= 0")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	if len(cfg.Agents) == 0 {
		ve.Add("agents must define at least one agent")
		return
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.ID == "" {
			ve.Add("agents[%d].id must not be empty", i)
			continue
		}
		if seen[a.ID] {
			ve.Add("agents[%d].id %q is duplicated", i, a.ID)
		}
		seen[a.ID] = true
		if a.RequiredRole == "" {
			ve.Add("agent %s: required_role must not be empty", a.ID)
		} else if a.RequiredRole != string(domain.RoleAny) {
			if _, ok := domain.ParseRole(a.RequiredRole); !ok {
				ve.Add("agent %s: required_role %q is unknown", a.ID, a.RequiredRole)
			}
		}
		for j, p := range a.Parameters {
			if p.Name == "" {
				ve.Add("agent %s: parameters[%d].name must not be empty", a.ID, j)
			}
			if p.Required && p.Prompt == "" {
				ve.Add("agent %s: parameter %s is required but has no prompt", a.ID, p.Name)
			}
		}
	}
	if !seen[cfg.Router.FallbackAgent] {
		ve.Add("router.fallback_agent %q is not a configured agent", cfg.Router.FallbackAgent)
	}
}
