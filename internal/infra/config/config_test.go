package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyportal/internal/domain"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "faq_fallback", cfg.Router.FallbackAgent)
	assert.InDelta(t, 0.55, cfg.Router.ConfidenceThreshold, 0.001)
	assert.Len(t, cfg.Agents, 4)
}

func TestDefaultDescriptors(t *testing.T) {
	cfg := Defaults()
	descs := cfg.Descriptors()
	require.Len(t, descs, 4)

	byID := make(map[string]domain.AgentDescriptor)
	for _, d := range descs {
		byID[d.ID] = d
	}

	assert.Equal(t, domain.RoleConsultant, byID["assignment_review"].RequiredRole)
	assert.Equal(t, domain.RoleConsultant, byID["learning_path"].RequiredRole)
	assert.Equal(t, domain.RoleAdmin, byID["question_generation"].RequiredRole)
	assert.Equal(t, domain.RoleAny, byID["faq_fallback"].RequiredRole)

	// The fallback needs no parameters; the others gather them in order.
	assert.Empty(t, byID["faq_fallback"].Parameters)
	require.Len(t, byID["learning_path"].Parameters, 2)
	assert.Equal(t, "topic", byID["learning_path"].Parameters[0].Name)
	assert.True(t, byID["learning_path"].Parameters[0].Required)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Router.FallbackAgent, cfg.Router.FallbackAgent)
}

func TestLoadAppliesFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
router:
  confidence_threshold: 0.7
logger:
  level: debug
llm:
  provider:
    model: test-model
`), 0o600))

	t.Setenv("PORTAL_LLM_MODEL", "env-model")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, cfg.Router.ConfidenceThreshold, 0.001)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "env-model", cfg.LLM.Provider.Model, "env overrides beat the file")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  level: loud
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "logger.level")
}

func TestValidateAgents(t *testing.T) {
	cfg := Defaults()
	cfg.Agents = append(cfg.Agents, AgentConfig{ID: "assignment_review", RequiredRole: "all"})
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicated")

	cfg = Defaults()
	cfg.Agents[0].RequiredRole = "wizard"
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required_role")

	cfg = Defaults()
	cfg.Router.FallbackAgent = "ghost"
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback_agent")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encrypted, err := EncryptValue("sk-secret", "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "sk-secret")

	decrypted, err := DecryptValue(encrypted, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", decrypted)

	_, err = DecryptValue(encrypted, "wrong-passphrase")
	assert.Error(t, err)

	_, err = DecryptValue("not-a-ciphertext", "passphrase")
	assert.Error(t, err)
}

func TestDecryptSecrets(t *testing.T) {
	encrypted, err := EncryptValue("sk-live", "key")
	require.NoError(t, err)

	cfg := Defaults()
	cfg.LLM.Provider.APIKey = "enc:" + encrypted
	cfg.Gateway.Auth.Tokens = []TokenConfig{{Token: "enc:" + encrypted, Name: "u1", Role: "admin"}}

	require.NoError(t, decryptSecrets(cfg, "key"))
	assert.Equal(t, "sk-live", cfg.LLM.Provider.APIKey)
	assert.Equal(t, "sk-live", cfg.Gateway.Auth.Tokens[0].Token)

	// Plaintext values pass through untouched.
	cfg.LLM.Provider.APIKey = "sk-plain"
	require.NoError(t, decryptSecrets(cfg, "key"))
	assert.Equal(t, "sk-plain", cfg.LLM.Provider.APIKey)
}
