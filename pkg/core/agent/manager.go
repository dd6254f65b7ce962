package agent

import (
	"context"
	"fmt"

	"dart_deepsearch/pkg/core/llm"
)

// Capability names for the four pipeline stages that call an LLM.
// models.yaml can route each one to a different provider and model.
const (
	CapabilityExpand      = "expand"
	CapabilityFilter      = "filter"
	CapabilitySufficiency = "sufficiency"
	CapabilitySynthesis   = "synthesis"
)

type Config struct {
	ActiveProvider string                 `yaml:"active_provider"`
	Agents         map[string]AgentConfig `yaml:"agents"`
}

type AgentConfig struct {
	Provider    string `yaml:"provider"` // Optional override
	Model       string `yaml:"model"`    // Optional model override
	Description string `yaml:"description"`
}

type Manager struct {
	config    Config
	providers map[string]llm.Provider
}

func NewManager(config Config) *Manager {
	return &Manager{
		config: config,
		providers: map[string]llm.Provider{
			"gemini":   &llm.GeminiProvider{},
			"openai":   &llm.OpenAIProvider{},
			"vllm":     &llm.OpenAIProvider{},
			"deepseek": &llm.DeepSeekProvider{},
			"qwen":     &llm.QwenProvider{},
		},
	}
}

// GetProvider resolves the provider for a capability: per-capability
// override first, then the global active provider, then gemini.
func (m *Manager) GetProvider(capability string) llm.Provider {
	if agentConfig, ok := m.config.Agents[capability]; ok && agentConfig.Provider != "" {
		if p, ok := m.providers[agentConfig.Provider]; ok {
			return p
		}
	}

	if p, ok := m.providers[m.config.ActiveProvider]; ok {
		return p
	}

	return m.providers["gemini"]
}

// GetProviderByName retrieves a provider instance by its registry name.
func (m *Manager) GetProviderByName(name string) llm.Provider {
	if p, ok := m.providers[name]; ok {
		return p
	}
	fmt.Printf("[DEBUG] Provider '%s' not found in registry\n", name)
	return nil
}

// ExecutePrompt routes a capability's prompt to its configured provider.
// A model configured for the capability is injected into options unless
// the caller already set one.
func (m *Manager) ExecutePrompt(ctx context.Context, capability string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error) {
	provider := m.GetProvider(capability)

	if options == nil {
		options = map[string]interface{}{}
	}
	if agentConfig, ok := m.config.Agents[capability]; ok && agentConfig.Model != "" {
		if _, set := options["model"]; !set {
			options["model"] = agentConfig.Model
		}
	}

	adaptedSystemPrompt := provider.AdaptInstructions(rawSystemPrompt)

	return provider.GenerateResponse(ctx, rawPrompt, adaptedSystemPrompt, options)
}

func (m *Manager) SetGlobalProvider(newProvider string) error {
	if _, ok := m.providers[newProvider]; !ok {
		return fmt.Errorf("provider %s not found", newProvider)
	}
	m.config.ActiveProvider = newProvider
	fmt.Printf("[AGENT] Global provider set to: %s\n", newProvider)
	return nil
}

func (m *Manager) GetActiveProvider() string {
	return m.config.ActiveProvider
}

// Capabilities lists the configured capability routes for diagnostics.
func (m *Manager) Capabilities() map[string]AgentConfig {
	out := make(map[string]AgentConfig, len(m.config.Agents))
	for k, v := range m.config.Agents {
		out[k] = v
	}
	return out
}
