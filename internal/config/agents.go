package config

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// AgentPersona describes one multi-agent participant: its system prompt and
// an optional model override.
type AgentPersona struct {
	SystemPrompt string  `yaml:"system_prompt"`
	ModelType    string  `yaml:"model_type,omitempty"`
	Temperature  float64 `yaml:"temperature,omitempty"`
}

// AgentsConfig binds personas to the fixed multi-agent roles.
type AgentsConfig struct {
	Planner  AgentPersona `yaml:"planner"`
	Critic   AgentPersona `yaml:"critic"`
	Reporter AgentPersona `yaml:"reporter"`
}

// DefaultAgentsConfig returns built-in personas used when no YAML file is
// provided. Prompts instruct each agent to emit the structured JSON the
// orchestrator expects.
func DefaultAgentsConfig() *AgentsConfig {
	return &AgentsConfig{
		Planner: AgentPersona{
			SystemPrompt: "You are the Planner. Produce a concrete, step-by-step plan for the user's request. " +
				"End your answer with a JSON object {\"position_summary\": {\"conclusion\": string, \"key_reasons\": [string], \"assumptions\": [string], \"confidence\": number}}.",
		},
		Critic: AgentPersona{
			SystemPrompt: "You are the Critic. Examine the Planner's latest output for risks, gaps and invalid assumptions. " +
				"End your answer with a JSON object {\"risks\": [string], \"suggestions\": [string], \"position_summary\": {\"conclusion\": string, \"key_reasons\": [string], \"assumptions\": [string], \"confidence\": number}}.",
		},
		Reporter: AgentPersona{
			SystemPrompt: "You are the Reporter. Synthesize the full discussion into one clear, well-structured answer for the user. " +
				"Do not mention the discussion process.",
		},
	}
}

// LoadAgentsConfig reads the persona file at path. A missing file is not an
// error; the defaults apply.
func LoadAgentsConfig(path string) (*AgentsConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultAgentsConfig(), nil
		}
		return nil, fmt.Errorf("failed to open agents config: %w", err)
	}
	defer f.Close()

	cfg, err := ParseAgentsConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse agents config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseAgentsConfig decodes a persona YAML document, filling unset roles
// from the defaults.
func ParseAgentsConfig(r io.Reader) (*AgentsConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cfg := DefaultAgentsConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	defaults := DefaultAgentsConfig()
	if cfg.Planner.SystemPrompt == "" {
		cfg.Planner = defaults.Planner
	}
	if cfg.Critic.SystemPrompt == "" {
		cfg.Critic = defaults.Critic
	}
	if cfg.Reporter.SystemPrompt == "" {
		cfg.Reporter = defaults.Reporter
	}

	return cfg, nil
}
