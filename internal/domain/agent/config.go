// Package agent defines the Agent Config shape, its CM-6 load-time
// invariant, and the turn loop that drives a single agent run.
package agent

import (
	"errors"
	"fmt"

	"github.com/aegisrun/aegis/internal/domain/mcpconn"
	"github.com/aegisrun/aegis/internal/domain/verify"
)

// HighRiskBuiltins mirrors verify.HighRiskBuiltins: the built-in names
// that cannot be paired with verification.mode=never.
var HighRiskBuiltins = verify.HighRiskBuiltins

// ProviderConfig carries the provider type plus whatever keys that
// provider needs, kept as a free-form map since each provider type
// defines its own schema.
type ProviderConfig struct {
	Type string `yaml:"type" mapstructure:"type" validate:"required"`
	// Options holds whatever provider-specific keys sit alongside type;
	// ,remain is mapstructure's catch-all, so these never trip
	// ErrorUnused the way an un-tagged free-form field would.
	Options map[string]any `yaml:",inline" mapstructure:",remain"`
}

// VerificationConfig is the gate's static policy for one agent.
type VerificationConfig struct {
	Mode       verify.Mode `yaml:"mode" mapstructure:"mode" validate:"required,oneof=always selective never"`
	RequireFor []string    `yaml:"require_for" mapstructure:"require_for"`
}

// HandoffConfig lists the agents this agent may delegate to.
type HandoffConfig struct {
	CanDelegateTo []string `yaml:"can_delegate_to" mapstructure:"can_delegate_to"`
}

// ToolsConfig is the union of requested built-in names and MCP servers.
type ToolsConfig struct {
	Builtin []string             `yaml:"builtin" mapstructure:"builtin"`
	MCP     []mcpconn.ServerSpec `yaml:"mcp" mapstructure:"mcp"`
}

// AuditConfig optionally overrides where this agent's session writes its
// audit log.
type AuditConfig struct {
	LogDir string `yaml:"log_dir" mapstructure:"log_dir"`
}

// Config is one agent definition as loaded from YAML.
type Config struct {
	Name         string             `yaml:"name" mapstructure:"name" validate:"required"`
	Model        string             `yaml:"model" mapstructure:"model" validate:"required"`
	SystemPrompt string             `yaml:"system_prompt" mapstructure:"system_prompt"`
	Operator     string             `yaml:"operator" mapstructure:"operator"`
	MaxTurns     int                `yaml:"max_turns" mapstructure:"max_turns"`
	Tools        ToolsConfig        `yaml:"tools" mapstructure:"tools"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification" validate:"required"`
	Handoff      HandoffConfig      `yaml:"handoff" mapstructure:"handoff"`
	AllowedPaths []string           `yaml:"allowed_paths" mapstructure:"allowed_paths"`
	Audit        AuditConfig        `yaml:"audit" mapstructure:"audit"`
	Provider     ProviderConfig     `yaml:"provider" mapstructure:"provider" validate:"required"`
}

// DefaultMaxTurns is applied when Config.MaxTurns is unset.
const DefaultMaxTurns = 20

// ErrNeverModeWithHighRiskBuiltin is the CM-6 invariant violation: a
// config cannot disable human verification while requesting bash or
// write_file.
var ErrNeverModeWithHighRiskBuiltin = errors.New("agent: verification.mode=never is incompatible with high-risk built-ins (bash, write_file)")

// Normalize fills in defaults (max_turns) and returns the config.
func (c *Config) Normalize() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
}

// CheckInvariants enforces CM-6: verification.mode=never may not be
// combined with any high-risk built-in.
func (c *Config) CheckInvariants() error {
	if c.Verification.Mode != verify.ModeNever {
		return nil
	}
	for _, name := range c.Tools.Builtin {
		if HighRiskBuiltins[name] {
			return fmt.Errorf("%w: agent %q requests %q", ErrNeverModeWithHighRiskBuiltin, c.Name, name)
		}
	}
	return nil
}
