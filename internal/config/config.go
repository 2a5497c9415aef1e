// Package config loads the runtime and agent definitions that drive one
// Aegis session from a YAML file, validated with go-playground/validator
// struct tags plus the cross-agent checks no struct tag can express.
package config

import (
	"github.com/aegisrun/aegis/internal/domain/agent"
)

// RuntimeConfig is the session-wide configuration shared by every agent.
type RuntimeConfig struct {
	AuditDir string `yaml:"audit_dir" mapstructure:"audit_dir"`
	QueryDB  string `yaml:"query_db" mapstructure:"query_db"`
	Operator string `yaml:"operator" mapstructure:"operator"`
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// OperatorTokenHash, when set, is an argon2id hash a session's
	// operator must present the cleartext preimage of before RunAgent
	// starts. Empty means no token is required.
	OperatorTokenHash string `yaml:"operator_token_hash" mapstructure:"operator_token_hash"`
}

// File is the top-level shape of an Aegis configuration file: one runtime
// section plus every agent this session may run or delegate to.
type File struct {
	Runtime RuntimeConfig  `yaml:"runtime" mapstructure:"runtime"`
	Agents  []agent.Config `yaml:"agents" mapstructure:"agents" validate:"required,min=1,dive"`
}

// SetDefaults fills in runtime defaults and normalizes every agent's
// max_turns. Applied before validation so required-by-normalization fields
// are already populated.
func (f *File) SetDefaults() {
	if f.Runtime.AuditDir == "" {
		f.Runtime.AuditDir = "./audit-logs"
	}
	if f.Runtime.LogLevel == "" {
		f.Runtime.LogLevel = "info"
	}
	for i := range f.Agents {
		f.Agents[i].Normalize()
	}
}

// AgentByName returns the agent definition named name, if present.
func (f *File) AgentByName(name string) (agent.Config, bool) {
	for _, a := range f.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return agent.Config{}, false
}
