package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aegisrun/aegis/internal/domain/tool"
)

// Validate runs struct-tag validation over cfg plus the cross-agent
// invariants no struct tag can express: the CM-6 never-mode check, unknown
// built-in names, and dangling handoff references.
func Validate(cfg *File) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(cfg); err != nil {
		return formatValidationErrors(err)
	}

	names := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if names[a.Name] {
			return fmt.Errorf("config: duplicate agent name %q", a.Name)
		}
		names[a.Name] = true
	}

	for _, a := range cfg.Agents {
		if err := a.CheckInvariants(); err != nil {
			return err
		}
		if err := validateBuiltinNames(a.Name, a.Tools.Builtin); err != nil {
			return err
		}
		for _, child := range a.Handoff.CanDelegateTo {
			if !names[child] {
				return fmt.Errorf("config: agent %q delegates to unknown agent %q", a.Name, child)
			}
		}
	}

	return nil
}

func validateBuiltinNames(agentName string, requested []string) error {
	for _, name := range requested {
		if !tool.KnownBuiltins[name] {
			return fmt.Errorf("config: agent %q requests unknown built-in %q", agentName, name)
		}
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
