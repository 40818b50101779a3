package config

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/lvar"
)

// InvalidField represents a setting that failed validation
type InvalidField struct {
	Field  string
	Reason string
}

// InvalidVariable represents a polled variable name that cannot be sent to the host
type InvalidVariable struct {
	Name   string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidFields    []InvalidField
	InvalidVariables []InvalidVariable
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidFields) > 0 || len(e.InvalidVariables) > 0
}

func (e *ValidationErrors) add(field, reason string) {
	e.InvalidFields = append(e.InvalidFields, InvalidField{Field: field, Reason: reason})
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.InvalidFields) > 0 {
		sb.WriteString("\nInvalid settings:\n")
		for _, f := range e.InvalidFields {
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", f.Field, f.Reason))
		}
	}

	if len(e.InvalidVariables) > 0 {
		sb.WriteString("\nInvalid variables:\n")
		for _, v := range e.InvalidVariables {
			sb.WriteString(fmt.Sprintf("  - %q: %s\n", v.Name, v.Reason))
		}
	}

	return sb.String()
}

// ValidateVariables checks that every name is non-empty, ASCII, unique and
// short enough for its subscribe command to fit one command frame.
func ValidateVariables(names []string) error {
	errs := &ValidationErrors{}
	validateVariables(errs, names)
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateVariables(errs *ValidationErrors, names []string) {
	if len(names) == 0 {
		errs.add("variables", "at least one variable is required")
		return
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		switch {
		case trimmed == "":
			errs.InvalidVariables = append(errs.InvalidVariables, InvalidVariable{Name: name, Reason: "empty name"})
		case !isASCII(trimmed):
			errs.InvalidVariables = append(errs.InvalidVariables, InvalidVariable{Name: name, Reason: "non-ASCII characters"})
		case len(lvar.SubscribeCommand(lvar.Expr(trimmed))) > bridge.CommandFrameSize-2:
			errs.InvalidVariables = append(errs.InvalidVariables, InvalidVariable{Name: name, Reason: "too long for a command frame"})
		case seen[trimmed]:
			errs.InvalidVariables = append(errs.InvalidVariables, InvalidVariable{Name: name, Reason: "duplicate"})
		}
		seen[trimmed] = true
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}
