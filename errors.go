package permission

import "fmt"

// StructuralError reports a fatal defect in the declared hierarchy: a
// duplicate entity name, a duplicate role within one context, an unknown or
// nil parent, or a parent cycle. Registration aborts and the registry keeps
// the state from before the offending call.
type StructuralError struct {
	Entity string
	Role   string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("structural: %s (entity %q, role %q)", e.Reason, e.Entity, e.Role)
	}
	if e.Entity != "" {
		return fmt.Sprintf("structural: %s (entity %q)", e.Reason, e.Entity)
	}
	return "structural: " + e.Reason
}

func duplicateEntityError(name string) *StructuralError {
	return &StructuralError{Entity: name, Reason: "duplicate entity name"}
}

func duplicateRoleError(entity, role string) *StructuralError {
	return &StructuralError{Entity: entity, Role: role, Reason: "duplicate role in context"}
}

func cycleError(name string) *StructuralError {
	return &StructuralError{Entity: name, Reason: "parent cycle detected"}
}

// ConfigurationError wraps a failure raised while declaring policies. The
// previously published matrix and allowance index stay in effect.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
