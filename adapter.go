package permission

// ============================================================================
// ADAPTERS
// ============================================================================

// MembershipAdapter converts an application-specific membership record into
// the canonical Membership shape. Adapters must be pure conversions.
type MembershipAdapter func(raw any) (Membership, error)

// SubjectAdapter converts an application-specific resource record into the
// canonical Subject shape.
type SubjectAdapter func(raw any) (Subject, error)

// UseMembershipAdapter installs the membership adapter, replacing any prior
// one. Passing nil uninstalls it.
func (e *Engine) UseMembershipAdapter(a MembershipAdapter) {
	if a == nil {
		e.membershipAdapter.Store(nil)
		return
	}
	e.membershipAdapter.Store(&a)
}

// UseSubjectAdapter installs the subject adapter, replacing any prior one.
// Passing nil uninstalls it.
func (e *Engine) UseSubjectAdapter(a SubjectAdapter) {
	if a == nil {
		e.subjectAdapter.Store(nil)
		return
	}
	e.subjectAdapter.Store(&a)
}

// IsAllowedRaw adapts raw membership and subject records before evaluation.
// Any adapter failure makes the whole check fail closed.
func (e *Engine) IsAllowedRaw(rawMemberships []any, action string, rawSubject any) bool {
	memberships, subject, ok := e.adaptInput(rawMemberships, rawSubject)
	if !ok {
		return false
	}
	return e.IsAllowed(memberships, action, subject)
}

// GetActorPoliciesRaw adapts raw input before resolving the capability map.
// Any adapter failure yields an empty map.
func (e *Engine) GetActorPoliciesRaw(rawMemberships []any, rawSubject any) map[string]bool {
	memberships, subject, ok := e.adaptInput(rawMemberships, rawSubject)
	if !ok {
		return map[string]bool{}
	}
	return e.GetActorPolicies(memberships, subject)
}

func (e *Engine) adaptInput(rawMemberships []any, rawSubject any) ([]Membership, Subject, bool) {
	memberships := make([]Membership, 0, len(rawMemberships))
	adaptM := e.membershipAdapter.Load()
	for _, raw := range rawMemberships {
		switch {
		case adaptM != nil:
			m, err := (*adaptM)(raw)
			if err != nil {
				e.log.Debug("membership adapter failed", "error", err.Error())
				return nil, Subject{}, false
			}
			memberships = append(memberships, m)
		default:
			m, isMembership := raw.(Membership)
			if !isMembership {
				e.log.Debug("raw membership without adapter")
				return nil, Subject{}, false
			}
			memberships = append(memberships, m)
		}
	}

	adaptS := e.subjectAdapter.Load()
	if adaptS != nil {
		s, err := (*adaptS)(rawSubject)
		if err != nil {
			e.log.Debug("subject adapter failed", "error", err.Error())
			return nil, Subject{}, false
		}
		return memberships, s, true
	}
	s, isSubject := rawSubject.(Subject)
	if !isSubject {
		e.log.Debug("raw subject without adapter")
		return nil, Subject{}, false
	}
	return memberships, s, true
}
