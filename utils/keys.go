package utils

import "strings"

// NullRole is the literal slot used in compiled keys when a membership or
// policy cell carries no role.
const NullRole = "null"

// RoleOrNull maps an empty role name to the NullRole slot.
func RoleOrNull(role string) string {
	if role == "" {
		return NullRole
	}
	return role
}

// PolicyKey builds the compiled policy key
// "{context}-{contextRole}-{subject}-{subjectRole}". Empty roles take the
// NullRole slot.
func PolicyKey(contextName, contextRole, subjectName, subjectRole string) string {
	contextRole = RoleOrNull(contextRole)
	subjectRole = RoleOrNull(subjectRole)
	var b strings.Builder
	b.Grow(len(contextName) + len(contextRole) + len(subjectName) + len(subjectRole) + 3)
	b.WriteString(contextName)
	b.WriteByte('-')
	b.WriteString(contextRole)
	b.WriteByte('-')
	b.WriteString(subjectName)
	b.WriteByte('-')
	b.WriteString(subjectRole)
	return b.String()
}

// AllowanceKey builds the allowance index key "{subject}-{action}".
func AllowanceKey(subjectName, action string) string {
	var b strings.Builder
	b.Grow(len(subjectName) + len(action) + 1)
	b.WriteString(subjectName)
	b.WriteByte('-')
	b.WriteString(action)
	return b.String()
}

// ControllerActionKey builds the "{controller}.{action}" key reported by
// actor-policy queries for indirectly controlled entities.
func ControllerActionKey(controllerName, action string) string {
	var b strings.Builder
	b.Grow(len(controllerName) + len(action) + 1)
	b.WriteString(controllerName)
	b.WriteByte('.')
	b.WriteString(action)
	return b.String()
}
