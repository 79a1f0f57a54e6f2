package permission

import (
	"fmt"
	"sort"

	"github.com/oarkflow/permission/utils"
)

// ============================================================================
// POLICY COMPILER
// ============================================================================

// AccessPolicy is one cell of the compiled decision matrix. Role slots carry
// the literal "null" when the cell targets the role-less case.
type AccessPolicy struct {
	ContextName     string          `json:"context_name" yaml:"context_name"`
	ContextRoleName string          `json:"context_role_name" yaml:"context_role_name"`
	SubjectName     string          `json:"subject_name" yaml:"subject_name"`
	SubjectRoleName string          `json:"subject_role_name" yaml:"subject_role_name"`
	ActionPolicies  map[string]bool `json:"action_policies" yaml:"action_policies"`
}

// Key renders the cell as its compiled policy key.
func (p *AccessPolicy) Key() string {
	return utils.PolicyKey(p.ContextName, p.ContextRoleName, p.SubjectName, p.SubjectRoleName)
}

// declaration is one explicit policy statement, recorded in call order.
type declaration struct {
	context *Entity
	role    string
	subject *Entity
	actions map[string]bool
	self    bool
}

// Configurator records policy declarations for one Configure call. Every
// statement is validated against the registry when recorded, so compilation
// itself cannot fail halfway through.
type Configurator struct {
	registry *Registry
	decls    []declaration
}

func newConfigurator(r *Registry) *Configurator {
	return &Configurator{registry: r}
}

// Declare records the action map granted by (contextName, roleName) on
// subjectName. Values may be bool, ints (0/1), or the strings "true"/"1";
// anything else coerces to false. Declaring the same cell twice keeps the
// later map.
func (c *Configurator) Declare(contextName, roleName, subjectName string, actions map[string]any) error {
	ctx, ok := c.registry.Entity(contextName)
	if !ok || !ctx.IsContext() {
		return fmt.Errorf("declare: unknown context %q", contextName)
	}
	if !ctx.HasRole(roleName) {
		return fmt.Errorf("declare: context %q has no role %q", contextName, roleName)
	}
	subject, ok := c.registry.Entity(subjectName)
	if !ok {
		return fmt.Errorf("declare: unknown subject %q", subjectName)
	}
	coerced := make(map[string]bool, len(actions))
	for action, v := range actions {
		if action == "" {
			return fmt.Errorf("declare: empty action name for context %q", contextName)
		}
		coerced[action] = coerceActionValue(v)
	}
	c.decls = append(c.decls, declaration{
		context: ctx,
		role:    roleName,
		subject: subject,
		actions: coerced,
		self:    ctx == subject,
	})
	return nil
}

// ForEachSubject visits every registered entity in registration order,
// presenting each as the subject of subsequent Set calls.
func (c *Configurator) ForEachSubject(fn func(s *SubjectPolicies)) {
	if fn == nil {
		return
	}
	for _, e := range c.registry.ordered {
		fn(&SubjectPolicies{configurator: c, subject: e})
	}
}

// SubjectPolicies is the per-subject declaration view used inside
// ForEachSubject.
type SubjectPolicies struct {
	configurator *Configurator
	subject      *Entity
}

// SubjectName returns the name of the subject this view declares for.
func (s *SubjectPolicies) SubjectName() string { return s.subject.Name }

// Entity returns the subject entity.
func (s *SubjectPolicies) Entity() *Entity { return s.subject }

// Set declares the action map granted by (contextName, roleName) on this
// subject.
func (s *SubjectPolicies) Set(contextName, roleName string, actions map[string]any) error {
	return s.configurator.Declare(contextName, roleName, s.subject.Name, actions)
}

func coerceActionValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t == "true" || t == "1"
	default:
		return false
	}
}

// ============================================================================
// MATRIX BUILD
// ============================================================================

// cellKey addresses one declared cell. Role slots hold the literal "null"
// for the role-less case, matching the compiled key format.
type cellKey struct {
	ctx      string
	ctxRole  string
	subject  string
	subjRole string
}

type snapshot struct {
	policies  []*AccessPolicy
	allowance map[string]map[string]struct{}
	universe  map[string][]string
}

func emptySnapshot() *snapshot {
	return &snapshot{
		allowance: make(map[string]map[string]struct{}),
		universe:  make(map[string][]string),
	}
}

// buildAccessPolicies compiles the recorded declarations into a fresh
// snapshot: explicit cells first, then deterministic default propagation,
// then the dense enumeration feeding the allowance index. Prior compiled
// state is never touched; the caller publishes the result atomically.
func buildAccessPolicies(reg *Registry, decls []declaration) *snapshot {
	table := make(map[cellKey]map[string]bool)

	// Explicit tier. A non-self declaration covers every subject-role slot;
	// a self declaration covers only the matching pair.
	for _, d := range decls {
		if d.self {
			k := cellKey{d.context.Name, d.role, d.subject.Name, d.role}
			table[k] = cloneActions(d.actions)
			continue
		}
		for _, slot := range subjectRoleSlots(d.subject) {
			k := cellKey{d.context.Name, d.role, d.subject.Name, slot}
			table[k] = cloneActions(d.actions)
		}
	}

	// Default tier, filling only absent cells. Subjects run in registration
	// order and roles in declaration order, so the outcome does not depend
	// on the order declarations were made in.
	for _, s := range reg.ordered {
		for _, role := range s.roles {
			self := cellKey{s.Name, role.Name, s.Name, role.Name}
			m, ok := table[self]
			if !ok {
				continue
			}
			propagateUpward(table, s, role.Name, m)
			fillIfAbsent(table, cellKey{s.Name, utils.NullRole, s.Name, utils.NullRole}, m)
			propagateDownward(table, s, role.Name, m)
		}
	}

	universe := collectUniverse(table)
	snap := &snapshot{
		allowance: make(map[string]map[string]struct{}),
		universe:  universe,
	}

	for _, ctx := range reg.ordered {
		if !ctx.IsContext() {
			continue
		}
		for _, role := range ctx.roles {
			for _, subject := range reg.ordered {
				if subject.HasDescendant(ctx.Name) {
					// A role in a subordinate context never grants authority
					// over its own container.
					continue
				}
				if ctx == subject {
					emitCell(snap, table, cellKey{ctx.Name, role.Name, subject.Name, role.Name})
					continue
				}
				for _, slot := range subjectRoleSlots(subject) {
					emitCell(snap, table, cellKey{ctx.Name, role.Name, subject.Name, slot})
				}
			}
		}
		nullSelf := cellKey{ctx.Name, utils.NullRole, ctx.Name, utils.NullRole}
		if _, ok := table[nullSelf]; ok {
			emitCell(snap, table, nullSelf)
		}
	}
	return snap
}

// propagateUpward copies a self-policy to the equivalent role on every
// ancestor context that declares it.
func propagateUpward(table map[cellKey]map[string]bool, s *Entity, role string, m map[string]bool) {
	for _, anc := range s.sortedAnc {
		if !anc.IsContext() || !anc.HasRole(role) {
			continue
		}
		for _, slot := range subjectRoleSlots(s) {
			fillIfAbsent(table, cellKey{anc.Name, role, s.Name, slot}, m)
		}
	}
}

// propagateDownward makes a context's self-policy the inherited default for
// every descendant that has not declared otherwise.
func propagateDownward(table map[cellKey]map[string]bool, s *Entity, role string, m map[string]bool) {
	for _, desc := range s.descendants {
		for _, slot := range subjectRoleSlots(desc) {
			fillIfAbsent(table, cellKey{s.Name, role, desc.Name, slot}, m)
		}
	}
}

func fillIfAbsent(table map[cellKey]map[string]bool, k cellKey, m map[string]bool) {
	if _, ok := table[k]; ok {
		return
	}
	table[k] = cloneActions(m)
}

// subjectRoleSlots lists the subject-role dimension of a cell: each declared
// role plus the role-less slot.
func subjectRoleSlots(e *Entity) []string {
	slots := make([]string, 0, len(e.roles)+1)
	for _, r := range e.roles {
		slots = append(slots, r.Name)
	}
	return append(slots, utils.NullRole)
}

// collectUniverse gathers, per subject, every action name seen in any cell
// targeting it, sorted for deterministic output.
func collectUniverse(table map[cellKey]map[string]bool) map[string][]string {
	sets := make(map[string]map[string]struct{})
	for k, actions := range table {
		set, ok := sets[k.subject]
		if !ok {
			set = make(map[string]struct{})
			sets[k.subject] = set
		}
		for action := range actions {
			set[action] = struct{}{}
		}
	}
	universe := make(map[string][]string, len(sets))
	for subject, set := range sets {
		actions := make([]string, 0, len(set))
		for action := range set {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		universe[subject] = actions
	}
	return universe
}

// emitCell records one matrix row, densified over the subject's action
// universe, and indexes every true outcome.
func emitCell(snap *snapshot, table map[cellKey]map[string]bool, k cellKey) {
	declared := table[k]
	actions := make(map[string]bool, len(snap.universe[k.subject]))
	for _, action := range snap.universe[k.subject] {
		actions[action] = declared[action]
	}
	row := &AccessPolicy{
		ContextName:     k.ctx,
		ContextRoleName: k.ctxRole,
		SubjectName:     k.subject,
		SubjectRoleName: k.subjRole,
		ActionPolicies:  actions,
	}
	snap.policies = append(snap.policies, row)

	key := row.Key()
	for action, allowed := range actions {
		if !allowed {
			continue
		}
		ak := utils.AllowanceKey(k.subject, action)
		set, ok := snap.allowance[ak]
		if !ok {
			set = make(map[string]struct{})
			snap.allowance[ak] = set
		}
		set[key] = struct{}{}
	}
}

func cloneActions(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
