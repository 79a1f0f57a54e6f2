package permission

import "github.com/oarkflow/permission/utils"

// ============================================================================
// PERMISSION EVALUATOR
// ============================================================================

// Membership is a runtime fact: the actor holds RoleName (empty = role-less)
// in the context instance identified by (ContextName, ContextKey). Ancestors
// disambiguates which instance of each ancestor context applies when the
// same context type recurs at multiple hierarchy positions.
type Membership struct {
	ContextName string            `json:"context_name" yaml:"context_name"`
	ContextKey  string            `json:"context_key" yaml:"context_key"`
	RoleName    string            `json:"role_name,omitempty" yaml:"role_name,omitempty"`
	Ancestors   map[string]string `json:"ancestors,omitempty" yaml:"ancestors,omitempty"`
}

// Subject is the resource instance being checked.
type Subject struct {
	Name      string            `json:"name" yaml:"name"`
	Key       string            `json:"key" yaml:"key"`
	Ancestors map[string]string `json:"ancestors,omitempty" yaml:"ancestors,omitempty"`
}

type instanceKey struct {
	name string
	key  string
}

// resolveChain walks the subject's ancestors nearest-first and collects the
// applicable memberships. Instance keys come from the subject's own ancestor
// map first, then from keys discovered through nearer matched memberships;
// the first discovery of a key is never overwritten. The returned role is
// the direct membership's role, empty when the subject has none.
func resolveChain(ent *Entity, memberships []Membership, subject Subject) ([]*Membership, string) {
	byInstance := make(map[instanceKey]*Membership, len(memberships))
	for i := range memberships {
		m := &memberships[i]
		k := instanceKey{m.ContextName, m.ContextKey}
		if _, dup := byInstance[k]; !dup {
			byInstance[k] = m
		}
	}

	chain := make([]*Membership, 0, len(ent.sortedAnc)+1)
	discovered := make(map[string]string)
	directRole := ""
	if direct, ok := byInstance[instanceKey{subject.Name, subject.Key}]; ok {
		chain = append(chain, direct)
		directRole = direct.RoleName
		mergeAncestorKeys(discovered, direct.Ancestors)
	}

	for _, anc := range ent.sortedAnc {
		key := subject.Ancestors[anc.Name]
		if key == "" {
			key = discovered[anc.Name]
		}
		if key == "" {
			continue
		}
		m, ok := byInstance[instanceKey{anc.Name, key}]
		if !ok {
			continue
		}
		chain = append(chain, m)
		mergeAncestorKeys(discovered, m.Ancestors)
	}
	return chain, directRole
}

func mergeAncestorKeys(dst map[string]string, src map[string]string) {
	for name, key := range src {
		if key == "" {
			continue
		}
		if _, known := dst[name]; !known {
			dst[name] = key
		}
	}
}

func accessPolicyKeys(chain []*Membership, subjectName, directRole string) []string {
	keys := make([]string, 0, len(chain))
	for _, m := range chain {
		keys = append(keys, utils.PolicyKey(m.ContextName, m.RoleName, subjectName, directRole))
	}
	return keys
}

func intersects(set map[string]struct{}, keys []string) bool {
	if len(set) == 0 {
		return false
	}
	for _, k := range keys {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}

// evalIsAllowed answers whether any resolved membership grants the action on
// the subject. Unknown subjects, empty chains, and never-declared actions
// all resolve to false.
func evalIsAllowed(reg *Registry, snap *snapshot, memberships []Membership, action string, subject Subject) bool {
	if snap == nil {
		return false
	}
	allowed, ok := snap.allowance[utils.AllowanceKey(subject.Name, action)]
	if !ok || len(allowed) == 0 {
		return false
	}
	ent, ok := reg.Entity(subject.Name)
	if !ok {
		return false
	}
	chain, directRole := resolveChain(ent, memberships, subject)
	return intersects(allowed, accessPolicyKeys(chain, subject.Name, directRole))
}

// evalActorPolicies reports the full capability map of the actor on the
// subject: one dense entry per action ever declared for the subject, plus a
// sparse "{controller}.{action}": true entry for every action the resolved
// chain grants on an entity the subject controls.
func evalActorPolicies(reg *Registry, snap *snapshot, memberships []Membership, subject Subject) map[string]bool {
	result := make(map[string]bool)
	if snap == nil {
		return result
	}
	ent, ok := reg.Entity(subject.Name)
	if !ok {
		return result
	}
	chain, directRole := resolveChain(ent, memberships, subject)
	keys := accessPolicyKeys(chain, subject.Name, directRole)

	for _, action := range snap.universe[subject.Name] {
		result[action] = intersects(snap.allowance[utils.AllowanceKey(subject.Name, action)], keys)
	}

	for _, controlled := range ent.controllers {
		ctlKeys := make([]string, 0, len(chain))
		for _, m := range chain {
			ctlKeys = append(ctlKeys, utils.PolicyKey(m.ContextName, m.RoleName, controlled.Name, ""))
		}
		for _, action := range snap.universe[controlled.Name] {
			if intersects(snap.allowance[utils.AllowanceKey(controlled.Name, action)], ctlKeys) {
				result[utils.ControllerActionKey(controlled.Name, action)] = true
			}
		}
	}
	return result
}
