package permission

import "sort"

// ============================================================================
// ENTITY GRAPH
// ============================================================================

// EntityKind discriminates contexts from products
type EntityKind string

const (
	// KindContext marks an entity that owns claimable roles.
	KindContext EntityKind = "context"
	// KindProduct marks a role-less resource entity gated by ancestor contexts.
	KindProduct EntityKind = "product"
)

// Role is a named permission scope owned by exactly one context.
type Role struct {
	Name    string
	Context *Entity
}

// Entity is one node of the declared hierarchy. Relations are derived at
// registration time and never change afterwards: children, ancestor and
// descendant closures, ownership, required ancestors, and hierarchy level.
type Entity struct {
	Name string
	Kind EntityKind

	parents  []*Entity
	children []*Entity

	roles   []*Role
	roleSet map[string]*Role

	ancestors   map[string]*Entity
	descendants map[string]*Entity
	owners      map[string]*Entity
	controllers map[string]*Entity
	required    map[string]*Entity

	level     int
	sortedAnc []*Entity
}

// IsContext reports whether the entity owns roles.
func (e *Entity) IsContext() bool { return e.Kind == KindContext }

// IsProduct reports whether the entity is a role-less resource node.
func (e *Entity) IsProduct() bool { return e.Kind == KindProduct }

// Level is the lowest hierarchy level: 1 for roots, otherwise one more than
// the deepest parent.
func (e *Entity) Level() int { return e.level }

// Parents returns the direct parents in declaration order.
func (e *Entity) Parents() []*Entity {
	out := make([]*Entity, len(e.parents))
	copy(out, e.parents)
	return out
}

// Children returns the direct children in registration order.
func (e *Entity) Children() []*Entity {
	out := make([]*Entity, len(e.children))
	copy(out, e.children)
	return out
}

// Roles returns the context's roles in declaration order; empty for products.
func (e *Entity) Roles() []*Role {
	out := make([]*Role, len(e.roles))
	copy(out, e.roles)
	return out
}

// Role looks up a role by name.
func (e *Entity) Role(name string) (*Role, bool) {
	r, ok := e.roleSet[name]
	return r, ok
}

// HasRole reports whether the context declares the named role.
func (e *Entity) HasRole(name string) bool {
	_, ok := e.roleSet[name]
	return ok
}

// HasAncestor reports whether the named entity is a transitive parent.
func (e *Entity) HasAncestor(name string) bool {
	_, ok := e.ancestors[name]
	return ok
}

// HasDescendant reports whether the named entity is a transitive child.
func (e *Entity) HasDescendant(name string) bool {
	_, ok := e.descendants[name]
	return ok
}

// Ancestors returns the transitive parent closure, nearest first.
func (e *Entity) Ancestors() []*Entity {
	out := make([]*Entity, len(e.sortedAnc))
	copy(out, e.sortedAnc)
	return out
}

// DescSortedAncestors returns ancestors ordered by descending level, so the
// walk proceeds from the most specific context to the least specific one.
func (e *Entity) DescSortedAncestors() []*Entity {
	return e.Ancestors()
}

// Descendants returns the transitive child closure sorted by name.
func (e *Entity) Descendants() []*Entity {
	return sortedByName(e.descendants)
}

// Owners returns the contexts whose roles gate this entity.
func (e *Entity) Owners() []*Entity {
	return sortedByName(e.owners)
}

// Controllers returns every entity this context gates, at any depth.
func (e *Entity) Controllers() []*Entity {
	return sortedByName(e.controllers)
}

// RequiredAncestors returns the ancestors reachable through every parent
// branch. Consumed by hierarchy rendering, not by evaluation.
func (e *Entity) RequiredAncestors() []*Entity {
	return sortedByName(e.required)
}

func sortedByName(m map[string]*Entity) []*Entity {
	out := make([]*Entity, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ============================================================================
// REGISTRY
// ============================================================================

// Registry owns every entity of one engine instance. It is not safe for
// concurrent mutation; registration belongs to the setup phase.
type Registry struct {
	entities map[string]*Entity
	ordered  []*Entity
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*Entity)}
}

// Context registers a role-owning entity under the given parents.
func (r *Registry) Context(name string, roles []string, parents ...*Entity) (*Entity, error) {
	return r.register(name, KindContext, roles, parents)
}

// Product registers a role-less resource entity under the given parents.
func (r *Registry) Product(name string, parents ...*Entity) (*Entity, error) {
	return r.register(name, KindProduct, nil, parents)
}

// Entity looks up a registered entity by name.
func (r *Registry) Entity(name string) (*Entity, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// Entities returns all entities in registration order.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Contexts returns the role-owning entities in registration order.
func (r *Registry) Contexts() []*Entity {
	out := make([]*Entity, 0, len(r.ordered))
	for _, e := range r.ordered {
		if e.IsContext() {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of registered entities.
func (r *Registry) Len() int { return len(r.ordered) }

// register validates the whole declaration before touching shared state, so
// a failed call leaves the registry and every prior entity untouched.
func (r *Registry) register(name string, kind EntityKind, roleNames []string, parents []*Entity) (*Entity, error) {
	if name == "" {
		return nil, &StructuralError{Reason: "empty entity name"}
	}
	if _, exists := r.entities[name]; exists {
		return nil, duplicateEntityError(name)
	}

	seenRoles := make(map[string]struct{}, len(roleNames))
	for _, rn := range roleNames {
		if rn == "" {
			return nil, &StructuralError{Entity: name, Reason: "empty role name"}
		}
		if _, dup := seenRoles[rn]; dup {
			return nil, duplicateRoleError(name, rn)
		}
		seenRoles[rn] = struct{}{}
	}

	uniqueParents := make([]*Entity, 0, len(parents))
	seenParents := make(map[string]struct{}, len(parents))
	for _, p := range parents {
		if p == nil {
			return nil, &StructuralError{Entity: name, Reason: "nil parent"}
		}
		if registered, ok := r.entities[p.Name]; !ok || registered != p {
			return nil, &StructuralError{Entity: name, Reason: "parent not registered: " + p.Name}
		}
		if _, dup := seenParents[p.Name]; dup {
			continue
		}
		seenParents[p.Name] = struct{}{}
		uniqueParents = append(uniqueParents, p)
	}

	ancestors, err := collectAncestors(name, uniqueParents)
	if err != nil {
		return nil, err
	}

	e := &Entity{
		Name:        name,
		Kind:        kind,
		parents:     uniqueParents,
		roleSet:     make(map[string]*Role, len(roleNames)),
		ancestors:   ancestors,
		descendants: make(map[string]*Entity),
		owners:      make(map[string]*Entity),
		controllers: make(map[string]*Entity),
		required:    requiredAncestors(uniqueParents),
		level:       entityLevel(uniqueParents),
		sortedAnc:   descSorted(ancestors),
	}
	for _, rn := range roleNames {
		role := &Role{Name: rn, Context: e}
		e.roles = append(e.roles, role)
		e.roleSet[rn] = role
	}

	r.entities[name] = e
	r.ordered = append(r.ordered, e)

	visited := make(map[string]struct{})
	for _, p := range uniqueParents {
		p.children = append(p.children, e)
		registerControlled(p, e, visited)
	}
	for _, a := range ancestors {
		a.descendants[name] = e
	}
	return e, nil
}

// collectAncestors walks parent edges with an explicit worklist. Reaching the
// entity under registration means the declared edges loop.
func collectAncestors(name string, parents []*Entity) (map[string]*Entity, error) {
	anc := make(map[string]*Entity, len(parents)*2)
	work := make([]*Entity, len(parents))
	copy(work, parents)
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]
		if p.Name == name {
			return nil, cycleError(name)
		}
		if _, seen := anc[p.Name]; seen {
			continue
		}
		anc[p.Name] = p
		work = append(work, p.parents...)
	}
	return anc, nil
}

// registerControlled records ownership. A context parent absorbs the entity;
// a product parent forwards it up its own branches until a context takes it.
func registerControlled(parent, e *Entity, visited map[string]struct{}) {
	if _, seen := visited[parent.Name]; seen {
		return
	}
	visited[parent.Name] = struct{}{}
	if parent.IsContext() {
		parent.controllers[e.Name] = e
		e.owners[parent.Name] = parent
		return
	}
	for _, pp := range parent.parents {
		registerControlled(pp, e, visited)
	}
}

// requiredAncestors keeps only ancestors unavoidable along every parent
// branch: the intersection over parents of each parent's required-or-self set.
func requiredAncestors(parents []*Entity) map[string]*Entity {
	req := make(map[string]*Entity)
	if len(parents) == 0 {
		return req
	}
	first := parents[0]
	req[first.Name] = first
	for n, a := range first.required {
		req[n] = a
	}
	for _, p := range parents[1:] {
		keep := make(map[string]*Entity, len(req))
		if _, ok := req[p.Name]; ok {
			keep[p.Name] = p
		}
		for n, a := range p.required {
			if _, ok := req[n]; ok {
				keep[n] = a
			}
		}
		req = keep
	}
	return req
}

func entityLevel(parents []*Entity) int {
	level := 1
	for _, p := range parents {
		if p.level+1 > level {
			level = p.level + 1
		}
	}
	return level
}

// descSorted orders ancestors by descending level; level ties break by name
// so walks stay deterministic.
func descSorted(ancestors map[string]*Entity) []*Entity {
	out := make([]*Entity, 0, len(ancestors))
	for _, a := range ancestors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].level != out[j].level {
			return out[i].level > out[j].level
		}
		return out[i].Name < out[j].Name
	})
	return out
}
