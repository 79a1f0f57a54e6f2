package permission

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/permission/logger"
)

// ============================================================================
// ENGINE
// ============================================================================

// Engine owns one registry and one published policy snapshot. Registration
// and Configure belong to the setup phase and serialize on an internal
// mutex. IsAllowed and GetActorPolicies read the snapshot through an atomic
// pointer without locks, so they are safe for unbounded concurrent use and
// can never observe a partially rebuilt matrix.
type Engine struct {
	mu       sync.Mutex
	registry *Registry
	compiled atomic.Pointer[snapshot]

	log       logger.Logger
	traceIDFn logger.TraceIDFunc

	membershipAdapter atomic.Pointer[MembershipAdapter]
	subjectAdapter    atomic.Pointer[SubjectAdapter]

	cache    *ristretto.Cache
	cacheTTL time.Duration
}

// New builds an engine with an empty registry and an empty published
// snapshot, so evaluation before any Configure call fails closed.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		registry:  NewRegistry(),
		log:       logger.NewNullLogger(),
		traceIDFn: defaultTraceID,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.compiled.Store(emptySnapshot())
	return e, nil
}

// Registry exposes the engine's entity registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Context registers a role-owning entity.
func (e *Engine) Context(name string, roles []string, parents ...*Entity) (*Entity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.registry.Context(name, roles, parents...)
	if err != nil {
		return nil, err
	}
	e.log.Debug("entity registered", "name", name, "kind", string(KindContext), "level", ent.level, "roles", len(roles))
	return ent, nil
}

// Product registers a role-less resource entity.
func (e *Engine) Product(name string, parents ...*Entity) (*Entity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.registry.Product(name, parents...)
	if err != nil {
		return nil, err
	}
	e.log.Debug("entity registered", "name", name, "kind", string(KindProduct), "level", ent.level)
	return ent, nil
}

// Configure runs the declaration callback against a fresh configurator,
// compiles the full decision matrix, and publishes it in one atomic swap.
// An error from the callback aborts the whole operation: the previously
// published snapshot stays in effect and ConfigurationError wraps the cause.
// Declarations never survive across calls; a no-op callback resets the
// allowance index to empty.
func (e *Engine) Configure(fn func(c *Configurator) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	trace := e.traceIDFn()
	cfg := newConfigurator(e.registry)
	if fn != nil {
		if err := fn(cfg); err != nil {
			cerr := &ConfigurationError{Err: err}
			e.log.Error("configure aborted", "trace_id", trace, "error", err.Error())
			return cerr
		}
	}

	start := time.Now()
	snap := buildAccessPolicies(e.registry, cfg.decls)
	e.compiled.Store(snap)
	if e.cache != nil {
		e.cache.Clear()
	}
	e.log.Info("policies compiled",
		"trace_id", trace,
		"entities", e.registry.Len(),
		"declarations", len(cfg.decls),
		"policies", len(snap.policies),
		"allowances", len(snap.allowance),
		"took", time.Since(start).String(),
	)
	return nil
}

// IsAllowed reports whether the memberships grant the action on the subject
// instance. It never errors; every unknown input resolves to false.
func (e *Engine) IsAllowed(memberships []Membership, action string, subject Subject) bool {
	snap := e.compiled.Load()
	if e.cache == nil {
		return evalIsAllowed(e.registry, snap, memberships, action, subject)
	}
	fp := decisionFingerprint(memberships, action, subject)
	if v, ok := e.cache.Get(fp); ok {
		if b, isBool := v.(bool); isBool {
			return b
		}
	}
	res := evalIsAllowed(e.registry, snap, memberships, action, subject)
	e.cache.SetWithTTL(fp, res, 1, e.cacheTTL)
	return res
}

// GetActorPolicies returns the actor's capability map for the subject: a
// dense action→bool entry for every action ever declared for the subject,
// plus sparse "{controller}.{action}": true entries for indirectly
// controlled entities.
func (e *Engine) GetActorPolicies(memberships []Membership, subject Subject) map[string]bool {
	return evalActorPolicies(e.registry, e.compiled.Load(), memberships, subject)
}

// AccessPolicies returns the rows of the currently published matrix.
func (e *Engine) AccessPolicies() []*AccessPolicy {
	snap := e.compiled.Load()
	if snap == nil {
		return nil
	}
	out := make([]*AccessPolicy, len(snap.policies))
	copy(out, snap.policies)
	return out
}

// Stats summarizes the registry and the published snapshot.
type Stats struct {
	Entities   int `json:"entities" yaml:"entities"`
	Contexts   int `json:"contexts" yaml:"contexts"`
	Roles      int `json:"roles" yaml:"roles"`
	Policies   int `json:"policies" yaml:"policies"`
	Allowances int `json:"allowances" yaml:"allowances"`
	Subjects   int `json:"subjects" yaml:"subjects"`
}

// Stats reports entity, role, matrix, and index sizes for the current state.
func (e *Engine) Stats() Stats {
	s := Stats{Entities: e.registry.Len()}
	for _, ent := range e.registry.ordered {
		if ent.IsContext() {
			s.Contexts++
			s.Roles += len(ent.roles)
		}
	}
	if snap := e.compiled.Load(); snap != nil {
		s.Policies = len(snap.policies)
		s.Allowances = len(snap.allowance)
		s.Subjects = len(snap.universe)
	}
	return s
}

// decisionFingerprint canonicalizes one query for the decision cache. It
// keeps the first membership per (context, key) instance, exactly as
// resolution does, then sorts the survivors so argument order cannot split
// cache entries.
func decisionFingerprint(memberships []Membership, action string, subject Subject) string {
	ordered := make([]*Membership, 0, len(memberships))
	seen := make(map[instanceKey]struct{}, len(memberships))
	for i := range memberships {
		m := &memberships[i]
		k := instanceKey{m.ContextName, m.ContextKey}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ContextName != ordered[j].ContextName {
			return ordered[i].ContextName < ordered[j].ContextName
		}
		return ordered[i].ContextKey < ordered[j].ContextKey
	})

	var b strings.Builder
	b.Grow(64 + len(memberships)*32)
	b.WriteString(subject.Name)
	b.WriteByte(0x1f)
	b.WriteString(subject.Key)
	b.WriteByte(0x1f)
	writeAncestorKeys(&b, subject.Ancestors)
	b.WriteByte(0x1f)
	b.WriteString(action)
	for _, m := range ordered {
		b.WriteByte(0x1e)
		b.WriteString(m.ContextName)
		b.WriteByte(0x1f)
		b.WriteString(m.ContextKey)
		b.WriteByte(0x1f)
		b.WriteString(m.RoleName)
		b.WriteByte(0x1f)
		writeAncestorKeys(&b, m.Ancestors)
	}
	return b.String()
}

func writeAncestorKeys(b *strings.Builder, ancestors map[string]string) {
	if len(ancestors) == 0 {
		return
	}
	names := make([]string, 0, len(ancestors))
	for name := range ancestors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(ancestors[name])
		b.WriteByte(';')
	}
}
