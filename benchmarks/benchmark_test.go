package benchmark

import (
	"testing"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/oarkflow/permission"
	"github.com/oarkflow/permission/logger"
)

func setupEngine(b *testing.B, opts ...permission.Option) *permission.Engine {
	b.Helper()
	opts = append(opts, permission.WithLogger(logger.NewNullLogger()))
	engine, err := permission.New(opts...)
	if err != nil {
		b.Fatalf("new engine: %v", err)
	}

	org, err := engine.Context("org", []string{"admin", "staff"})
	if err != nil {
		b.Fatalf("register org: %v", err)
	}
	course, err := engine.Context("course", []string{"staff", "student"}, org)
	if err != nil {
		b.Fatalf("register course: %v", err)
	}
	if _, err := engine.Product("module", course); err != nil {
		b.Fatalf("register module: %v", err)
	}

	err = engine.Configure(func(c *permission.Configurator) error {
		if err := c.Declare("org", "admin", "org", map[string]any{"read": true, "write": true, "delete": true}); err != nil {
			return err
		}
		if err := c.Declare("course", "staff", "course", map[string]any{"read": true, "write": true}); err != nil {
			return err
		}
		if err := c.Declare("course", "student", "course", map[string]any{"read": true}); err != nil {
			return err
		}
		return c.Declare("course", "staff", "module", map[string]any{"grade": true})
	})
	if err != nil {
		b.Fatalf("configure: %v", err)
	}
	return engine
}

func BenchmarkPermissionIsAllowed(b *testing.B) {
	engine := setupEngine(b)

	memberships := []permission.Membership{{ContextName: "course", ContextKey: "c1", RoleName: "student"}}
	subject := permission.Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = engine.IsAllowed(memberships, "read", subject)
	}
}

func BenchmarkPermissionIsAllowedAncestors(b *testing.B) {
	engine := setupEngine(b)

	// role held on the org, evaluated two levels down on a module instance
	memberships := []permission.Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	subject := permission.Subject{
		Name:      "module",
		Key:       "m1",
		Ancestors: map[string]string{"course": "c1", "org": "o1"},
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = engine.IsAllowed(memberships, "read", subject)
	}
}

func BenchmarkPermissionIsAllowedCached(b *testing.B) {
	engine := setupEngine(b, permission.WithDecisionCache(1<<14, 1<<20, 64, time.Minute))

	memberships := []permission.Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	subject := permission.Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = engine.IsAllowed(memberships, "read", subject)
	}
}

func BenchmarkPermissionActorPolicies(b *testing.B) {
	engine := setupEngine(b)

	memberships := []permission.Membership{{ContextName: "course", ContextKey: "c1", RoleName: "staff"}}
	subject := permission.Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = engine.GetActorPolicies(memberships, subject)
	}
}

func BenchmarkCasbinRBAC(b *testing.B) {
	modelText := `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

	m, _ := model.NewModelFromString(modelText)
	e, _ := casbin.NewEnforcer(m)
	_, _ = e.AddPolicy("student", "course", "read")
	_, _ = e.AddGroupingPolicy("alice", "student")

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = e.Enforce("alice", "course", "read")
	}
}

func BenchmarkCasbinRBACWithDomains(b *testing.B) {
	modelText := `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && r.obj == p.obj && r.act == p.act
`

	m, _ := model.NewModelFromString(modelText)
	e, _ := casbin.NewEnforcer(m)
	_, _ = e.AddPolicy("admin", "o1", "course", "read")
	_, _ = e.AddGroupingPolicy("alice", "admin", "o1")

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = e.Enforce("alice", "o1", "course", "read")
	}
}
