package permission

import (
	"errors"
	"strings"
	"testing"
)

// declareCampusPolicies is the policy set shared by most tests: org admins
// hold everything, org staff read, course staff maintain their course, and
// students read it.
func declareCampusPolicies(c *Configurator) error {
	if err := c.Declare("org", "admin", "org", map[string]any{"create": true, "read": true, "update": true, "delete": true}); err != nil {
		return err
	}
	if err := c.Declare("org", "staff", "org", map[string]any{"read": true}); err != nil {
		return err
	}
	if err := c.Declare("course", "staff", "course", map[string]any{"read": true, "update": true}); err != nil {
		return err
	}
	return c.Declare("course", "student", "course", map[string]any{"read": true})
}

func newCampusEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	eng, err := New(opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	org, err := eng.Context("org", []string{"admin", "staff"})
	if err != nil {
		t.Fatalf("register org: %v", err)
	}
	course, err := eng.Context("course", []string{"staff", "student"}, org)
	if err != nil {
		t.Fatalf("register course: %v", err)
	}
	if _, err := eng.Product("module", course); err != nil {
		t.Fatalf("register module: %v", err)
	}
	if err := eng.Configure(declareCampusPolicies); err != nil {
		t.Fatalf("configure: %v", err)
	}
	return eng
}

func TestAdminAuthorityPropagatesDown(t *testing.T) {
	eng := newCampusEngine(t)
	admin := []Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}

	c1 := Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}
	if !eng.IsAllowed(admin, "read", c1) {
		t.Fatalf("expected org admin to read courses below the org")
	}
	if !eng.IsAllowed(admin, "delete", c1) {
		t.Fatalf("expected org admin to delete courses below the org")
	}

	m1 := Subject{Name: "module", Key: "m1", Ancestors: map[string]string{"org": "o1"}}
	if !eng.IsAllowed(admin, "delete", m1) {
		t.Fatalf("expected org admin authority two levels down")
	}
}

func TestStudentScopedToDeclaredActions(t *testing.T) {
	eng := newCampusEngine(t)
	student := []Membership{{ContextName: "course", ContextKey: "c1", RoleName: "student"}}

	c1 := Subject{Name: "course", Key: "c1"}
	if !eng.IsAllowed(student, "read", c1) {
		t.Fatalf("expected student to read the enrolled course")
	}
	if eng.IsAllowed(student, "update", c1) {
		t.Fatalf("expected student update denied")
	}
	if eng.IsAllowed(student, "delete", c1) {
		t.Fatalf("expected student delete denied")
	}

	m1 := Subject{Name: "module", Key: "m1", Ancestors: map[string]string{"course": "c1"}}
	if !eng.IsAllowed(student, "read", m1) {
		t.Fatalf("expected course self-policy inherited by its modules")
	}
	if eng.IsAllowed(student, "update", m1) {
		t.Fatalf("expected student module update denied")
	}
}

func TestRoleLessMemberGetsFirstRoleDefaults(t *testing.T) {
	eng := newCampusEngine(t)
	member := []Membership{{ContextName: "course", ContextKey: "c1"}}

	// the role-less slot inherits from the first declared role, course staff
	c1 := Subject{Name: "course", Key: "c1"}
	if !eng.IsAllowed(member, "read", c1) {
		t.Fatalf("expected role-less member to read the course")
	}
	if !eng.IsAllowed(member, "update", c1) {
		t.Fatalf("expected role-less member to inherit staff update")
	}
	if eng.IsAllowed(member, "delete", c1) {
		t.Fatalf("expected role-less member delete denied")
	}
}

func TestExplicitCellBeatsInheritedDefault(t *testing.T) {
	eng, err := New()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	org, _ := eng.Context("org", []string{"admin"})
	if _, err := eng.Context("course", []string{"staff"}, org); err != nil {
		t.Fatalf("register course: %v", err)
	}
	err = eng.Configure(func(c *Configurator) error {
		if err := c.Declare("org", "admin", "org", map[string]any{"read": true, "delete": true}); err != nil {
			return err
		}
		return c.Declare("org", "admin", "course", map[string]any{"read": true, "delete": false})
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}

	admin := []Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	c1 := Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}
	if !eng.IsAllowed(admin, "read", c1) {
		t.Fatalf("expected explicit read grant")
	}
	if eng.IsAllowed(admin, "delete", c1) {
		t.Fatalf("expected explicit delete deny to survive the inherited default")
	}
}

func TestLaterDeclarationWins(t *testing.T) {
	eng, err := New()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	org, _ := eng.Context("org", []string{"admin"})
	if _, err := eng.Context("course", []string{"staff"}, org); err != nil {
		t.Fatalf("register course: %v", err)
	}

	admin := []Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	c1 := Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}

	err = eng.Configure(func(c *Configurator) error {
		if err := c.Declare("org", "admin", "course", map[string]any{"read": false}); err != nil {
			return err
		}
		return c.Declare("org", "admin", "course", map[string]any{"read": true})
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if !eng.IsAllowed(admin, "read", c1) {
		t.Fatalf("expected the later declaration of the same cell to win")
	}

	err = eng.Configure(func(c *Configurator) error {
		if err := c.Declare("org", "admin", "course", map[string]any{"read": true}); err != nil {
			return err
		}
		return c.Declare("org", "admin", "course", map[string]any{"read": false})
	})
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if eng.IsAllowed(admin, "read", c1) {
		t.Fatalf("expected the later deny to win")
	}
}

func TestConfigureReplacesPriorMatrix(t *testing.T) {
	eng := newCampusEngine(t)
	admin := []Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	c1 := Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}
	if !eng.IsAllowed(admin, "read", c1) {
		t.Fatalf("expected initial grant")
	}

	// declarations never survive across calls
	if err := eng.Configure(func(c *Configurator) error { return nil }); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if eng.IsAllowed(admin, "read", c1) {
		t.Fatalf("expected empty configuration to revoke everything")
	}

	if err := eng.Configure(nil); err != nil {
		t.Fatalf("nil configure: %v", err)
	}
	if eng.IsAllowed(admin, "read", c1) {
		t.Fatalf("expected nil configuration to stay empty")
	}
}

func TestConfigureAbortKeepsPublishedMatrix(t *testing.T) {
	eng := newCampusEngine(t)
	admin := []Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	c1 := Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}

	err := eng.Configure(func(c *Configurator) error {
		if err := c.Declare("org", "admin", "course", map[string]any{"read": false}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !eng.IsAllowed(admin, "read", c1) {
		t.Fatalf("expected aborted configure to leave the prior matrix in effect")
	}
}

func TestDeclareValidation(t *testing.T) {
	eng := newCampusEngine(t)
	cases := []struct {
		name            string
		context, role   string
		subject, action string
		want            string
	}{
		{"unknown context", "nope", "admin", "org", "read", "unknown context"},
		{"product as context", "module", "admin", "org", "read", "unknown context"},
		{"unknown role", "org", "owner", "org", "read", "no role"},
		{"unknown subject", "org", "admin", "ghost", "read", "unknown subject"},
		{"empty action", "org", "admin", "org", "", "empty action"},
	}
	for _, tc := range cases {
		err := eng.Configure(func(c *Configurator) error {
			return c.Declare(tc.context, tc.role, tc.subject, map[string]any{tc.action: true})
		})
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestDeclaredValueCoercion(t *testing.T) {
	eng, err := New()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := eng.Context("org", []string{"admin"}); err != nil {
		t.Fatalf("register org: %v", err)
	}
	err = eng.Configure(func(c *Configurator) error {
		return c.Declare("org", "admin", "org", map[string]any{
			"read":   1,
			"update": "true",
			"delete": "yes",
			"create": 0,
		})
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}

	admin := []Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	o1 := Subject{Name: "org", Key: "o1"}
	if !eng.IsAllowed(admin, "read", o1) || !eng.IsAllowed(admin, "update", o1) {
		t.Fatalf("expected 1 and \"true\" to coerce to grants")
	}
	if eng.IsAllowed(admin, "delete", o1) || eng.IsAllowed(admin, "create", o1) {
		t.Fatalf("expected unrecognized and zero values to coerce to denies")
	}
}

func TestSubordinateRoleNeverGrantsUpward(t *testing.T) {
	eng := newCampusEngine(t)
	staff := []Membership{{ContextName: "course", ContextKey: "c1", RoleName: "staff"}}
	o1 := Subject{Name: "org", Key: "o1"}
	if eng.IsAllowed(staff, "read", o1) {
		t.Fatalf("expected course staff to hold no authority over the org")
	}

	// even an explicit declaration cannot turn a subordinate role into
	// authority over its own container
	eng2, err := New()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	org, _ := eng2.Context("org", []string{"admin"})
	if _, err := eng2.Context("course", []string{"staff"}, org); err != nil {
		t.Fatalf("register course: %v", err)
	}
	err = eng2.Configure(func(c *Configurator) error {
		return c.Declare("course", "staff", "org", map[string]any{"read": true})
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if eng2.IsAllowed(staff, "read", o1) {
		t.Fatalf("expected container cells for subordinate roles to be dropped")
	}
}

func TestForEachSubjectVisitsRegistrationOrder(t *testing.T) {
	eng, err := New()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	org, _ := eng.Context("org", []string{"admin"})
	course, _ := eng.Context("course", []string{"staff"}, org)
	if _, err := eng.Product("module", course); err != nil {
		t.Fatalf("register module: %v", err)
	}

	var visited []string
	err = eng.Configure(func(c *Configurator) error {
		var derr error
		c.ForEachSubject(func(s *SubjectPolicies) {
			visited = append(visited, s.SubjectName())
			if derr != nil || s.Entity().IsProduct() {
				return
			}
			derr = s.Set("org", "admin", map[string]any{"read": true})
		})
		return derr
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}

	if len(visited) != 3 || visited[0] != "org" || visited[1] != "course" || visited[2] != "module" {
		t.Fatalf("expected subjects in registration order, got %v", visited)
	}
	admin := []Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	if !eng.IsAllowed(admin, "read", Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}) {
		t.Fatalf("expected per-subject declaration to take effect")
	}
}

func TestCompiledMatrixShape(t *testing.T) {
	eng := newCampusEngine(t)
	rows := eng.AccessPolicies()
	if len(rows) != 16 {
		t.Fatalf("expected 16 compiled rows, got %d", len(rows))
	}

	byKey := make(map[string]*AccessPolicy, len(rows))
	for _, row := range rows {
		byKey[row.Key()] = row
	}

	adminOnCourse, ok := byKey["org-admin-course-null"]
	if !ok {
		t.Fatalf("expected the role-less course cell for org admins")
	}
	for _, action := range []string{"create", "read", "update", "delete"} {
		if !adminOnCourse.ActionPolicies[action] {
			t.Fatalf("expected org admin %s on course", action)
		}
	}

	studentSelf, ok := byKey["course-student-course-student"]
	if !ok {
		t.Fatalf("expected the student self cell")
	}
	if len(studentSelf.ActionPolicies) != 4 {
		t.Fatalf("expected rows densified over the course action universe, got %d actions", len(studentSelf.ActionPolicies))
	}
	if !studentSelf.ActionPolicies["read"] || studentSelf.ActionPolicies["delete"] {
		t.Fatalf("expected student read grant and delete deny")
	}

	if _, ok := byKey["org-null-org-null"]; !ok {
		t.Fatalf("expected the role-less org self cell")
	}
	for _, row := range rows {
		if row.ContextName == "course" && row.SubjectName == "org" {
			t.Fatalf("expected no cells granting course roles authority over the org")
		}
	}
}
