package permission

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func campusDocument() *Config {
	return NewConfigBuilder().
		Name("campus").
		Description("study hierarchy").
		AddContext("org", []string{"admin", "staff"}).
		AddContext("course", []string{"staff", "student"}, "org").
		AddProduct("module", "course").
		Allow("org", "admin", "org", "create", "read", "update", "delete").
		Allow("org", "staff", "org", "read").
		Allow("course", "staff", "course", "read", "update").
		Allow("course", "student", "course", "read").
		Build()
}

func TestConfigFormatsProduceSameDecisions(t *testing.T) {
	cfg := campusDocument()
	dir := t.TempDir()
	admin := []Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	student := []Membership{{ContextName: "course", ContextKey: "c1", RoleName: "student"}}
	c1 := Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}

	for _, name := range []string{"campus.yaml", "campus.json", "campus.permbin", "campus.pdsl"} {
		path := filepath.Join(dir, name)
		if err := SaveConfigFile(path, cfg); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
		loaded, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if loaded.Metadata.Name != "campus" {
			t.Fatalf("%s: expected metadata to survive, got %q", name, loaded.Metadata.Name)
		}
		eng, err := NewEngineFromConfig(loaded)
		if err != nil {
			t.Fatalf("engine from %s: %v", name, err)
		}
		if !eng.IsAllowed(admin, "delete", c1) {
			t.Fatalf("%s: expected admin delete grant", name)
		}
		if eng.IsAllowed(student, "delete", c1) {
			t.Fatalf("%s: expected student delete denied", name)
		}
	}
}

func TestUnsupportedConfigExtension(t *testing.T) {
	dir := t.TempDir()
	if err := SaveConfigFile(filepath.Join(dir, "campus.toml"), campusDocument()); err == nil {
		t.Fatalf("expected unsupported save extension rejected")
	}
	if _, err := LoadConfigFile(filepath.Join(dir, "campus.toml")); err == nil {
		t.Fatalf("expected unsupported load extension rejected")
	}
}

func TestBinaryConfigHeaderValidation(t *testing.T) {
	if _, err := DecodeBinaryConfig(nil); err == nil {
		t.Fatalf("expected empty input rejected")
	}
	if _, err := DecodeBinaryConfig([]byte{0xFF, 0xFF, 0x01, 0x00, 0x01, 0x00}); err == nil || !strings.Contains(err.Error(), "magic") {
		t.Fatalf("expected invalid magic rejected, got %v", err)
	}

	data, err := EncodeBinaryConfig(campusDocument())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	bad := append([]byte{}, data...)
	bad[2] = 0x09
	if _, err := DecodeBinaryConfig(bad); err == nil || !strings.Contains(err.Error(), "protocol version") {
		t.Fatalf("expected unsupported protocol version rejected, got %v", err)
	}
	if _, err := DecodeBinaryConfig(data[:len(data)-3]); err == nil {
		t.Fatalf("expected truncated section rejected")
	}
}

func TestBinaryConfigSkipsUnknownSections(t *testing.T) {
	data, err := EncodeBinaryConfig(campusDocument())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// a section tag from a future writer, four payload bytes
	extended := append([]byte{}, data...)
	extended = append(extended, 0x7F, 0x04, 0x00, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF)

	cfg, err := DecodeBinaryConfig(extended)
	if err != nil {
		t.Fatalf("decode with unknown section: %v", err)
	}
	if len(cfg.Entities) != 3 || len(cfg.Policies) != 4 {
		t.Fatalf("expected known sections intact, got %d entities %d policies", len(cfg.Entities), len(cfg.Policies))
	}
}

func TestConfigValidateRejectsDefects(t *testing.T) {
	ctxEntity := EntityConfig{Name: "org", Kind: "context", Roles: []string{"admin"}}
	cases := []struct {
		name string
		cfg  *Config
		want string
	}{
		{"empty name", &Config{Entities: []EntityConfig{{Kind: "context"}}}, "empty entity name"},
		{"bad kind", &Config{Entities: []EntityConfig{{Name: "org", Kind: "tenant"}}}, "unknown entity kind"},
		{"product with roles", &Config{Entities: []EntityConfig{{Name: "m", Kind: "product", Roles: []string{"r"}}}}, "product declares roles"},
		{"duplicate entity", &Config{Entities: []EntityConfig{ctxEntity, ctxEntity}}, "duplicate entity name"},
		{"unknown parent", &Config{Entities: []EntityConfig{{Name: "course", Kind: "context", Roles: []string{"staff"}, Parents: []string{"ghost"}}}}, "unknown parent"},
		{"policy unknown context", &Config{Entities: []EntityConfig{ctxEntity}, Policies: []PolicyConfig{{Context: "nope", Role: "admin", Subject: "org"}}}, "unknown context"},
		{"policy unknown role", &Config{Entities: []EntityConfig{ctxEntity}, Policies: []PolicyConfig{{Context: "org", Role: "owner", Subject: "org"}}}, "unknown role"},
		{"policy unknown subject", &Config{Entities: []EntityConfig{ctxEntity}, Policies: []PolicyConfig{{Context: "org", Role: "admin", Subject: "ghost"}}}, "unknown subject"},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
	if err := campusDocument().Validate(); err != nil {
		t.Fatalf("expected valid document accepted: %v", err)
	}
}

func TestApplyOrdersEntitiesByDependency(t *testing.T) {
	// children listed before their parents
	cfg := &Config{
		Version: 1,
		Entities: []EntityConfig{
			{Name: "module", Kind: "product", Parents: []string{"course"}},
			{Name: "course", Kind: "context", Roles: []string{"student"}, Parents: []string{"org"}},
			{Name: "org", Kind: "context", Roles: []string{"admin"}},
		},
		Policies: []PolicyConfig{
			{Context: "org", Role: "admin", Subject: "org", Actions: ActionValues{"read": true}},
		},
	}
	eng, err := NewEngineFromConfig(cfg)
	if err != nil {
		t.Fatalf("engine from config: %v", err)
	}
	module, ok := eng.Registry().Entity("module")
	if !ok || module.Level() != 3 {
		t.Fatalf("expected module registered at level 3")
	}
	admin := []Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	if !eng.IsAllowed(admin, "read", Subject{Name: "course", Key: "c1", Ancestors: map[string]string{"org": "o1"}}) {
		t.Fatalf("expected inherited admin read")
	}
}

func TestApplyDetectsParentCycle(t *testing.T) {
	cfg := &Config{
		Entities: []EntityConfig{
			{Name: "a", Kind: "context", Roles: []string{"r"}, Parents: []string{"b"}},
			{Name: "b", Kind: "context", Roles: []string{"r"}, Parents: []string{"a"}},
		},
	}
	_, err := NewEngineFromConfig(cfg)
	var serr *StructuralError
	if !errors.As(err, &serr) || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected parent cycle detected, got %v", err)
	}
}

func TestDocumentActionCoercion(t *testing.T) {
	yamlDoc := []byte(`
version: 1
entities:
  - name: org
    kind: context
    roles: [admin]
policies:
  - context: org
    role: admin
    subject: org
    actions:
      read: 1
      update: "true"
      delete: 0
      create: "yes"
`)
	cfg, err := ParseYAMLConfig(yamlDoc)
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	actions := cfg.Policies[0].Actions
	if !actions["read"] || !actions["update"] || actions["delete"] || actions["create"] {
		t.Fatalf("expected yaml coercion read/update on, delete/create off, got %v", actions)
	}

	jsonDoc := []byte(`{
  "version": 1,
  "entities": [{"name": "org", "kind": "context", "roles": ["admin"]}],
  "policies": [{"context": "org", "role": "admin", "subject": "org", "actions": {"read": 1, "update": "1", "delete": false}}]
}`)
	cfg, err = ParseJSONConfig(jsonDoc)
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	actions = cfg.Policies[0].Actions
	if !actions["read"] || !actions["update"] || actions["delete"] {
		t.Fatalf("expected json coercion read/update on, delete off, got %v", actions)
	}

	eng, err := NewEngineFromConfig(cfg)
	if err != nil {
		t.Fatalf("engine from config: %v", err)
	}
	admin := []Membership{{ContextName: "org", ContextKey: "o1", RoleName: "admin"}}
	if !eng.IsAllowed(admin, "read", Subject{Name: "org", Key: "o1"}) {
		t.Fatalf("expected coerced grant to evaluate")
	}
	if eng.IsAllowed(admin, "delete", Subject{Name: "org", Key: "o1"}) {
		t.Fatalf("expected coerced deny to evaluate")
	}
}
