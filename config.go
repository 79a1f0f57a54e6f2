package permission

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// DECLARATIVE CONFIG
// ============================================================================

// Config is the declarative definition document: the entity hierarchy plus
// the sparse policy declarations. It is the exchange format of the CLI and
// the definition stores; the engine itself is configured from it once, at
// setup, via Apply.
type Config struct {
	Version  uint16         `json:"version" yaml:"version"`
	Metadata ConfigMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Entities []EntityConfig `json:"entities" yaml:"entities"`
	Policies []PolicyConfig `json:"policies" yaml:"policies"`
}

type ConfigMetadata struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

type EntityConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Kind    string   `json:"kind" yaml:"kind"`
	Roles   []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Parents []string `json:"parents,omitempty" yaml:"parents,omitempty"`
}

type PolicyConfig struct {
	Context string       `json:"context" yaml:"context"`
	Role    string       `json:"role" yaml:"role"`
	Subject string       `json:"subject" yaml:"subject"`
	Actions ActionValues `json:"actions" yaml:"actions"`
}

// ActionValues is an action→bool map that accepts booleans, 0/1 ints, and
// "true"/"1" strings when decoded from config documents.
type ActionValues map[string]bool

func (a *ActionValues) UnmarshalYAML(value *yaml.Node) error {
	raw := map[string]any{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*a = coerceValues(raw)
	return nil
}

func (a *ActionValues) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = coerceValues(raw)
	return nil
}

func coerceValues(raw map[string]any) ActionValues {
	out := make(ActionValues, len(raw))
	for k, v := range raw {
		out[k] = coerceActionValue(v)
	}
	return out
}

// toDeclared converts to the any-valued map the configurator accepts.
func (a ActionValues) toDeclared() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// sortedActions lists action names in stable order for encoders.
func (a ActionValues) sortedActions() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ============================================================================
// FORMAT DISPATCH
// ============================================================================

// LoadConfigFile reads a config document, picking the codec by extension:
// .yaml/.yml, .json, .permbin (binary protocol), .pdsl (line DSL).
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAMLConfig(data)
	case ".json":
		return ParseJSONConfig(data)
	case ".permbin":
		return DecodeBinaryConfig(data)
	case ".pdsl":
		return ParseDSLConfig(data)
	default:
		return nil, fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
}

// SaveConfigFile writes a config document, picking the codec by extension.
func SaveConfigFile(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	case ".permbin":
		data, err = EncodeBinaryConfig(cfg)
	case ".pdsl":
		data = EncodeDSLConfig(cfg)
	default:
		return fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func ParseYAMLConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, nil
}

func ParseJSONConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return cfg, nil
}

func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ============================================================================
// VALIDATION & APPLY
// ============================================================================

// Validate runs the static checks that need no engine: entity kinds, name
// uniqueness, parent references, and policy references.
func (c *Config) Validate() error {
	names := make(map[string]*EntityConfig, len(c.Entities))
	for i := range c.Entities {
		ec := &c.Entities[i]
		if ec.Name == "" {
			return &StructuralError{Reason: "empty entity name"}
		}
		if ec.Kind != string(KindContext) && ec.Kind != string(KindProduct) {
			return &StructuralError{Entity: ec.Name, Reason: "unknown entity kind: " + ec.Kind}
		}
		if ec.Kind == string(KindProduct) && len(ec.Roles) > 0 {
			return &StructuralError{Entity: ec.Name, Reason: "product declares roles"}
		}
		if _, dup := names[ec.Name]; dup {
			return duplicateEntityError(ec.Name)
		}
		names[ec.Name] = ec
	}
	for _, ec := range c.Entities {
		for _, p := range ec.Parents {
			if _, ok := names[p]; !ok {
				return &StructuralError{Entity: ec.Name, Reason: "unknown parent: " + p}
			}
		}
	}
	for _, pc := range c.Policies {
		ctx, ok := names[pc.Context]
		if !ok || ctx.Kind != string(KindContext) {
			return fmt.Errorf("policy references unknown context %q", pc.Context)
		}
		if !containsString(ctx.Roles, pc.Role) {
			return fmt.Errorf("policy references unknown role %q of context %q", pc.Role, pc.Context)
		}
		if _, ok := names[pc.Subject]; !ok {
			return fmt.Errorf("policy references unknown subject %q", pc.Subject)
		}
	}
	return nil
}

// Apply registers the document's entities in dependency order and runs one
// Configure call with its policy declarations. A StructuralError or
// ConfigurationError aborts setup; the engine must then be discarded, as a
// partially registered graph is not serviceable.
func (c *Config) Apply(e *Engine) error {
	if err := c.Validate(); err != nil {
		return err
	}
	ordered, err := topoSortEntities(c.Entities)
	if err != nil {
		return err
	}
	for _, ec := range ordered {
		parents := make([]*Entity, 0, len(ec.Parents))
		for _, pname := range ec.Parents {
			p, ok := e.registry.Entity(pname)
			if !ok {
				return &StructuralError{Entity: ec.Name, Reason: "unknown parent: " + pname}
			}
			parents = append(parents, p)
		}
		if ec.Kind == string(KindContext) {
			_, err = e.Context(ec.Name, ec.Roles, parents...)
		} else {
			_, err = e.Product(ec.Name, parents...)
		}
		if err != nil {
			return err
		}
	}
	return e.Configure(func(cfg *Configurator) error {
		for _, pc := range c.Policies {
			if err := cfg.Declare(pc.Context, pc.Role, pc.Subject, pc.Actions.toDeclared()); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewEngineFromConfig builds a fresh engine from a config document.
func NewEngineFromConfig(cfg *Config, opts ...Option) (*Engine, error) {
	e, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Apply(e); err != nil {
		return nil, err
	}
	return e, nil
}

// topoSortEntities orders declarations so parents register first. Documents
// may list entities in any order; a reference loop is a structural defect.
func topoSortEntities(entities []EntityConfig) ([]*EntityConfig, error) {
	indegree := make(map[string]int, len(entities))
	dependents := make(map[string][]string, len(entities))
	byName := make(map[string]*EntityConfig, len(entities))
	for i := range entities {
		ec := &entities[i]
		byName[ec.Name] = ec
		if _, ok := indegree[ec.Name]; !ok {
			indegree[ec.Name] = 0
		}
		seen := make(map[string]struct{}, len(ec.Parents))
		for _, p := range ec.Parents {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			indegree[ec.Name]++
			dependents[p] = append(dependents[p], ec.Name)
		}
	}

	queue := make([]string, 0, len(entities))
	for _, ec := range entities {
		if indegree[ec.Name] == 0 {
			queue = append(queue, ec.Name)
		}
	}
	ordered := make([]*EntityConfig, 0, len(entities))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byName[name])
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(ordered) != len(entities) {
		for _, ec := range entities {
			if indegree[ec.Name] > 0 {
				return nil, cycleError(ec.Name)
			}
		}
		return nil, cycleError("")
	}
	return ordered, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// BINARY PROTOCOL
// ============================================================================

const (
	binaryMagic   = 0x504D // "PM"
	binaryVersion = 1

	sectionMetadata = 0x01
	sectionEntities = 0x02
	sectionPolicies = 0x03
)

// EncodeBinaryConfig writes the compact binary form: a fixed header
// (magic, protocol version, config version) followed by length-prefixed
// tagged sections.
func EncodeBinaryConfig(cfg *Config) ([]byte, error) {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, uint16(binaryMagic))
	binary.Write(buf, binary.LittleEndian, uint16(binaryVersion))
	binary.Write(buf, binary.LittleEndian, cfg.Version)

	writeSection(buf, sectionMetadata, func(b *bytes.Buffer) {
		writeString(b, cfg.Metadata.Name)
		writeString(b, cfg.Metadata.Description)
		writeString(b, cfg.Metadata.UpdatedAt)
	})
	writeSection(buf, sectionEntities, func(b *bytes.Buffer) {
		binary.Write(b, binary.LittleEndian, uint16(len(cfg.Entities)))
		for _, ec := range cfg.Entities {
			writeString(b, ec.Name)
			writeString(b, ec.Kind)
			writeStringList(b, ec.Roles)
			writeStringList(b, ec.Parents)
		}
	})
	writeSection(buf, sectionPolicies, func(b *bytes.Buffer) {
		binary.Write(b, binary.LittleEndian, uint16(len(cfg.Policies)))
		for _, pc := range cfg.Policies {
			writeString(b, pc.Context)
			writeString(b, pc.Role)
			writeString(b, pc.Subject)
			actions := pc.Actions.sortedActions()
			binary.Write(b, binary.LittleEndian, uint16(len(actions)))
			for _, a := range actions {
				writeString(b, a)
				if pc.Actions[a] {
					b.WriteByte(1)
				} else {
					b.WriteByte(0)
				}
			}
		}
	})
	return buf.Bytes(), nil
}

// DecodeBinaryConfig parses the binary form produced by EncodeBinaryConfig.
func DecodeBinaryConfig(data []byte) (*Config, error) {
	r := bytes.NewReader(data)
	var magic, ver, cfgVer uint16
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("binary config: %w", err)
	}
	if magic != binaryMagic {
		return nil, fmt.Errorf("binary config: invalid magic %#04x", magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return nil, fmt.Errorf("binary config: %w", err)
	}
	if ver != binaryVersion {
		return nil, fmt.Errorf("binary config: unsupported protocol version %d", ver)
	}
	if err := binary.Read(r, binary.LittleEndian, &cfgVer); err != nil {
		return nil, fmt.Errorf("binary config: %w", err)
	}

	cfg := &Config{Version: cfgVer}
	for {
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("binary config: %w", err)
		}
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("binary config: section %#02x: %w", tag, err)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("binary config: section %#02x: %w", tag, err)
		}
		sec := bytes.NewReader(data)
		var err error
		switch tag {
		case sectionMetadata:
			err = decodeMetadataSection(sec, cfg)
		case sectionEntities:
			err = decodeEntitiesSection(sec, cfg)
		case sectionPolicies:
			err = decodePoliciesSection(sec, cfg)
		default:
			// Unknown sections are skipped so newer writers stay readable.
		}
		if err != nil {
			return nil, fmt.Errorf("binary config: section %#02x: %w", tag, err)
		}
	}
	return cfg, nil
}

func decodeMetadataSection(r *bytes.Reader, cfg *Config) error {
	var err error
	if cfg.Metadata.Name, err = readString(r); err != nil {
		return err
	}
	if cfg.Metadata.Description, err = readString(r); err != nil {
		return err
	}
	cfg.Metadata.UpdatedAt, err = readString(r)
	return err
}

func decodeEntitiesSection(r *bytes.Reader, cfg *Config) error {
	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	cfg.Entities = make([]EntityConfig, count)
	for i := range cfg.Entities {
		var err error
		if cfg.Entities[i].Name, err = readString(r); err != nil {
			return err
		}
		if cfg.Entities[i].Kind, err = readString(r); err != nil {
			return err
		}
		if cfg.Entities[i].Roles, err = readStringList(r); err != nil {
			return err
		}
		if cfg.Entities[i].Parents, err = readStringList(r); err != nil {
			return err
		}
	}
	return nil
}

func decodePoliciesSection(r *bytes.Reader, cfg *Config) error {
	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	cfg.Policies = make([]PolicyConfig, count)
	for i := range cfg.Policies {
		var err error
		if cfg.Policies[i].Context, err = readString(r); err != nil {
			return err
		}
		if cfg.Policies[i].Role, err = readString(r); err != nil {
			return err
		}
		if cfg.Policies[i].Subject, err = readString(r); err != nil {
			return err
		}
		var actionCount uint16
		if err := binary.Read(r, binary.LittleEndian, &actionCount); err != nil {
			return err
		}
		actions := make(ActionValues, actionCount)
		for j := 0; j < int(actionCount); j++ {
			name, err := readString(r)
			if err != nil {
				return err
			}
			v, err := r.ReadByte()
			if err != nil {
				return err
			}
			actions[name] = v == 1
		}
		cfg.Policies[i].Actions = actions
	}
	return nil
}

func writeSection(buf *bytes.Buffer, tag uint8, fn func(*bytes.Buffer)) {
	tmp := &bytes.Buffer{}
	fn(tmp)
	buf.WriteByte(tag)
	binary.Write(buf, binary.LittleEndian, uint32(tmp.Len()))
	buf.Write(tmp.Bytes())
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func writeStringList(buf *bytes.Buffer, list []string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(list)))
	for _, s := range list {
		writeString(buf, s)
	}
}

func readString(r *bytes.Reader) (string, error) {
	var l uint16
	if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
		return "", err
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readStringList(r *bytes.Reader) ([]string, error) {
	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	list := make([]string, count)
	for i := range list {
		var err error
		if list[i], err = readString(r); err != nil {
			return nil, err
		}
	}
	return list, nil
}
