package permission

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DSL Syntax:
// version <n>
// meta <name|description|updated_at> <value>
// context <name> [parents:<names>] [roles:<names>]
// product <name> [parents:<names>]
// policy <context>.<role> -> <subject> <action>=<true|false|1|0>...

type DSLParser struct {
	line int
}

func NewDSLParser() *DSLParser {
	return &DSLParser{}
}

type DSLEncoder struct {
	buf []byte
}

func NewDSLEncoder() *DSLEncoder {
	return &DSLEncoder{buf: make([]byte, 0, 2048)}
}

// ParseDSLConfig parses the line-oriented definition format.
func ParseDSLConfig(data []byte) (*Config, error) {
	return NewDSLParser().Parse(data)
}

// EncodeDSLConfig renders a config document in the line-oriented format.
// Output is deterministic: directives follow document order, action lists
// are sorted.
func EncodeDSLConfig(cfg *Config) []byte {
	return NewDSLEncoder().Encode(cfg)
}

func (e *DSLEncoder) Encode(cfg *Config) []byte {
	e.buf = e.buf[:0]
	var tmp [8]byte

	e.buf = append(e.buf, "version "...)
	e.buf = append(e.buf, strconv.AppendUint(tmp[:0], uint64(cfg.Version), 10)...)
	e.buf = append(e.buf, '\n')

	if cfg.Metadata.Name != "" {
		e.buf = append(e.buf, "meta name \""...)
		e.buf = append(e.buf, cfg.Metadata.Name...)
		e.buf = append(e.buf, "\"\n"...)
	}
	if cfg.Metadata.Description != "" {
		e.buf = append(e.buf, "meta description \""...)
		e.buf = append(e.buf, cfg.Metadata.Description...)
		e.buf = append(e.buf, "\"\n"...)
	}
	if cfg.Metadata.UpdatedAt != "" {
		e.buf = append(e.buf, "meta updated_at \""...)
		e.buf = append(e.buf, cfg.Metadata.UpdatedAt...)
		e.buf = append(e.buf, "\"\n"...)
	}

	for _, ec := range cfg.Entities {
		if ec.Kind == string(KindProduct) {
			e.buf = append(e.buf, "product "...)
		} else {
			e.buf = append(e.buf, "context "...)
		}
		e.buf = append(e.buf, ec.Name...)
		if len(ec.Parents) > 0 {
			e.buf = append(e.buf, " parents:"...)
			e.appendList(ec.Parents)
		}
		if len(ec.Roles) > 0 {
			e.buf = append(e.buf, " roles:"...)
			e.appendList(ec.Roles)
		}
		e.buf = append(e.buf, '\n')
	}

	for _, pc := range cfg.Policies {
		e.buf = append(e.buf, "policy "...)
		e.buf = append(e.buf, pc.Context...)
		e.buf = append(e.buf, '.')
		e.buf = append(e.buf, pc.Role...)
		e.buf = append(e.buf, " -> "...)
		e.buf = append(e.buf, pc.Subject...)
		actions := make([]string, 0, len(pc.Actions))
		for a := range pc.Actions {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		for _, a := range actions {
			e.buf = append(e.buf, ' ')
			e.buf = append(e.buf, a...)
			if pc.Actions[a] {
				e.buf = append(e.buf, "=true"...)
			} else {
				e.buf = append(e.buf, "=false"...)
			}
		}
		e.buf = append(e.buf, '\n')
	}

	return e.buf
}

func (e *DSLEncoder) appendList(list []string) {
	for i, s := range list {
		if i > 0 {
			e.buf = append(e.buf, ',')
		}
		e.buf = append(e.buf, s...)
	}
}

func (p *DSLParser) Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Version:  1,
		Entities: make([]EntityConfig, 0, 8),
		Policies: make([]PolicyConfig, 0, 8),
	}

	p.line = 0
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			p.line++
			line := data[start:i]
			start = i + 1

			for len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
				line = line[1:]
			}
			for len(line) > 0 && (line[len(line)-1] == ' ' || line[len(line)-1] == '\t' || line[len(line)-1] == '\r') {
				line = line[:len(line)-1]
			}

			if len(line) == 0 || line[0] == '#' {
				continue
			}

			parts := splitLineBytes(line)
			if len(parts) == 0 {
				continue
			}

			switch parts[0] {
			case "version":
				if err := p.parseVersion(cfg, parts[1:]); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			case "meta":
				if err := p.parseMeta(cfg, parts[1:]); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			case "context":
				if err := p.parseEntity(cfg, string(KindContext), parts[1:]); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			case "product":
				if err := p.parseEntity(cfg, string(KindProduct), parts[1:]); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			case "policy":
				if err := p.parsePolicy(cfg, parts[1:]); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			default:
				return nil, fmt.Errorf("line %d: unknown directive: %s", p.line, parts[0])
			}
		}
	}

	return cfg, nil
}

func splitLineBytes(line []byte) []string {
	parts := make([]string, 0, 8)
	var start int
	inQuote := false
	i := 0

	for i < len(line) {
		ch := line[i]
		if ch == '"' {
			if inQuote {
				parts = append(parts, string(line[start:i]))
				start = i + 1
				inQuote = false
			} else {
				start = i + 1
				inQuote = true
			}
		} else if (ch == ' ' || ch == '\t') && !inQuote {
			if i > start {
				parts = append(parts, string(line[start:i]))
			}
			start = i + 1
		}
		i++
	}

	if start < len(line) {
		parts = append(parts, string(line[start:]))
	}

	return parts
}

func (p *DSLParser) parseVersion(cfg *Config, parts []string) error {
	if len(parts) != 1 {
		return fmt.Errorf("version requires: <n>")
	}
	v, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid version: %s", parts[0])
	}
	cfg.Version = uint16(v)
	return nil
}

func (p *DSLParser) parseMeta(cfg *Config, parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("meta requires: <key> <value>")
	}
	value := strings.Join(parts[1:], " ")
	switch parts[0] {
	case "name":
		cfg.Metadata.Name = value
	case "description":
		cfg.Metadata.Description = value
	case "updated_at":
		cfg.Metadata.UpdatedAt = value
	default:
		return fmt.Errorf("unknown meta key: %s", parts[0])
	}
	return nil
}

func (p *DSLParser) parseEntity(cfg *Config, kind string, parts []string) error {
	if len(parts) < 1 {
		return fmt.Errorf("%s requires: <name> [parents:<names>] [roles:<names>]", kind)
	}
	ec := EntityConfig{Name: parts[0], Kind: kind}
	for _, opt := range parts[1:] {
		switch {
		case strings.HasPrefix(opt, "parents:"):
			ec.Parents = splitList(opt[8:])
		case strings.HasPrefix(opt, "roles:"):
			if kind == string(KindProduct) {
				return fmt.Errorf("product %s: products carry no roles", ec.Name)
			}
			ec.Roles = splitList(opt[6:])
		default:
			return fmt.Errorf("unknown option: %s", opt)
		}
	}
	cfg.Entities = append(cfg.Entities, ec)
	return nil
}

func (p *DSLParser) parsePolicy(cfg *Config, parts []string) error {
	if len(parts) < 3 || parts[1] != "->" {
		return fmt.Errorf("policy requires: <context>.<role> -> <subject> <action>=<value>...")
	}
	ctxRole := strings.SplitN(parts[0], ".", 2)
	if len(ctxRole) != 2 || ctxRole[0] == "" || ctxRole[1] == "" {
		return fmt.Errorf("invalid role reference: %s", parts[0])
	}
	pc := PolicyConfig{
		Context: ctxRole[0],
		Role:    ctxRole[1],
		Subject: parts[2],
		Actions: make(ActionValues, len(parts)-3),
	}
	for _, kv := range parts[3:] {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			return fmt.Errorf("invalid action assignment: %s", kv)
		}
		v, err := parseDSLBool(kv[idx+1:])
		if err != nil {
			return err
		}
		pc.Actions[kv[:idx]] = v
	}
	cfg.Policies = append(cfg.Policies, pc)
	return nil
}

func parseDSLBool(s string) (bool, error) {
	switch s {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean: %s", s)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
