package permission

// Builders provide a fluent API for assembling config documents

// PolicyBuilder builds a PolicyConfig
type PolicyBuilder struct {
	p PolicyConfig
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{p: PolicyConfig{Actions: ActionValues{}}}
}

func (b *PolicyBuilder) Context(name string) *PolicyBuilder { b.p.Context = name; return b }
func (b *PolicyBuilder) Role(name string) *PolicyBuilder    { b.p.Role = name; return b }
func (b *PolicyBuilder) Subject(name string) *PolicyBuilder { b.p.Subject = name; return b }
func (b *PolicyBuilder) Allow(actions ...string) *PolicyBuilder {
	for _, a := range actions {
		b.p.Actions[a] = true
	}
	return b
}
func (b *PolicyBuilder) Deny(actions ...string) *PolicyBuilder {
	for _, a := range actions {
		b.p.Actions[a] = false
	}
	return b
}
func (b *PolicyBuilder) Build() PolicyConfig { return b.p }

// ConfigBuilder builds a Config document
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:  1,
			Entities: []EntityConfig{},
			Policies: []PolicyConfig{},
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) Name(name string) *ConfigBuilder {
	b.cfg.Metadata.Name = name
	return b
}

func (b *ConfigBuilder) Description(desc string) *ConfigBuilder {
	b.cfg.Metadata.Description = desc
	return b
}

func (b *ConfigBuilder) AddContext(name string, roles []string, parents ...string) *ConfigBuilder {
	b.cfg.Entities = append(b.cfg.Entities, EntityConfig{
		Name:    name,
		Kind:    string(KindContext),
		Roles:   roles,
		Parents: parents,
	})
	return b
}

func (b *ConfigBuilder) AddProduct(name string, parents ...string) *ConfigBuilder {
	b.cfg.Entities = append(b.cfg.Entities, EntityConfig{
		Name:    name,
		Kind:    string(KindProduct),
		Parents: parents,
	})
	return b
}

func (b *ConfigBuilder) AddPolicy(p PolicyConfig) *ConfigBuilder {
	b.cfg.Policies = append(b.cfg.Policies, p)
	return b
}

// Allow appends a policy granting every listed action.
func (b *ConfigBuilder) Allow(context, role, subject string, actions ...string) *ConfigBuilder {
	values := make(ActionValues, len(actions))
	for _, a := range actions {
		values[a] = true
	}
	b.cfg.Policies = append(b.cfg.Policies, PolicyConfig{
		Context: context,
		Role:    role,
		Subject: subject,
		Actions: values,
	})
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	return b.cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	return b.cfg.ToJSON()
}
