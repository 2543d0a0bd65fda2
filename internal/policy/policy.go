package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/darkden-lab/bazaar-realtime/internal/auth"
)

// Policy maps each role to its ordered channel templates. It is immutable
// once built and safe for concurrent use.
type Policy struct {
	rules map[auth.Role][]Template
}

// Rule is the YAML/literal form of one template entry.
type Rule struct {
	Template string `yaml:"template"`
	Auto     bool   `yaml:"auto"`
}

type fileFormat struct {
	Roles map[string][]Rule `yaml:"roles"`
}

// New compiles rules per role. Unknown roles and bad templates are errors.
func New(rules map[auth.Role][]Rule) (*Policy, error) {
	p := &Policy{rules: make(map[auth.Role][]Template, len(rules))}
	for role, list := range rules {
		if _, err := auth.ParseRole(string(role)); err != nil {
			return nil, err
		}
		for _, r := range list {
			t, err := Compile(r.Template, r.Auto)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			p.rules[role] = append(p.rules[role], t)
		}
	}
	return p, nil
}

// Load reads a YAML policy file:
//
//	roles:
//	  delivery:
//	    - template: deliveries.{id}
//	      auto: true
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Policy, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if len(f.Roles) == 0 {
		return nil, fmt.Errorf("policy defines no roles")
	}
	rules := make(map[auth.Role][]Rule, len(f.Roles))
	for name, list := range f.Roles {
		role, err := auth.ParseRole(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		rules[role] = append(rules[role], list...)
	}
	return New(rules)
}

// CanSubscribe decides whether the caller may join channel. The first
// template that matches allows; no match denies.
func (p *Policy) CanSubscribe(role auth.Role, identity, channel string) bool {
	if !ValidChannel(channel) {
		return false
	}
	for _, t := range p.rules[role] {
		if t.Match(role, identity, channel) {
			return true
		}
	}
	return false
}

// DefaultChannels returns the auto-subscribed channels for a caller.
func (p *Policy) DefaultChannels(role auth.Role, identity string) []string {
	var out []string
	for _, t := range p.rules[role] {
		if !t.Auto() {
			continue
		}
		if name, ok := t.Expand(role, identity); ok {
			out = append(out, name)
		}
	}
	return out
}

// Templates returns the templates for role, in evaluation order.
func (p *Policy) Templates(role auth.Role) []Template {
	return append([]Template(nil), p.rules[role]...)
}
