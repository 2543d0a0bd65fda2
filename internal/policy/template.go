package policy

import (
	"fmt"
	"strings"

	"github.com/darkden-lab/bazaar-realtime/internal/auth"
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segOwner               // {id}: must equal the caller's identity
	segRole                // {role}: must equal the caller's role
	segParam               // any other {name}: one generic token
)

// ownerPlaceholders all resolve to the caller's own identity.
var ownerPlaceholders = map[string]bool{
	"id":       true,
	"identity": true,
	"user_id":  true,
}

type segment struct {
	kind  segmentKind
	value string
}

// Template is a compiled channel-name template such as "deliveries.{id}".
type Template struct {
	raw      string
	segments []segment
	auto     bool
}

func (t Template) String() string { return t.raw }

// Auto reports whether connections are subscribed to this template on admit.
func (t Template) Auto() bool { return t.auto }

// Compile parses a template. Placeholder segments are written {name}.
func Compile(raw string, auto bool) (Template, error) {
	if raw == "" {
		return Template{}, fmt.Errorf("empty template")
	}
	parts := strings.Split(raw, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		switch {
		case strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") && len(p) > 2:
			name := p[1 : len(p)-1]
			if !ValidToken(name) {
				return Template{}, fmt.Errorf("template %q: bad placeholder %q", raw, p)
			}
			switch {
			case ownerPlaceholders[name]:
				segs = append(segs, segment{kind: segOwner, value: name})
			case name == "role":
				segs = append(segs, segment{kind: segRole, value: name})
			default:
				if auto {
					return Template{}, fmt.Errorf("template %q: auto-subscribed templates may only use {id} or {role}", raw)
				}
				segs = append(segs, segment{kind: segParam, value: name})
			}
		case ValidToken(p):
			segs = append(segs, segment{kind: segLiteral, value: p})
		default:
			return Template{}, fmt.Errorf("template %q: bad segment %q", raw, p)
		}
	}
	return Template{raw: raw, segments: segs, auto: auto}, nil
}

// Match reports whether channel matches the template for the given caller.
func (t Template) Match(role auth.Role, identity, channel string) bool {
	parts := strings.Split(channel, ".")
	if len(parts) != len(t.segments) {
		return false
	}
	for i, seg := range t.segments {
		p := parts[i]
		switch seg.kind {
		case segLiteral:
			if p != seg.value {
				return false
			}
		case segOwner:
			if identity == "" || p != identity {
				return false
			}
		case segRole:
			if p != string(role) {
				return false
			}
		case segParam:
			if !ValidToken(p) {
				return false
			}
		}
	}
	return true
}

// Expand substitutes the caller into an auto template. ok is false when the
// result is not a valid channel name (e.g. an identity containing a dot).
func (t Template) Expand(role auth.Role, identity string) (string, bool) {
	parts := make([]string, len(t.segments))
	for i, seg := range t.segments {
		switch seg.kind {
		case segLiteral:
			parts[i] = seg.value
		case segOwner:
			parts[i] = identity
		case segRole:
			parts[i] = string(role)
		default:
			return "", false
		}
	}
	name := strings.Join(parts, ".")
	return name, ValidChannel(name)
}

// ValidChannel checks the dot-separated channel grammar.
func ValidChannel(name string) bool {
	if name == "" || len(name) > 200 {
		return false
	}
	for _, p := range strings.Split(name, ".") {
		if !ValidToken(p) {
			return false
		}
	}
	return true
}

// ValidToken reports whether s is one channel segment: [A-Za-z0-9_-]+.
func ValidToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
