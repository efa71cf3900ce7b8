package access

import (
	"errors"
	"sort"
	"strings"

	"github.com/aula-web/aula/internal/identity"
	"github.com/aula-web/aula/internal/shared"
)

// Decision is the outcome of evaluating a request path.
type Decision int

const (
	Allow Decision = iota
	RedirectToLogin
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_login"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Requirement is what a rule demands of the caller.
type Requirement int

const (
	Public Requirement = iota
	Role
	Authenticated
)

var (
	// ErrInvalidRule reports a malformed pattern or role.
	ErrInvalidRule = errors.New("access: invalid rule")
	// ErrAuthenticationRequired is returned by Check for anonymous callers
	// on protected paths.
	ErrAuthenticationRequired = shared.ErrAuthenticationRequired
)

// Config lists the path patterns of each rule group.
type Config struct {
	// PublicPaths match exactly, or by prefix when written as "/css/**".
	PublicPaths []string
	// RolePaths maps a path prefix to a role name such as "ADMIN".
	RolePaths map[string]string
	// AuthenticatedPaths match by prefix. "/" covers every path.
	AuthenticatedPaths []string
}

// Rule is one compiled entry of a Policy.
type Rule struct {
	Pattern     string
	Requirement Requirement
	// Authority is set for Role rules, e.g. "ROLE_ADMIN".
	Authority string

	prefix bool
}

func (r Rule) matches(path string) bool {
	if r.Requirement == Public && !r.prefix {
		return path == r.Pattern
	}
	return segmentPrefix(path, r.Pattern)
}

// segmentPrefix reports whether prefix covers path at a segment boundary.
func segmentPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// Policy is an ordered, immutable rule list. First match wins.
type Policy struct {
	rules []Rule
}

// NewPolicy compiles cfg into public rules, then role rules with the longest
// prefix first, then authenticated rules, then a catch-all that requires
// authentication for anything left unmatched.
func NewPolicy(cfg Config) (*Policy, error) {
	var rules []Rule

	for _, raw := range cfg.PublicPaths {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		rule := Rule{Requirement: Public}
		if strings.HasSuffix(pattern, "/**") {
			rule.prefix = true
			pattern = strings.TrimSuffix(pattern, "/**")
			if pattern == "" {
				pattern = "/"
			}
		}
		if !strings.HasPrefix(pattern, "/") {
			return nil, errors.Join(ErrInvalidRule, errors.New(raw))
		}
		rule.Pattern = pattern
		rules = append(rules, rule)
	}

	roleRules := make([]Rule, 0, len(cfg.RolePaths))
	for raw, role := range cfg.RolePaths {
		pattern, err := cleanPrefix(raw)
		if err != nil {
			return nil, err
		}
		authority := identity.RoleAuthority(role)
		if authority == "" {
			return nil, errors.Join(ErrInvalidRule, errors.New(raw))
		}
		roleRules = append(roleRules, Rule{Pattern: pattern, Requirement: Role, Authority: authority, prefix: true})
	}
	sort.Slice(roleRules, func(i, j int) bool {
		if len(roleRules[i].Pattern) != len(roleRules[j].Pattern) {
			return len(roleRules[i].Pattern) > len(roleRules[j].Pattern)
		}
		return roleRules[i].Pattern < roleRules[j].Pattern
	})
	rules = append(rules, roleRules...)

	for _, raw := range cfg.AuthenticatedPaths {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		pattern, err := cleanPrefix(raw)
		if err != nil {
			return nil, err
		}
		rules = append(rules, Rule{Pattern: pattern, Requirement: Authenticated, prefix: true})
	}

	rules = append(rules, Rule{Pattern: "/", Requirement: Authenticated, prefix: true})
	return &Policy{rules: rules}, nil
}

func cleanPrefix(raw string) (string, error) {
	pattern := strings.TrimSuffix(strings.TrimSpace(raw), "/**")
	if pattern == "" {
		pattern = "/"
	}
	if !strings.HasPrefix(pattern, "/") {
		return "", errors.Join(ErrInvalidRule, errors.New(raw))
	}
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	return pattern, nil
}

// Rules returns a copy of the compiled rules in evaluation order.
func (p *Policy) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Evaluate returns the decision for path and the rule that produced it.
// A nil identity is anonymous.
func (p *Policy) Evaluate(path string, id identity.Authenticatable) (Decision, Rule) {
	if path == "" {
		path = "/"
	}
	for _, rule := range p.rules {
		if !rule.matches(path) {
			continue
		}
		return decide(rule, id), rule
	}
	// unreachable: the catch-all always matches
	return RedirectToLogin, Rule{}
}

// Decide returns only the decision for path.
func (p *Policy) Decide(path string, id identity.Authenticatable) Decision {
	d, _ := p.Evaluate(path, id)
	return d
}

// Check returns shared.ErrForbidden for an authenticated caller lacking the
// required role and ErrAuthenticationRequired for an anonymous one.
func (p *Policy) Check(path string, id identity.Authenticatable) error {
	switch p.Decide(path, id) {
	case RedirectToLogin:
		return ErrAuthenticationRequired
	case Forbidden:
		return shared.ErrForbidden
	default:
		return nil
	}
}

func decide(rule Rule, id identity.Authenticatable) Decision {
	authenticated := id != nil && id.Username() != ""
	switch rule.Requirement {
	case Public:
		return Allow
	case Role:
		if !authenticated {
			return RedirectToLogin
		}
		if identity.HasAuthority(id, rule.Authority) {
			return Allow
		}
		return Forbidden
	default:
		if authenticated {
			return Allow
		}
		return RedirectToLogin
	}
}
