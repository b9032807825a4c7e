package routes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/money"
)

// ProviderAuth is an optional header injected on every upstream request.
type ProviderAuth struct {
	Header string `json:"header"`
	Value  string `json:"value"`
}

// Provider describes the upstream an API route forwards to.
type Provider struct {
	ID         string        `json:"id"`
	BackendURL string        `json:"backend_url"`
	Auth       *ProviderAuth `json:"auth,omitempty"`
}

// Rule is a single priced route. Rules are immutable once registered;
// admin mutations replace the whole compiled table.
type Rule struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	ToolID      string   `json:"tool_id"`
	Price       string   `json:"price"`
	Provider    Provider `json:"provider"`
	Group       string   `json:"group,omitempty"`
	Description string   `json:"description,omitempty"`
	Restricted  bool     `json:"restricted,omitempty"`

	// SkipSSRFCheck is an operator escape hatch for intentionally private
	// backends (local development, service mesh).
	SkipSSRFCheck bool `json:"skip_ssrf_check,omitempty"`
}

// CompiledRule is a Rule with its matching machinery: an anchored regex,
// the parameter name list, and the sort keys used for tie-breaking.
type CompiledRule struct {
	Rule

	re       *regexp.Regexp
	params   []string
	segments int
	literals int
	order    int
}

// Params returns the path parameter names in declaration order.
func (c *CompiledRule) Params() []string {
	out := make([]string, len(c.params))
	copy(out, c.params)
	return out
}

// compileRule validates a rule and builds its matcher. Each :name segment
// becomes ([^/]+); literal segments are regex-escaped.
func compileRule(rule Rule, order int) (*CompiledRule, error) {
	if rule.ToolID == "" {
		return nil, fmt.Errorf("routes: rule missing tool_id")
	}
	if !strings.HasPrefix(rule.Path, "/") {
		return nil, fmt.Errorf("routes: rule %q: path must start with /", rule.ToolID)
	}
	if rule.Method == "" {
		return nil, fmt.Errorf("routes: rule %q: method required", rule.ToolID)
	}
	if rule.Provider.BackendURL == "" {
		return nil, fmt.Errorf("routes: rule %q: provider.backend_url required", rule.ToolID)
	}
	if _, err := money.ParseUSD(rule.Price); err != nil {
		return nil, fmt.Errorf("routes: rule %q: %w", rule.ToolID, err)
	}

	rule.Method = strings.ToUpper(rule.Method)

	segments := strings.Split(strings.TrimPrefix(rule.Path, "/"), "/")
	var (
		pattern  strings.Builder
		params   []string
		literals int
	)
	pattern.WriteString("^")
	for _, seg := range segments {
		pattern.WriteString("/")
		if strings.HasPrefix(seg, ":") {
			name := seg[1:]
			if name == "" {
				return nil, fmt.Errorf("routes: rule %q: empty parameter name in path %q", rule.ToolID, rule.Path)
			}
			params = append(params, name)
			pattern.WriteString("([^/]+)")
		} else {
			literals++
			pattern.WriteString(regexp.QuoteMeta(seg))
		}
	}
	pattern.WriteString("$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, fmt.Errorf("routes: rule %q: compile path %q: %w", rule.ToolID, rule.Path, err)
	}

	return &CompiledRule{
		Rule:     rule,
		re:       re,
		params:   params,
		segments: len(segments),
		literals: literals,
		order:    order,
	}, nil
}

// match tests the rule against an uppercased method and a path, returning
// extracted path parameters on success.
func (c *CompiledRule) match(method, path string) (map[string]string, bool) {
	if method != c.Method {
		return nil, false
	}
	groups := c.re.FindStringSubmatch(path)
	if groups == nil {
		return nil, false
	}
	params := make(map[string]string, len(c.params))
	for i, name := range c.params {
		params[name] = groups[i+1]
	}
	return params, true
}
