package routes

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Subscriber is notified after every table mutation with the full rule
// set. The payment coordinator keeps its compiled requirements in sync
// through this instead of twin-writing.
type Subscriber interface {
	RoutesUpdated(rules []Rule)
}

// Snapshot is an immutable compiled route table. Readers capture one at
// the start of a request and keep it for the duration.
type Snapshot struct {
	ordered []*CompiledRule
	byTool  map[string]*CompiledRule
}

// Match returns the first compiled rule whose pattern matches, in
// specificity order: more segments first, then more literal segments,
// then insertion order. The sort is total and stable, so /a/b/:x beats
// /a/:y/:z.
func (s *Snapshot) Match(method, path string) (*CompiledRule, map[string]string, bool) {
	method = strings.ToUpper(method)
	for _, rule := range s.ordered {
		if params, ok := rule.match(method, path); ok {
			return rule, params, true
		}
	}
	return nil, nil, false
}

// Lookup finds a rule by tool_id.
func (s *Snapshot) Lookup(toolID string) (*CompiledRule, bool) {
	rule, ok := s.byTool[toolID]
	return rule, ok
}

// Rules returns the rule set in insertion order.
func (s *Snapshot) Rules() []Rule {
	ordered := make([]*CompiledRule, len(s.ordered))
	copy(ordered, s.ordered)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	out := make([]Rule, len(ordered))
	for i, rule := range ordered {
		out[i] = rule.Rule
	}
	return out
}

// Len returns the number of registered rules.
func (s *Snapshot) Len() int {
	return len(s.ordered)
}

// Table is the mutable route registry. Mutations are copy-on-write: a
// single writer builds a fresh Snapshot and swaps it atomically, so
// readers never observe a half-updated table.
type Table struct {
	mu        sync.Mutex // serializes writers and subscriber fan-out
	snap      atomic.Pointer[Snapshot]
	nextOrder int
	subs      []Subscriber
}

// New compiles the initial rule set into a table.
func New(rules []Rule) (*Table, error) {
	t := &Table{}
	snap, next, err := compile(rules, 0)
	if err != nil {
		return nil, err
	}
	t.nextOrder = next
	t.snap.Store(snap)
	return t, nil
}

// compile builds a sorted snapshot from scratch.
func compile(rules []Rule, startOrder int) (*Snapshot, int, error) {
	ordered := make([]*CompiledRule, 0, len(rules))
	byTool := make(map[string]*CompiledRule, len(rules))
	order := startOrder
	for _, rule := range rules {
		compiled, err := compileRule(rule, order)
		if err != nil {
			return nil, 0, err
		}
		if _, exists := byTool[compiled.ToolID]; exists {
			return nil, 0, fmt.Errorf("routes: duplicate tool_id %q", compiled.ToolID)
		}
		byTool[compiled.ToolID] = compiled
		ordered = append(ordered, compiled)
		order++
	}
	sortCompiled(ordered)
	return &Snapshot{ordered: ordered, byTool: byTool}, order, nil
}

// sortCompiled orders rules by (segments desc, literals desc, insertion asc).
func sortCompiled(rules []*CompiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.segments != b.segments {
			return a.segments > b.segments
		}
		if a.literals != b.literals {
			return a.literals > b.literals
		}
		return a.order < b.order
	})
}

// Snapshot returns the current compiled table.
func (t *Table) Snapshot() *Snapshot {
	return t.snap.Load()
}

// Subscribe registers a mutation observer and immediately delivers the
// current rule set so late subscribers start consistent.
func (t *Table) Subscribe(sub Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, sub)
	sub.RoutesUpdated(t.snap.Load().Rules())
}

// Add compiles and registers a new rule. The tool_id must be unique.
func (t *Table) Add(rule Rule) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.snap.Load()
	if _, exists := current.byTool[rule.ToolID]; exists {
		return fmt.Errorf("routes: duplicate tool_id %q", rule.ToolID)
	}

	compiled, err := compileRule(rule, t.nextOrder)
	if err != nil {
		return err
	}
	t.nextOrder++

	t.swap(current, func(ordered []*CompiledRule, byTool map[string]*CompiledRule) ([]*CompiledRule, map[string]*CompiledRule) {
		byTool[compiled.ToolID] = compiled
		return append(ordered, compiled), byTool
	})
	return nil
}

// Remove drops the rule registered under tool_id.
func (t *Table) Remove(toolID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.snap.Load()
	if _, exists := current.byTool[toolID]; !exists {
		return fmt.Errorf("routes: unknown tool_id %q", toolID)
	}

	t.swap(current, func(ordered []*CompiledRule, byTool map[string]*CompiledRule) ([]*CompiledRule, map[string]*CompiledRule) {
		delete(byTool, toolID)
		kept := ordered[:0]
		for _, rule := range ordered {
			if rule.ToolID != toolID {
				kept = append(kept, rule)
			}
		}
		return kept, byTool
	})
	return nil
}

// Replace atomically swaps the rule registered under tool_id for a new
// one carrying the same tool_id.
func (t *Table) Replace(toolID string, rule Rule) error {
	if rule.ToolID != toolID {
		return fmt.Errorf("routes: replace tool_id mismatch: %q vs %q", toolID, rule.ToolID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.snap.Load()
	existing, exists := current.byTool[toolID]
	if !exists {
		return fmt.Errorf("routes: unknown tool_id %q", toolID)
	}

	compiled, err := compileRule(rule, existing.order)
	if err != nil {
		return err
	}

	t.swap(current, func(ordered []*CompiledRule, byTool map[string]*CompiledRule) ([]*CompiledRule, map[string]*CompiledRule) {
		byTool[toolID] = compiled
		for i, r := range ordered {
			if r.ToolID == toolID {
				ordered[i] = compiled
				break
			}
		}
		return ordered, byTool
	})
	return nil
}

// swap builds the successor snapshot from a deep copy of the current one,
// stores it, and notifies subscribers. Caller must hold t.mu.
func (t *Table) swap(current *Snapshot, mutate func([]*CompiledRule, map[string]*CompiledRule) ([]*CompiledRule, map[string]*CompiledRule)) {
	ordered := make([]*CompiledRule, len(current.ordered))
	copy(ordered, current.ordered)
	byTool := make(map[string]*CompiledRule, len(current.byTool)+1)
	for k, v := range current.byTool {
		byTool[k] = v
	}

	ordered, byTool = mutate(ordered, byTool)
	sortCompiled(ordered)

	next := &Snapshot{ordered: ordered, byTool: byTool}
	t.snap.Store(next)

	rules := next.Rules()
	for _, sub := range t.subs {
		sub.RoutesUpdated(rules)
	}
}
