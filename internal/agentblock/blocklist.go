// Package agentblock maintains the set of EVM agent addresses barred
// from the gateway.
package agentblock

import (
	"sort"
	"strings"
	"sync"
)

// Blocklist is a concurrent set of lowercased agent addresses.
type Blocklist struct {
	mu    sync.RWMutex
	addrs map[string]struct{}
}

// New builds a blocklist seeded with the given addresses.
func New(addrs []string) *Blocklist {
	b := &Blocklist{addrs: make(map[string]struct{})}
	b.Replace(addrs)
	return b
}

// Blocked reports whether the address is barred. Comparison is
// case-insensitive.
func (b *Blocklist) Blocked(addr string) bool {
	if addr == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, blocked := b.addrs[strings.ToLower(addr)]
	return blocked
}

// Replace swaps the whole set, lowercasing every entry.
func (b *Blocklist) Replace(addrs []string) {
	next := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			next[a] = struct{}{}
		}
	}

	b.mu.Lock()
	b.addrs = next
	b.mu.Unlock()
}

// List returns the blocked addresses, sorted.
func (b *Blocklist) List() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.addrs))
	for a := range b.addrs {
		out = append(out, a)
	}
	b.mu.RUnlock()

	sort.Strings(out)
	return out
}
