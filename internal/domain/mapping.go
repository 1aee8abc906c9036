package domain

import "sync"

// URLMapping pairs a shielding placeholder with the URL it stands for
type URLMapping struct {
	Placeholder string `json:"placeholder"`
	Original    string `json:"original"`
}

// URLMappings is the append-only mapping table for one research batch.
// Retailer runs append to it concurrently; it is read only once they finish.
type URLMappings struct {
	mu      sync.Mutex
	entries []URLMapping
}

// NewURLMappings creates an empty mapping table
func NewURLMappings() *URLMappings {
	return &URLMappings{}
}

// Append adds the mappings produced by one shielding pass
func (m *URLMappings) Append(entries ...URLMapping) {
	if len(entries) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
}

// Entries returns a copy of every mapping appended so far
func (m *URLMappings) Entries() []URLMapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]URLMapping, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of mappings appended so far
func (m *URLMappings) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
