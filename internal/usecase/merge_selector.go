package usecase

import (
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
)

// Merge selection defaults
const (
	DefaultMergeTarget = 5
	poolSampleSize     = 2
)

// MergeSelector combines per-retailer product lists into one bounded list.
// Every retailer with results contributes at least one product.
// It is safe for concurrent use; calls share one random source.
type MergeSelector struct {
	target int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMergeSelector creates a selector; a nil rng uses a randomly seeded source
func NewMergeSelector(target int, rng *rand.Rand) *MergeSelector {
	if target <= 0 {
		target = DefaultMergeTarget
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &MergeSelector{target: target, rng: rng}
}

type productRef struct {
	retailer string
	index    int
}

// Merge selects up to the target count of products. order fixes the retailer
// iteration order; retailers missing from order are appended sorted by name.
func (s *MergeSelector) Merge(byRetailer map[string][]domain.Product, order []string) []domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	retailers := mergeOrder(byRetailer, order)
	taken := make(map[productRef]bool)
	var selected []productRef

	// One product per retailer first
	var firsts []productRef
	for _, r := range retailers {
		if len(byRetailer[r]) > 0 {
			firsts = append(firsts, productRef{retailer: r, index: 0})
		}
	}
	if len(firsts) > s.target {
		s.rng.Shuffle(len(firsts), func(i, j int) { firsts[i], firsts[j] = firsts[j], firsts[i] })
		firsts = firsts[:s.target]
	}
	for _, ref := range firsts {
		taken[ref] = true
		selected = append(selected, ref)
	}

	// Random sample from everything else
	var pool []productRef
	for _, r := range retailers {
		for i := range byRetailer[r] {
			ref := productRef{retailer: r, index: i}
			if !taken[ref] {
				pool = append(pool, ref)
			}
		}
	}
	sample := min(poolSampleSize, len(pool), s.target-len(selected))
	for _, idx := range s.rng.Perm(len(pool))[:max(sample, 0)] {
		taken[pool[idx]] = true
		selected = append(selected, pool[idx])
	}

	// Fill from random retailers that still have unselected products
	for len(selected) < s.target {
		var open []string
		for _, r := range retailers {
			if len(remaining(byRetailer[r], r, taken)) > 0 {
				open = append(open, r)
			}
		}
		if len(open) == 0 {
			break
		}
		r := open[s.rng.IntN(len(open))]
		left := remaining(byRetailer[r], r, taken)
		ref := left[s.rng.IntN(len(left))]
		taken[ref] = true
		selected = append(selected, ref)
	}

	s.rng.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })

	out := make([]domain.Product, 0, len(selected))
	for _, ref := range selected {
		out = append(out, byRetailer[ref.retailer][ref.index])
	}
	return out
}

func remaining(products []domain.Product, retailer string, taken map[productRef]bool) []productRef {
	var out []productRef
	for i := range products {
		ref := productRef{retailer: retailer, index: i}
		if !taken[ref] {
			out = append(out, ref)
		}
	}
	return out
}

func mergeOrder(byRetailer map[string][]domain.Product, order []string) []string {
	seen := make(map[string]bool, len(byRetailer))
	out := make([]string, 0, len(byRetailer))
	for _, r := range order {
		if _, ok := byRetailer[r]; ok && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	var rest []string
	for r := range byRetailer {
		if !seen[r] {
			rest = append(rest, r)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
