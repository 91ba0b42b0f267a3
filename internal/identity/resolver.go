// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package identity

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/claim-engine/pkg/types"
)

// Lookup finds stored references by identity signal. The bool result is
// false when no row matches; errors are reserved for I/O failures.
type Lookup interface {
	ReferenceByDOI(ctx context.Context, doi string) (int64, bool, error)
	ReferenceByTitleKey(ctx context.Context, titleKey string) (int64, bool, error)
}

// Action is the outcome of resolving one candidate reference.
type Action int

const (
	ActionCreate Action = iota
	ActionReuse
)

func (a Action) String() string {
	if a == ActionReuse {
		return "reuse"
	}
	return "create"
}

// Resolution is what Resolve decided. ReferenceID is set only for reuse.
type Resolution struct {
	Action      Action
	ReferenceID int64
	Key         Key
}

// Resolver applies the tiered identity policy.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver returns a Resolver that logs decisions at debug level.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve decides whether candidate matches a reference lookup already
// knows. A DOI match wins regardless of title or authors. The title tier is
// consulted only when the candidate has no usable DOI.
func (r *Resolver) Resolve(ctx context.Context, candidate types.ReferenceDraft, lookup Lookup) (Resolution, error) {
	key := KeyOf(candidate)

	if key.DOI != "" {
		id, ok, err := lookup.ReferenceByDOI(ctx, key.DOI)
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: looking up doi %q: %w", types.ErrPersistence, key.DOI, err)
		}
		if ok {
			r.logger.Debug("reference matched by doi", zap.String("doi", key.DOI), zap.Int64("reference_id", id))
			return Resolution{Action: ActionReuse, ReferenceID: id, Key: key}, nil
		}
		return Resolution{Action: ActionCreate, Key: key}, nil
	}

	if key.Title != "" {
		id, ok, err := lookup.ReferenceByTitleKey(ctx, key.Title)
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: looking up title key: %w", types.ErrPersistence, err)
		}
		if ok {
			r.logger.Debug("reference matched by title and first author",
				zap.String("title", candidate.Title), zap.Int64("reference_id", id))
			return Resolution{Action: ActionReuse, ReferenceID: id, Key: key}, nil
		}
	}

	return Resolution{Action: ActionCreate, Key: key}, nil
}

// Preview resolves drafts in order as a batch would, without writing.
// References the batch would create are given negative placeholder IDs
// (-1, -2, ...) so later drafts in the same batch can match them.
func (r *Resolver) Preview(ctx context.Context, drafts []types.ReferenceDraft, base Lookup) ([]Resolution, error) {
	pending := NewMemoryIndex()
	lookup := layered{base, pending}

	out := make([]Resolution, 0, len(drafts))
	var next int64 = -1
	for i, d := range drafts {
		res, err := r.Resolve(ctx, d, lookup)
		if err != nil {
			return nil, fmt.Errorf("previewing reference %d: %w", i, err)
		}
		if res.Action == ActionCreate {
			res.ReferenceID = next
			pending.Add(next, res.Key)
			next--
		}
		out = append(out, res)
	}
	return out, nil
}

// MemoryIndex is a Lookup over an in-memory set of references. When two
// references share a signal the first one added wins.
type MemoryIndex struct {
	mu      sync.RWMutex
	byDOI   map[string]int64
	byTitle map[string]int64
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		byDOI:   make(map[string]int64),
		byTitle: make(map[string]int64),
	}
}

// Add registers id under the non-empty signals of k.
func (m *MemoryIndex) Add(id int64, k Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k.DOI != "" {
		if _, ok := m.byDOI[k.DOI]; !ok {
			m.byDOI[k.DOI] = id
		}
	}
	if k.Title != "" {
		if _, ok := m.byTitle[k.Title]; !ok {
			m.byTitle[k.Title] = id
		}
	}
}

// Len reports how many distinct signals are indexed.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byDOI) + len(m.byTitle)
}

func (m *MemoryIndex) ReferenceByDOI(_ context.Context, doi string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byDOI[doi]
	return id, ok, nil
}

func (m *MemoryIndex) ReferenceByTitleKey(_ context.Context, titleKey string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTitle[titleKey]
	return id, ok, nil
}

// layered consults each Lookup in order and returns the first match.
type layered []Lookup

func (l layered) ReferenceByDOI(ctx context.Context, doi string) (int64, bool, error) {
	for _, lk := range l {
		if lk == nil {
			continue
		}
		id, ok, err := lk.ReferenceByDOI(ctx, doi)
		if err != nil || ok {
			return id, ok, err
		}
	}
	return 0, false, nil
}

func (l layered) ReferenceByTitleKey(ctx context.Context, titleKey string) (int64, bool, error) {
	for _, lk := range l {
		if lk == nil {
			continue
		}
		id, ok, err := lk.ReferenceByTitleKey(ctx, titleKey)
		if err != nil || ok {
			return id, ok, err
		}
	}
	return 0, false, nil
}
