package pipeline

import (
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DedupScope is the lifetime within which a tier suppresses repeated item ids.
type DedupScope int

const (
	ScopeNone DedupScope = iota
	ScopeCategory
	ScopeSubtree
	ScopeRun
)

func (s DedupScope) String() string {
	switch s {
	case ScopeCategory:
		return "category"
	case ScopeSubtree:
		return "subtree"
	case ScopeRun:
		return "run"
	default:
		return "none"
	}
}

// SeenSet remembers item ids up to a fixed capacity.
type SeenSet struct {
	name    string
	cache   *lru.Cache[string, struct{}]
	evicted bool
}

// NewSeenSet builds a set holding at most size ids.
func NewSeenSet(name string, size int) (*SeenSet, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create %s seen-set: %w", name, err)
	}
	return &SeenSet{name: name, cache: cache}, nil
}

// FirstSeen records id and reports whether it was new.
func (s *SeenSet) FirstSeen(id string) bool {
	ok, evicted := s.cache.ContainsOrAdd(id, struct{}{})
	if evicted && !s.evicted {
		s.evicted = true
		slog.Warn("dedup capacity reached, oldest ids are being forgotten",
			slog.String("tier", s.name),
			slog.Int("capacity", s.cache.Len()),
		)
	}
	return !ok
}

// Reset forgets every id.
func (s *SeenSet) Reset() {
	s.cache.Purge()
	s.evicted = false
}

// Len returns the number of ids remembered.
func (s *SeenSet) Len() int {
	return s.cache.Len()
}
