package selection

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/geocell/server/internal/dataset"
)

// Results is a bounded cache of view results shared by every hub of one
// dataset. A hub keeps only its selection; sessions holding the same
// selection read the same *Result, which must be treated as read-only.
type Results struct {
	cache *lru.Cache[string, *Result]
}

// NewResults creates a result cache holding at most size results.
func NewResults(size int) (*Results, error) {
	c, err := lru.New[string, *Result](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create view result cache: %w", err)
	}
	return &Results{cache: c}, nil
}

func resultKey(view string, sel Selection) string {
	return strings.Join([]string{view, sel.Projection, sel.Clustering, sel.Cluster, sel.Phenotype}, "\x00")
}

// Compute returns the result of v for sel, computing it on a miss. A nil
// *Results computes every time.
func (r *Results) Compute(v View, sel Selection) *Result {
	if r == nil {
		return v.Compute(sel)
	}
	key := resultKey(v.Name(), sel)
	if res, ok := r.cache.Get(key); ok {
		return res
	}
	res := v.Compute(sel)
	if prev, ok, _ := r.cache.PeekOrAdd(key, res); ok {
		return prev
	}
	return res
}

// Len returns the number of cached results.
func (r *Results) Len() int {
	return r.cache.Len()
}

// Hub owns one selection and the views subscribed to it. Every accepted Set
// recomputes all views, in subscription order, before returning. Results
// live in the shared *Results, not in the hub.
type Hub struct {
	mu         sync.RWMutex
	categories *dataset.Categories
	results    *Results
	sel        Selection
	version    uint64
	views      []View
}

// NewHub returns a hub holding the default selection for c. results may be
// nil, in which case views are computed on every read.
func NewHub(c *dataset.Categories, results *Results) *Hub {
	return &Hub{
		categories: c,
		results:    results,
		sel:        Default(c),
	}
}

// Subscribe adds v and computes it for the current selection.
func (h *Hub) Subscribe(v View) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.views = append(h.views, v)
	h.results.Compute(v, h.sel)
}

// Set validates sel and, if it is accepted, recomputes every view.
func (h *Hub) Set(sel Selection) error {
	if err := Validate(sel, h.categories); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.setLocked(sel)
	return nil
}

// Update applies patch to the current selection with Merge and sets the
// result. Concurrent updates are serialized so no patch is lost.
func (h *Hub) Update(patch Selection) (Selection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := Merge(h.sel, patch)
	if err := Validate(next, h.categories); err != nil {
		return Selection{}, err
	}
	h.setLocked(next)
	return next, nil
}

func (h *Hub) setLocked(sel Selection) {
	h.sel = sel
	h.version++
	for _, v := range h.views {
		h.results.Compute(v, sel)
	}
}

// Selection returns the current selection and its version.
func (h *Hub) Selection() (Selection, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sel, h.version
}

// Result returns the result of the named view for the current selection.
func (h *Hub) Result(view string) (*Result, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, v := range h.views {
		if v.Name() == view {
			return h.results.Compute(v, h.sel), true
		}
	}
	return nil, false
}

// Views returns the subscribed view names in subscription order.
func (h *Hub) Views() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.views))
	for i, v := range h.views {
		names[i] = v.Name()
	}
	return names
}

// Sessions keeps a bounded number of hubs, one per browser session, evicting
// the least recently used.
type Sessions struct {
	hubs   *lru.Cache[string, *Hub]
	newHub func() *Hub
}

// NewSessions creates a session store holding at most size hubs. newHub
// builds the hub of a fresh session.
func NewSessions(size int, newHub func() *Hub) (*Sessions, error) {
	hubs, err := lru.New[string, *Hub](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return &Sessions{hubs: hubs, newHub: newHub}, nil
}

// Create starts a new session and returns its id.
func (s *Sessions) Create() (string, *Hub) {
	id := uuid.NewString()
	h := s.newHub()
	s.hubs.Add(id, h)
	return id, h
}

// Get returns the hub of session id.
func (s *Sessions) Get(id string) (*Hub, bool) {
	return s.hubs.Get(id)
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	return s.hubs.Len()
}
