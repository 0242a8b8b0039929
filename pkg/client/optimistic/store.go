// Package optimistic applies local mutations before the server confirms them
// and later reconciles them with server truth or rolls them back.
package optimistic

import (
	"context"
	"crypto/rand"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is the lifecycle of one mutation.
type State int

const (
	Idle State = iota
	Optimistic
	Reconciled
	RolledBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Optimistic:
		return "optimistic"
	case Reconciled:
		return "reconciled"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound       = errors.New("optimistic: entity not found")
	ErrAlreadySettled = errors.New("optimistic: mutation already settled")
)

type op int

const (
	opCreate op = iota
	opUpdate
	opDelete
)

type item[T any] struct {
	key    string
	entity T
}

// track is the per-key record of unconfirmed mutations. The visible entity is
// always base (the last value the server confirmed) with every pending
// mutation re-applied in the order it began.
type track[T any] struct {
	base   T
	exists bool
	muts   []*Mutation[T]

	// neighbours at the time the entity was last hidden, used to put it back
	placed     bool
	prev, next string
	index      int
}

// View is a consistent copy of the store contents.
type View[T any] struct {
	Entities []T
	Balance  Balance
}

// Store holds one entity list and the cached token balance. Entity and balance
// changes of a mutation are applied under a single lock acquisition, so
// readers never observe one without the other.
type Store[T any] struct {
	mu          sync.Mutex
	id          func(T) string
	placeholder func(T, string) T
	items       []item[T]
	tracks      map[string]*track[T]
	balance     Balance
	entropy     *ulid.MonotonicEntropy
	now         func() time.Time
}

type Option[T any] func(*Store[T])

// WithPlaceholder stamps the temporary id onto optimistic drafts.
func WithPlaceholder[T any](fn func(entity T, tempID string) T) Option[T] {
	return func(s *Store[T]) { s.placeholder = fn }
}

// NewStore creates an empty store. id returns the server identifier of an entity.
func NewStore[T any](id func(T) string, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		id:      id,
		tracks:  map[string]*track[T]{},
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the store contents, typically after a list fetch. Mutations
// still in flight are re-applied on top of the loaded values.
func (s *Store[T]) Load(entities []T, balance Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]item[T], 0, len(entities))
	for _, e := range entities {
		s.items = append(s.items, item[T]{key: s.id(e), entity: e})
	}
	s.balance = balance

	keys := make([]string, 0, len(s.tracks))
	for key := range s.tracks {
		keys = append(keys, key)
	}
	// temporary ids are ULIDs, so drafts keep their creation order
	slices.Sort(keys)
	for _, key := range keys {
		t := s.tracks[key]
		var zero T
		t.base, t.exists = zero, false
		if i := s.indexOf(key); i >= 0 {
			t.base, t.exists = s.items[i].entity, true
		}
		s.render(key, t)
	}
}

func (s *Store[T]) Snapshot() View[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := View[T]{Entities: make([]T, 0, len(s.items)), Balance: s.balance}
	for _, it := range s.items {
		out.Entities = append(out.Entities, it.entity)
	}
	return out
}

// Pending reports whether key has mutations the server has not settled yet.
func (s *Store[T]) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tracks[key]
	return t != nil && len(t.muts) > 0
}

// Remove drops key locally without a server call. Reconciling a mutation
// whose entity was removed leaves the list alone.
func (s *Store[T]) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracks, key)
	i := s.indexOf(key)
	if i < 0 {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	return true
}

// Mutation is one optimistic change awaiting its server outcome.
type Mutation[T any] struct {
	store   *Store[T]
	op      op
	key     string
	apply   func(v T, exists bool) (T, bool)
	applied T
	state   State
}

func (m *Mutation[T]) Key() string {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return m.key
}

func (m *Mutation[T]) State() State {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return m.state
}

// BeginCreate inserts draft under a fresh temporary id.
func (s *Store[T]) BeginCreate(draft T) *Mutation[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempID := "tmp_" + ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
	if s.placeholder != nil {
		draft = s.placeholder(draft, tempID)
	}
	m := &Mutation[T]{
		store: s,
		op:    opCreate,
		key:   tempID,
		apply: func(T, bool) (T, bool) { return draft, true },
		state: Optimistic,
	}
	t := &track[T]{}
	s.tracks[tempID] = t
	s.begin(t, m)
	return m
}

// BeginUpdate applies fn to the entity with id, keeping its identifier. fn is
// re-run whenever an earlier mutation on the same id settles, so it must be a
// pure edit of its argument.
func (s *Store[T]) BeginUpdate(id string, fn func(T) T) (*Mutation[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trackVisible(id)
	if err != nil {
		return nil, err
	}
	m := &Mutation[T]{
		store: s,
		op:    opUpdate,
		key:   id,
		apply: func(v T, exists bool) (T, bool) {
			if !exists {
				return v, false
			}
			return fn(v), true
		},
		state: Optimistic,
	}
	s.begin(t, m)
	return m, nil
}

// BeginDelete hides the entity with id until the server settles the delete.
func (s *Store[T]) BeginDelete(id string) (*Mutation[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trackVisible(id)
	if err != nil {
		return nil, err
	}
	m := &Mutation[T]{
		store: s,
		op:    opDelete,
		key:   id,
		apply: func(T, bool) (T, bool) {
			var zero T
			return zero, false
		},
		state: Optimistic,
	}
	s.begin(t, m)
	return m, nil
}

func (s *Store[T]) trackVisible(id string) (*track[T], error) {
	i := s.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	t := s.tracks[id]
	if t == nil {
		t = &track[T]{base: s.items[i].entity, exists: true}
		s.tracks[id] = t
	}
	return t, nil
}

func (s *Store[T]) begin(t *track[T], m *Mutation[T]) {
	t.muts = append(t.muts, m)
	s.render(m.key, t)
	if i := s.indexOf(m.key); i >= 0 {
		m.applied = s.items[i].entity
	}
}

// Reconcile settles the mutation with the server outcome. Ok makes the server
// entity the new confirmed base and adopts the server balance; Err discards
// this mutation only. Either way the other pending mutations on the same key
// are re-applied on top.
func (m *Mutation[T]) Reconcile(out Outcome[T]) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.state != Optimistic {
		return ErrAlreadySettled
	}

	ok, succeeded := out.(Ok[T])
	if succeeded {
		s.balance = ok.Balance
		m.state = Reconciled
	} else {
		m.state = RolledBack
	}

	key := m.key
	t := s.tracks[key]
	if t == nil {
		// removed locally while in flight
		return nil
	}
	at := slices.Index(t.muts, m)
	if at < 0 {
		return nil
	}
	t.muts = slices.Delete(t.muts, at, at+1)

	if succeeded {
		switch m.op {
		case opCreate, opUpdate:
			t.base, t.exists = ok.Entity, true
			if serverKey := s.id(ok.Entity); serverKey != "" && serverKey != key {
				s.rekey(key, serverKey, t)
				key = serverKey
			}
		case opDelete:
			var zero T
			t.base, t.exists = zero, false
		}
	}

	s.render(key, t)
	if len(t.muts) == 0 {
		delete(s.tracks, key)
	}
	return nil
}

// rekey moves a confirmed create from its temporary id to the server id,
// dropping any other copy of that id a concurrent Load brought in.
func (s *Store[T]) rekey(from, to string, t *track[T]) {
	for j := len(s.items) - 1; j >= 0; j-- {
		if s.items[j].key == to {
			s.items = slices.Delete(s.items, j, j+1)
		}
	}
	if i := s.indexOf(from); i >= 0 {
		s.items[i].key = to
	}
	for _, pending := range t.muts {
		pending.key = to
	}
	delete(s.tracks, from)
	s.tracks[to] = t
}

// render recomputes the visible entity for key from its track.
func (s *Store[T]) render(key string, t *track[T]) {
	v, exists := t.base, t.exists
	for _, m := range t.muts {
		v, exists = m.apply(v, exists)
	}

	i := s.indexOf(key)
	switch {
	case exists && i >= 0:
		s.items[i].entity = v
	case exists:
		s.items = slices.Insert(s.items, s.position(t), item[T]{key: key, entity: v})
	case i >= 0:
		t.placed, t.index = true, i
		t.prev, t.next = "", ""
		if i > 0 {
			t.prev = s.items[i-1].key
		}
		if i+1 < len(s.items) {
			t.next = s.items[i+1].key
		}
		s.items = slices.Delete(s.items, i, i+1)
	}
}

// position is where a hidden entity goes back: after its old predecessor,
// else before its old successor, else at its old index.
func (s *Store[T]) position(t *track[T]) int {
	if !t.placed {
		return len(s.items)
	}
	if t.prev != "" {
		if j := s.indexOf(t.prev); j >= 0 {
			return j + 1
		}
	}
	if t.next != "" {
		if j := s.indexOf(t.next); j >= 0 {
			return j
		}
	}
	return min(t.index, len(s.items))
}

func (s *Store[T]) indexOf(key string) int {
	for i, it := range s.items {
		if it.key == key {
			return i
		}
	}
	return -1
}

// Create runs the full create protocol around call. The server call is not
// cancelled with ctx once started; a caller that goes away can ignore the result.
func (s *Store[T]) Create(ctx context.Context, draft T, call func(context.Context) Outcome[T]) Outcome[T] {
	m := s.BeginCreate(draft)
	out := call(context.WithoutCancel(ctx))
	_ = m.Reconcile(out)
	return out
}

func (s *Store[T]) Update(ctx context.Context, id string, fn func(T) T, call func(context.Context, T) Outcome[T]) (Outcome[T], error) {
	m, err := s.BeginUpdate(id, fn)
	if err != nil {
		return nil, err
	}
	out := call(context.WithoutCancel(ctx), m.applied)
	_ = m.Reconcile(out)
	return out, nil
}

func (s *Store[T]) Delete(ctx context.Context, id string, call func(context.Context) Outcome[T]) (Outcome[T], error) {
	m, err := s.BeginDelete(id)
	if err != nil {
		return nil, err
	}
	out := call(context.WithoutCancel(ctx))
	_ = m.Reconcile(out)
	return out, nil
}
