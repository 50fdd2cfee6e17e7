package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memDoc struct {
	data    []byte
	version int64
	updated time.Time
}

// MemoryStore keeps documents in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[Ref]*memDoc
	version int64
	closed  bool
	hub     *hub
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{docs: make(map[Ref]*memDoc)}
	s.hub = newHub(s)
	return s
}

// NewID returns a fresh document identifier
func (s *MemoryStore) NewID() string {
	return uuid.New().String()
}

func (s *MemoryStore) snapshot(ref Ref, d *memDoc) *Snapshot {
	if d == nil {
		return &Snapshot{Ref: ref}
	}
	data := make([]byte, len(d.data))
	copy(data, d.data)
	return &Snapshot{Ref: ref, Exists: true, Version: d.version, Data: data, UpdateTime: d.updated}
}

// Get returns the current snapshot of ref
func (s *MemoryStore) Get(ctx context.Context, ref Ref) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.snapshot(ref, s.docs[ref]), nil
}

// Query returns matching documents
func (s *MemoryStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	var snaps []*Snapshot
	for ref, d := range s.docs {
		if ref.Collection == q.Collection {
			snaps = append(snaps, s.snapshot(ref, d))
		}
	}
	s.mu.RUnlock()
	return applyQuery(snaps, q)
}

// Commit applies writes atomically
func (s *MemoryStore) Commit(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	staged, err := stage(writes, func(ref Ref) (*stagedDoc, error) {
		d, ok := s.docs[ref]
		if !ok {
			return &stagedDoc{}, nil
		}
		return &stagedDoc{exists: true, version: d.version, data: d.data}, nil
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	now := time.Now().UTC()
	changed := make([]Ref, 0, len(staged.order))
	for _, ref := range staged.order {
		sd := staged.docs[ref]
		if !sd.dirty {
			continue
		}
		if !sd.exists {
			delete(s.docs, ref)
		} else {
			s.version++
			s.docs[ref] = &memDoc{data: sd.data, version: s.version, updated: now}
		}
		changed = append(changed, ref)
	}
	s.mu.Unlock()
	s.hub.publish(changed...)
	return nil
}

// Watch streams snapshots of ref
func (s *MemoryStore) Watch(ctx context.Context, ref Ref) (*DocSubscription, error) {
	return s.hub.watchDoc(ctx, ref)
}

// WatchQuery streams results of q
func (s *MemoryStore) WatchQuery(ctx context.Context, q Query) (*QuerySubscription, error) {
	return s.hub.watchQuery(ctx, q)
}

// Close ends all subscriptions
func (s *MemoryStore) Close() error {
	s.hub.close()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// stagedDoc is the in-commit view of a document
type stagedDoc struct {
	exists  bool
	version int64
	data    []byte
	dirty   bool
}

type stagedCommit struct {
	docs  map[Ref]*stagedDoc
	order []Ref
}

// stage validates writes in order against current state and computes the
// resulting documents. Backends apply the result only when stage succeeds.
func stage(writes []Write, load func(Ref) (*stagedDoc, error)) (*stagedCommit, error) {
	sc := &stagedCommit{docs: make(map[Ref]*stagedDoc)}
	get := func(ref Ref) (*stagedDoc, error) {
		if d, ok := sc.docs[ref]; ok {
			return d, nil
		}
		d, err := load(ref)
		if err != nil {
			return nil, err
		}
		sc.docs[ref] = d
		sc.order = append(sc.order, ref)
		return d, nil
	}
	for _, w := range writes {
		d, err := get(w.Ref)
		if err != nil {
			return nil, err
		}
		switch w.Op {
		case OpCheck:
			current := int64(0)
			if d.exists {
				current = d.version
			}
			if d.dirty || current != w.Version {
				return nil, fmt.Errorf("%s: %w", w.Ref, ErrConflict)
			}
		case OpCreate:
			if d.exists {
				return nil, fmt.Errorf("%s: %w", w.Ref, ErrAlreadyExists)
			}
			d.exists, d.data, d.dirty = true, w.Data, true
		case OpSet:
			d.exists, d.data, d.dirty = true, w.Data, true
		case OpUpdate:
			if !d.exists {
				return nil, fmt.Errorf("%s: %w", w.Ref, ErrNotFound)
			}
			merged, err := mergeFields(d.data, w.Fields)
			if err != nil {
				return nil, err
			}
			d.data, d.dirty = merged, true
		case OpDelete:
			if d.exists {
				d.exists, d.data, d.dirty = false, nil, true
			}
		default:
			return nil, fmt.Errorf("unsupported write op %d", w.Op)
		}
	}
	return sc, nil
}
