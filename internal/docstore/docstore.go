// Package docstore is a versioned document database with atomic multi-document
// commits, optimistic transactions and real-time subscriptions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an update targets a missing document
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned when a create targets an existing document
	ErrAlreadyExists = errors.New("document already exists")
	// ErrConflict is returned when a version precondition no longer holds
	ErrConflict = errors.New("transaction conflict")
	// ErrClosed is returned by a store after Close
	ErrClosed = errors.New("store closed")
)

// Ref addresses a single document
type Ref struct {
	Collection string
	ID         string
}

// NewRef builds a document reference
func NewRef(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// ParseRef parses the "collection/id" form produced by Ref.String
func ParseRef(s string) (Ref, error) {
	collection, id, ok := strings.Cut(s, "/")
	if !ok || collection == "" || id == "" {
		return Ref{}, fmt.Errorf("invalid document ref %q", s)
	}
	return Ref{Collection: collection, ID: id}, nil
}

// Snapshot is the state of a document at a version. A missing document has
// Exists false and Version 0.
type Snapshot struct {
	Ref        Ref
	Exists     bool
	Version    int64
	Data       json.RawMessage
	UpdateTime time.Time
}

// DataTo decodes the document body into v
func (s *Snapshot) DataTo(v any) error {
	if !s.Exists {
		return fmt.Errorf("%s: %w", s.Ref, ErrNotFound)
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.Ref, err)
	}
	return nil
}

// Filter is an equality predicate on a top-level field. A nil Value matches
// documents where the field is absent or null.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of a collection
type Query struct {
	Collection string
	Where      []Filter
	// OrderByTime names an RFC 3339 timestamp field to sort by
	OrderByTime string
	Desc        bool
	Limit       int
}

// Op is the kind of a write
type Op int

const (
	// OpCreate writes a new document and fails if it exists
	OpCreate Op = iota + 1
	// OpSet replaces or creates a document
	OpSet
	// OpUpdate merges fields into an existing document
	OpUpdate
	// OpDelete removes a document if present
	OpDelete
	// OpCheck asserts the current version of a document
	OpCheck
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpCheck:
		return "check"
	}
	return "unknown"
}

// Write is one element of an atomic commit
type Write struct {
	Op   Op
	Ref  Ref
	Data json.RawMessage
	// Fields are merged by OpUpdate; a nil value removes the field
	Fields map[string]any
	// Version is asserted by OpCheck; 0 means the document must not exist
	Version int64
}

// Store is the document database contract shared by all backends
type Store interface {
	// NewID returns a fresh opaque document identifier
	NewID() string
	// Get returns the current snapshot; a missing document is not an error
	Get(ctx context.Context, ref Ref) (*Snapshot, error)
	// Query returns matching documents
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
	// Commit applies all writes atomically or none of them
	Commit(ctx context.Context, writes []Write) error
	// Watch streams snapshots of a document until the subscription is closed
	Watch(ctx context.Context, ref Ref) (*DocSubscription, error)
	// WatchQuery streams query results until the subscription is closed
	WatchQuery(ctx context.Context, q Query) (*QuerySubscription, error)
	Close() error
}
