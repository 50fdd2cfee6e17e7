package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Writer buffers writes; implemented by Batch and Tx
type Writer interface {
	Create(ref Ref, v any)
	Set(ref Ref, v any)
	Update(ref Ref, fields map[string]any)
	Delete(ref Ref)
}

// writeBuffer collects writes for a batch or transaction
type writeBuffer struct {
	writes []Write
	err    error
}

func (b *writeBuffer) encode(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to encode document: %w", err)
	}
	return raw
}

// Create writes a new document; the commit fails if it exists
func (b *writeBuffer) Create(ref Ref, v any) {
	b.writes = append(b.writes, Write{Op: OpCreate, Ref: ref, Data: b.encode(v)})
}

// Set replaces the document
func (b *writeBuffer) Set(ref Ref, v any) {
	b.writes = append(b.writes, Write{Op: OpSet, Ref: ref, Data: b.encode(v)})
}

// Update merges fields; a nil value removes the field
func (b *writeBuffer) Update(ref Ref, fields map[string]any) {
	b.writes = append(b.writes, Write{Op: OpUpdate, Ref: ref, Fields: fields})
}

// Delete removes the document if present
func (b *writeBuffer) Delete(ref Ref) {
	b.writes = append(b.writes, Write{Op: OpDelete, Ref: ref})
}

// Batch is an atomic multi-document write without read preconditions
type Batch struct {
	writeBuffer
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

// Len returns the number of buffered writes
func (b *Batch) Len() int {
	return len(b.writes)
}

// Commit applies the batch atomically
func (b *Batch) Commit(ctx context.Context, s Store) error {
	if b.err != nil {
		return b.err
	}
	if len(b.writes) == 0 {
		return nil
	}
	return s.Commit(ctx, b.writes)
}

// Tx is an optimistic read-modify-write transaction. Every document read
// through the transaction must be unchanged at commit time.
type Tx struct {
	writeBuffer
	store Store
	reads map[Ref]int64
	order []Ref
}

// Get reads a document and records its version as a commit precondition
func (tx *Tx) Get(ctx context.Context, ref Ref) (*Snapshot, error) {
	snap, err := tx.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if v, seen := tx.reads[ref]; seen {
		if v != snap.Version {
			return nil, ErrConflict
		}
		return snap, nil
	}
	tx.reads[ref] = snap.Version
	tx.order = append(tx.order, ref)
	return snap, nil
}

func (tx *Tx) commitWrites() []Write {
	writes := make([]Write, 0, len(tx.order)+len(tx.writes))
	for _, ref := range tx.order {
		writes = append(writes, Write{Op: OpCheck, Ref: ref, Version: tx.reads[ref]})
	}
	return append(writes, tx.writes...)
}

// TxOptions bounds transaction retries
type TxOptions struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// OnRetry is called before each retry with the attempt that conflicted
	OnRetry func(attempt int)
}

func (o TxOptions) withDefaults() TxOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 10 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 500 * time.Millisecond
	}
	return o
}

// RunTransaction runs fn and commits its writes, retrying with backoff when
// a document it read was changed concurrently. Errors returned by fn abort
// the transaction without retry. ErrConflict is returned once attempts are
// exhausted.
func RunTransaction(ctx context.Context, s Store, opts TxOptions, fn func(ctx context.Context, tx *Tx) error) error {
	opts = opts.withDefaults()
	backoff := opts.BaseBackoff
	for attempt := 1; ; attempt++ {
		tx := &Tx{store: s, reads: make(map[Ref]int64)}
		err := fn(ctx, tx)
		if err == nil {
			err = tx.err
		}
		if err == nil {
			err = s.Commit(ctx, tx.commitWrites())
			if err == nil {
				return nil
			}
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, ErrConflict)
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt)
		}
		wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2+1)))
		if !sleepCtx(ctx, wait) {
			return ctx.Err()
		}
		backoff *= 2
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}
}
