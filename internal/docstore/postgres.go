package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	pgChannel = "docstore_changes"

	pgSchema = `
		CREATE SEQUENCE IF NOT EXISTS documents_version_seq;
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       JSONB NOT NULL,
			version    BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		);
	`
)

// PostgresStore keeps documents as jsonb rows and uses LISTEN/NOTIFY as its
// change feed
type PostgresStore struct {
	db     *pgxpool.Pool
	hub    *hub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgresStore ensures the schema exists and starts the change listener
func NewPostgresStore(ctx context.Context, db *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("failed to migrate documents schema: %w", err)
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresStore{db: db, cancel: cancel, done: make(chan struct{})}
	s.hub = newHub(s)
	go s.listen(listenCtx)
	return s, nil
}

// NewID returns a fresh document identifier
func (s *PostgresStore) NewID() string {
	return uuid.New().String()
}

// Get returns the current snapshot of ref
func (s *PostgresStore) Get(ctx context.Context, ref Ref) (*Snapshot, error) {
	query := `
		SELECT data, version, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`
	snap := &Snapshot{Ref: ref}
	err := s.db.QueryRow(ctx, query, ref.Collection, ref.ID).Scan(&snap.Data, &snap.Version, &snap.UpdateTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Snapshot{Ref: ref}, nil
		}
		return nil, fmt.Errorf("failed to get document %s: %w", ref, err)
	}
	snap.Exists = true
	return snap, nil
}

// Query returns matching documents
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	var sb strings.Builder
	args := []any{q.Collection}
	sb.WriteString(`SELECT id, data, version, updated_at FROM documents WHERE collection = $1`)
	for _, f := range q.Where {
		raw, isNull, err := encodeValue(f.Value)
		if err != nil {
			return nil, err
		}
		args = append(args, f.Field)
		field := len(args)
		if isNull {
			fmt.Fprintf(&sb, ` AND (data->$%d::text IS NULL OR data->$%d::text = 'null'::jsonb)`, field, field)
			continue
		}
		args = append(args, string(raw))
		fmt.Fprintf(&sb, ` AND data->$%d::text = $%d::jsonb`, field, len(args))
	}
	if q.OrderByTime != "" {
		args = append(args, q.OrderByTime)
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY (data->>$%d::text)::timestamptz %s NULLS LAST, id`, len(args), dir)
	} else {
		sb.WriteString(` ORDER BY id`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap := &Snapshot{Ref: Ref{Collection: q.Collection}, Exists: true}
		if err := rows.Scan(&snap.Ref.ID, &snap.Data, &snap.Version, &snap.UpdateTime); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return snaps, nil
}

// Commit applies writes in one database transaction. Checked rows are locked
// with SELECT ... FOR UPDATE so concurrent commits serialize on them.
func (s *PostgresStore) Commit(ctx context.Context, writes []Write) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	checked := make(map[Ref]bool)
	changed := make(map[Ref]bool)
	var order []Ref
	for _, w := range writes {
		if err := s.apply(ctx, tx, w, checked); err != nil {
			return err
		}
		if w.Op != OpCheck && !changed[w.Ref] {
			changed[w.Ref] = true
			order = append(order, w.Ref)
		}
	}
	for _, ref := range order {
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, pgChannel, ref.String()); err != nil {
			return fmt.Errorf("failed to notify change: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) apply(ctx context.Context, tx pgx.Tx, w Write, checked map[Ref]bool) error {
	switch w.Op {
	case OpCheck:
		checked[w.Ref] = true
		var version int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
			w.Ref.Collection, w.Ref.ID,
		).Scan(&version)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to check %s: %w", w.Ref, err)
		}
		if version != w.Version {
			return fmt.Errorf("%s: %w", w.Ref, ErrConflict)
		}
	case OpCreate:
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (collection, id, data, version, updated_at)
			VALUES ($1, $2, $3::jsonb, nextval('documents_version_seq'), now())
		`, w.Ref.Collection, w.Ref.ID, string(w.Data))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// a concurrent create of a document we read as missing
				if checked[w.Ref] {
					return fmt.Errorf("%s: %w", w.Ref, ErrConflict)
				}
				return fmt.Errorf("%s: %w", w.Ref, ErrAlreadyExists)
			}
			return fmt.Errorf("failed to create %s: %w", w.Ref, err)
		}
	case OpSet:
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (collection, id, data, version, updated_at)
			VALUES ($1, $2, $3::jsonb, nextval('documents_version_seq'), now())
			ON CONFLICT (collection, id) DO UPDATE
			SET data = EXCLUDED.data, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
		`, w.Ref.Collection, w.Ref.ID, string(w.Data))
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", w.Ref, err)
		}
	case OpUpdate:
		set, remove, err := splitFields(w.Fields)
		if err != nil {
			return err
		}
		patch, err := json.Marshal(set)
		if err != nil {
			return fmt.Errorf("failed to encode patch: %w", err)
		}
		if remove == nil {
			remove = []string{}
		}
		result, err := tx.Exec(ctx, `
			UPDATE documents
			SET data = (data || $3::jsonb) - $4::text[],
			    version = nextval('documents_version_seq'),
			    updated_at = now()
			WHERE collection = $1 AND id = $2
		`, w.Ref.Collection, w.Ref.ID, string(patch), remove)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", w.Ref, err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("%s: %w", w.Ref, ErrNotFound)
		}
	case OpDelete:
		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, w.Ref.Collection, w.Ref.ID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", w.Ref, err)
		}
	default:
		return fmt.Errorf("unsupported write op %d", w.Op)
	}
	return nil
}

// listen holds a dedicated connection on the change channel and reconnects
// with backoff
func (s *PostgresStore) listen(ctx context.Context) {
	defer close(s.done)
	backoff := 100 * time.Millisecond
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Dur("backoff", backoff).Msg("Document change listener disconnected")
		if !sleepCtx(ctx, backoff) {
			return
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (s *PostgresStore) listenOnce(ctx context.Context) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgChannel); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	// changes may have been missed while disconnected
	s.hub.publishAll()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ref, err := ParseRef(n.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring malformed change notification")
			continue
		}
		s.hub.publish(ref)
	}
}

// Watch streams snapshots of ref
func (s *PostgresStore) Watch(ctx context.Context, ref Ref) (*DocSubscription, error) {
	return s.hub.watchDoc(ctx, ref)
}

// WatchQuery streams results of q
func (s *PostgresStore) WatchQuery(ctx context.Context, q Query) (*QuerySubscription, error) {
	return s.hub.watchQuery(ctx, q)
}

// Close stops the change listener and ends all subscriptions. The pool is
// owned by the caller.
func (s *PostgresStore) Close() error {
	s.hub.close()
	s.cancel()
	<-s.done
	return nil
}
