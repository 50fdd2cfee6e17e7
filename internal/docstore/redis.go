package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisConfig configures a RedisStore
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key and the change channel
	Prefix string
}

// RedisStore keeps each document in a hash and publishes changes on a
// channel. Commits use WATCH/MULTI/EXEC so a concurrent writer aborts the
// commit with ErrConflict.
type RedisStore struct {
	client *redis.Client
	prefix string
	pubsub *redis.PubSub
	hub    *hub
	done   chan struct{}
}

// NewRedisStore connects and subscribes to the change channel
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "docstore:"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	s := &RedisStore{client: client, prefix: prefix, done: make(chan struct{})}
	s.hub = newHub(s)
	s.pubsub = client.Subscribe(ctx, s.channel())
	// wait for the subscription to be confirmed so no commit is missed
	if _, err := s.pubsub.Receive(ctx); err != nil {
		s.pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}
	go s.listen()
	return s, nil
}

func (s *RedisStore) channel() string {
	return s.prefix + "changes"
}

func (s *RedisStore) docKey(ref Ref) string {
	return s.prefix + "doc:" + ref.Collection + ":" + ref.ID
}

func (s *RedisStore) collectionKey(collection string) string {
	return s.prefix + "coll:" + collection
}

func (s *RedisStore) versionKey() string {
	return s.prefix + "version"
}

// NewID returns a fresh document identifier
func (s *RedisStore) NewID() string {
	return uuid.New().String()
}

// Get returns the current snapshot of ref
func (s *RedisStore) Get(ctx context.Context, ref Ref) (*Snapshot, error) {
	vals, err := s.client.HMGet(ctx, s.docKey(ref), "data", "version", "updated").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", ref, err)
	}
	return decodeRedisDoc(ref, vals)
}

func decodeRedisDoc(ref Ref, vals []any) (*Snapshot, error) {
	snap := &Snapshot{Ref: ref}
	if len(vals) != 3 || vals[0] == nil {
		return snap, nil
	}
	data, _ := vals[0].(string)
	versionStr, _ := vals[1].(string)
	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version for %s: %w", ref, err)
	}
	snap.Exists = true
	snap.Version = version
	snap.Data = []byte(data)
	if updated, _ := vals[2].(string); updated != "" {
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			snap.UpdateTime = t
		}
	}
	return snap, nil
}

// Query loads the collection index and filters in process
func (s *RedisStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	ids, err := s.client.SMembers(ctx, s.collectionKey(q.Collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", q.Collection, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.docKey(NewRef(q.Collection, id)), "data", "version", "updated")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load %s: %w", q.Collection, err)
	}

	snaps := make([]*Snapshot, 0, len(ids))
	for i, id := range ids {
		snap, err := decodeRedisDoc(NewRef(q.Collection, id), cmds[i].Val())
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return applyQuery(snaps, q)
}

// Commit applies writes atomically under WATCH on every touched document.
// Only commits carrying checks surface a concurrent writer as ErrConflict.
func (s *RedisStore) Commit(ctx context.Context, writes []Write) error {
	attempts := 1
	if !hasChecks(writes) {
		// no read preconditions: re-staging against fresh state is safe
		attempts = batchAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = s.commitOnce(ctx, writes)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}

// batchAttempts bounds how often a commit without checks is re-staged after
// a concurrent writer aborted it
const batchAttempts = 5

func hasChecks(writes []Write) bool {
	for _, w := range writes {
		if w.Op == OpCheck {
			return true
		}
	}
	return false
}

func (s *RedisStore) commitOnce(ctx context.Context, writes []Write) error {
	seen := make(map[Ref]bool)
	var keys []string
	for _, w := range writes {
		if !seen[w.Ref] {
			seen[w.Ref] = true
			keys = append(keys, s.docKey(w.Ref))
		}
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		staged, err := stage(writes, func(ref Ref) (*stagedDoc, error) {
			vals, err := tx.HMGet(ctx, s.docKey(ref), "data", "version", "updated").Result()
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", ref, err)
			}
			snap, err := decodeRedisDoc(ref, vals)
			if err != nil {
				return nil, err
			}
			return &stagedDoc{exists: snap.Exists, version: snap.Version, data: snap.Data}, nil
		})
		if err != nil {
			return err
		}

		var dirty []Ref
		for _, ref := range staged.order {
			if staged.docs[ref].dirty {
				dirty = append(dirty, ref)
			}
		}
		if len(dirty) == 0 {
			return nil
		}
		top, err := tx.IncrBy(ctx, s.versionKey(), int64(len(dirty))).Result()
		if err != nil {
			return fmt.Errorf("failed to allocate version: %w", err)
		}
		next := top - int64(len(dirty))
		now := time.Now().UTC().Format(time.RFC3339Nano)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, ref := range dirty {
				sd := staged.docs[ref]
				if !sd.exists {
					pipe.Del(ctx, s.docKey(ref))
					pipe.SRem(ctx, s.collectionKey(ref.Collection), ref.ID)
				} else {
					next++
					pipe.HSet(ctx, s.docKey(ref), "data", string(sd.data), "version", next, "updated", now)
					pipe.SAdd(ctx, s.collectionKey(ref.Collection), ref.ID)
				}
				pipe.Publish(ctx, s.channel(), ref.String())
			}
			return nil
		})
		return err
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("concurrent write: %w", ErrConflict)
	}
	return err
}

func (s *RedisStore) listen() {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		ref, err := ParseRef(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring malformed change notification")
			continue
		}
		s.hub.publish(ref)
	}
}

// Watch streams snapshots of ref
func (s *RedisStore) Watch(ctx context.Context, ref Ref) (*DocSubscription, error) {
	return s.hub.watchDoc(ctx, ref)
}

// WatchQuery streams results of q
func (s *RedisStore) WatchQuery(ctx context.Context, q Query) (*QuerySubscription, error) {
	return s.hub.watchQuery(ctx, q)
}

// Close ends subscriptions and the client connection
func (s *RedisStore) Close() error {
	s.hub.close()
	err := s.pubsub.Close()
	<-s.done
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}
