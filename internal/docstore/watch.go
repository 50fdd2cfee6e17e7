package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DocSubscription is a cancelable stream of document snapshots. C is closed
// once the subscription ends; nothing is delivered after Close returns.
type DocSubscription struct {
	C     <-chan *Snapshot
	Ref   Ref
	close func()
}

// Close stops delivery and waits for the stream to drain
func (s *DocSubscription) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// QuerySubscription is a cancelable stream of query results
type QuerySubscription struct {
	C     <-chan []*Snapshot
	Query Query
	close func()
}

// Close stops delivery and waits for the stream to drain
func (s *QuerySubscription) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// reader is the read side a hub refetches from on change
type reader interface {
	Get(ctx context.Context, ref Ref) (*Snapshot, error)
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
}

type watcher struct {
	ref    Ref
	query  bool
	signal chan struct{}
}

func (w *watcher) notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// hub fans change notifications out to local subscriptions. Each
// subscription refetches on signal, so bursts coalesce into the latest state.
type hub struct {
	src reader

	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
	wg       sync.WaitGroup
	closed   bool
	stop     context.CancelFunc
	stopCtx  context.Context
}

func newHub(src reader) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &hub{
		src:      src,
		watchers: make(map[string]map[*watcher]struct{}),
		stop:     cancel,
		stopCtx:  ctx,
	}
}

func (h *hub) register(w *watcher) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	set, ok := h.watchers[w.ref.Collection]
	if !ok {
		set = make(map[*watcher]struct{})
		h.watchers[w.ref.Collection] = set
	}
	set[w] = struct{}{}
	h.wg.Add(1)
	return nil
}

func (h *hub) unregister(w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.watchers[w.ref.Collection]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.watchers, w.ref.Collection)
		}
	}
}

// publish signals every subscription that may observe a change to refs
func (h *hub) publish(refs ...Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ref := range refs {
		for w := range h.watchers[ref.Collection] {
			if w.query || w.ref.ID == ref.ID {
				w.notify()
			}
		}
	}
}

// publishAll forces every subscription to refetch, used after a change feed
// reconnects and notifications may have been missed
func (h *hub) publishAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.watchers {
		for w := range set {
			w.notify()
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.stop()
	h.wg.Wait()
}

// subscription lifetime: ends on Close, on the caller's ctx, or on hub close
func (h *hub) lifetime(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(h.stopCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (h *hub) watchDoc(ctx context.Context, ref Ref) (*DocSubscription, error) {
	w := &watcher{ref: ref, signal: make(chan struct{}, 1)}
	if err := h.register(w); err != nil {
		return nil, err
	}
	ctx, cancel := h.lifetime(ctx)
	out := make(chan *Snapshot)
	done := make(chan struct{})

	go func() {
		defer h.wg.Done()
		defer close(done)
		defer close(out)
		defer h.unregister(w)

		last := int64(-1)
		for {
			snap, err := h.src.Get(ctx, ref)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Str("ref", ref.String()).Msg("Failed to refresh document subscription")
				if !sleepCtx(ctx, time.Second) {
					return
				}
				w.notify()
			} else if snap.Version != last {
				select {
				case out <- snap:
					last = snap.Version
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-w.signal:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return &DocSubscription{
		C:   out,
		Ref: ref,
		close: func() {
			once.Do(func() {
				cancel()
				<-done
			})
		},
	}, nil
}

func (h *hub) watchQuery(ctx context.Context, q Query) (*QuerySubscription, error) {
	w := &watcher{ref: Ref{Collection: q.Collection}, query: true, signal: make(chan struct{}, 1)}
	if err := h.register(w); err != nil {
		return nil, err
	}
	ctx, cancel := h.lifetime(ctx)
	out := make(chan []*Snapshot)
	done := make(chan struct{})

	go func() {
		defer h.wg.Done()
		defer close(done)
		defer close(out)
		defer h.unregister(w)

		last := ""
		first := true
		for {
			snaps, err := h.src.Query(ctx, q)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Str("collection", q.Collection).Msg("Failed to refresh query subscription")
				if !sleepCtx(ctx, time.Second) {
					return
				}
				w.notify()
			} else if fp := fingerprint(snaps); first || fp != last {
				select {
				case out <- snaps:
					last = fp
					first = false
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-w.signal:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return &QuerySubscription{
		C:     out,
		Query: q,
		close: func() {
			once.Do(func() {
				cancel()
				<-done
			})
		},
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
