package services

import (
	"context"
	"sync"
	"time"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventType names what changed in a session
type EventType string

const (
	EventUser             EventType = "user"
	EventPartner          EventType = "partner"
	EventCouple           EventType = "couple"
	EventPhotos           EventType = "photos"
	EventInvite           EventType = "invite"
	EventPartnerConnected EventType = "partner_connected"
	EventSessionClosed    EventType = "session_closed"
)

// SessionState is the set of live projections of one user session
type SessionState struct {
	User          *models.User       `json:"user"`
	Partner       *models.User       `json:"partner"`
	Couple        *models.Couple     `json:"couple"`
	Photos        []*models.Photo    `json:"photos"`
	PendingInvite *models.InviteCode `json:"pendingInvite,omitempty"`
	Waiting       bool               `json:"waitingForPartner"`
}

func (st SessionState) clone() SessionState {
	out := st
	if st.Photos != nil {
		out.Photos = append([]*models.Photo(nil), st.Photos...)
	}
	return out
}

// Event is a projection change delivered to the session owner
type Event struct {
	Type  EventType    `json:"type"`
	State SessionState `json:"state"`
	Error string       `json:"error,omitempty"`
}

// SessionDeps are the repositories a session subscribes through
type SessionDeps struct {
	Users     *repository.UserRepository
	Couples   *repository.CoupleRepository
	Photos    *repository.PhotoRepository
	Invites   *repository.InviteRepository
	FeedLimit int
}

// Session mirrors the user, partner, couple and photo documents of one user.
// All projection state is owned by a single goroutine; other goroutines talk
// to it through commands.
type Session struct {
	userID string
	deps   SessionDeps
	logger zerolog.Logger

	cmds    chan func()
	updates chan Event
	done    chan struct{}
	cancel  context.CancelFunc

	mu    sync.Mutex
	err   error
	final SessionState

	// owned by the loop
	ctx        context.Context
	state      SessionState
	pending    []Event
	userSub    *docstore.DocSubscription
	partnerSub *docstore.DocSubscription
	coupleSub  *docstore.DocSubscription
	inviteSub  *docstore.DocSubscription
	photosSub  *docstore.QuerySubscription
	partnerID  string
	coupleID   string
	stopped    bool
}

// NewSession creates a session for userID; call Start to begin syncing
func NewSession(userID string, deps SessionDeps) *Session {
	if deps.FeedLimit <= 0 {
		deps.FeedLimit = 100
	}
	return &Session{
		userID:  userID,
		deps:    deps,
		logger:  log.With().Str("component", "session").Str("user_id", userID).Logger(),
		cmds:    make(chan func()),
		updates: make(chan Event),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the user document and runs the session until ctx is
// canceled, Close is called or the user disappears
func (s *Session) Start(ctx context.Context) error {
	if s.userID == "" {
		return ErrNotAuthenticated
	}
	ctx, cancel := context.WithCancel(ctx)
	sub, err := s.deps.Users.Watch(ctx, s.userID)
	if err != nil {
		cancel()
		close(s.updates)
		close(s.done)
		return err
	}
	s.ctx = ctx
	s.cancel = cancel
	s.userSub = sub
	go s.run()
	return nil
}

// UserID returns the owner of the session
func (s *Session) UserID() string {
	return s.userID
}

// Updates streams projection changes; it is closed when the session ends
func (s *Session) Updates() <-chan Event {
	return s.updates
}

// Done is closed when the session ends
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, if it ended on its own
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session and tears down every subscription
func (s *Session) Close() {
	if s.cancel == nil {
		// never started
		return
	}
	s.cancel()
	<-s.done
}

// call runs fn on the session goroutine; false means the session ended
func (s *Session) call(fn func()) bool {
	reply := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(reply) }:
		<-reply
		return true
	case <-s.done:
		return false
	}
}

// State returns a copy of the current projections
func (s *Session) State() SessionState {
	var st SessionState
	if s.call(func() { st = s.state.clone() }) {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final.clone()
}

// FilteredPhotos applies filter to the current photo projection
func (s *Session) FilteredPhotos(filter models.PhotoFilter) []*models.Photo {
	return FilterPhotos(s.State().Photos, filter, s.userID)
}

// WatchInvite waits for code to be redeemed, replacing any previous wait
func (s *Session) WatchInvite(code string) error {
	var err error
	ok := s.call(func() {
		s.closeInvite()
		sub, werr := s.deps.Invites.Watch(s.ctx, code)
		if werr != nil {
			err = werr
			return
		}
		s.inviteSub = sub
		s.state.Waiting = true
		s.emit(EventInvite)
	})
	if !ok {
		return ErrNotAuthenticated
	}
	return err
}

// CancelWaiting stops waiting for a partner; the invite itself stays valid
func (s *Session) CancelWaiting() {
	s.call(func() {
		if s.inviteSub == nil && !s.state.Waiting {
			return
		}
		s.closeInvite()
		s.state.PendingInvite = nil
		s.state.Waiting = false
		s.emit(EventInvite)
	})
}

func docChan(sub *docstore.DocSubscription) <-chan *docstore.Snapshot {
	if sub == nil {
		return nil
	}
	return sub.C
}

func queryChan(sub *docstore.QuerySubscription) <-chan []*docstore.Snapshot {
	if sub == nil {
		return nil
	}
	return sub.C
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.updates)

	for !s.stopped {
		var out chan Event
		var next Event
		if len(s.pending) > 0 {
			out = s.updates
			next = s.pending[0]
		}

		select {
		case <-s.ctx.Done():
			s.teardown()
			s.publishFinal()
			return
		case fn := <-s.cmds:
			fn()
		case out <- next:
			s.pending = s.pending[1:]
		case snap, ok := <-docChan(s.userSub):
			if !ok {
				s.userSub = nil
				if s.ctx.Err() == nil {
					s.end(ErrNotAuthenticated)
				}
				continue
			}
			s.onUser(snap)
		case snap, ok := <-docChan(s.partnerSub):
			if !ok {
				s.partnerSub = nil
				continue
			}
			s.onPartner(snap)
		case snap, ok := <-docChan(s.coupleSub):
			if !ok {
				s.coupleSub = nil
				continue
			}
			s.onCouple(snap)
		case snaps, ok := <-queryChan(s.photosSub):
			if !ok {
				s.photosSub = nil
				continue
			}
			s.onPhotos(snaps)
		case snap, ok := <-docChan(s.inviteSub):
			if !ok {
				s.inviteSub = nil
				continue
			}
			s.onInvite(snap)
		}
	}

	// ended on its own: hand the remaining events to the owner
	s.publishFinal()
	timeout := time.NewTimer(time.Second)
	defer timeout.Stop()
	for _, ev := range s.pending {
		select {
		case s.updates <- ev:
		case <-timeout.C:
			return
		}
	}
}

func (s *Session) publishFinal() {
	s.mu.Lock()
	s.final = s.state.clone()
	s.mu.Unlock()
}

// end stops the loop after tearing down subscriptions
func (s *Session) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.logger.Info().Err(err).Msg("Session ended")
	s.teardown()
	s.state = SessionState{}
	ev := Event{Type: EventSessionClosed}
	if err != nil {
		ev.Error = Message(err)
	}
	s.pending = append(s.pending, ev)
	s.stopped = true
	s.cancel()
}

func (s *Session) teardown() {
	if s.userSub != nil {
		s.userSub.Close()
		s.userSub = nil
	}
	s.closePartner()
	s.closeCouple()
	s.closeInvite()
}

func (s *Session) closePartner() {
	if s.partnerSub != nil {
		s.partnerSub.Close()
		s.partnerSub = nil
	}
}

func (s *Session) closeCouple() {
	if s.coupleSub != nil {
		s.coupleSub.Close()
		s.coupleSub = nil
	}
	if s.photosSub != nil {
		s.photosSub.Close()
		s.photosSub = nil
	}
}

func (s *Session) closeInvite() {
	if s.inviteSub != nil {
		s.inviteSub.Close()
		s.inviteSub = nil
	}
}

// emit queues an event carrying the current state. A queued event of the
// same type is dropped and the new one goes last, so the final event a slow
// owner receives always holds the latest state.
func (s *Session) emit(t EventType) {
	ev := Event{Type: t, State: s.state.clone()}
	if t != EventPartnerConnected {
		kept := s.pending[:0]
		for _, p := range s.pending {
			if p.Type != t {
				kept = append(kept, p)
			}
		}
		s.pending = kept
	}
	s.pending = append(s.pending, ev)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *Session) onUser(snap *docstore.Snapshot) {
	user, err := repository.DecodeUser(snap)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to decode user")
		return
	}
	if user == nil {
		s.end(ErrNotAuthenticated)
		return
	}
	s.state.User = user
	s.emit(EventUser)

	if partnerID := deref(user.PartnerID); partnerID != s.partnerID {
		s.closePartner()
		s.partnerID = partnerID
		s.state.Partner = nil
		if partnerID != "" {
			sub, err := s.deps.Users.Watch(s.ctx, partnerID)
			if err != nil {
				s.logger.Error().Err(err).Str("partner_id", partnerID).Msg("Failed to subscribe to partner")
			} else {
				s.partnerSub = sub
			}
		}
		s.emit(EventPartner)
	}

	if coupleID := deref(user.CoupleID); coupleID != s.coupleID {
		s.closeCouple()
		s.coupleID = coupleID
		s.state.Couple = nil
		s.state.Photos = nil
		if coupleID != "" {
			s.subscribeCouple(coupleID)
		}
		s.emit(EventCouple)
		s.emit(EventPhotos)
	}
}

func (s *Session) subscribeCouple(coupleID string) {
	sub, err := s.deps.Couples.Watch(s.ctx, coupleID)
	if err != nil {
		s.logger.Error().Err(err).Str("couple_id", coupleID).Msg("Failed to subscribe to couple")
	} else {
		s.coupleSub = sub
	}
	photos, err := s.deps.Photos.WatchRecentByCouple(s.ctx, coupleID, s.deps.FeedLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("couple_id", coupleID).Msg("Failed to subscribe to photos")
	} else {
		s.photosSub = photos
	}
}

func (s *Session) onPartner(snap *docstore.Snapshot) {
	if snap.Ref.ID != s.partnerID {
		return
	}
	partner, err := repository.DecodeUser(snap)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to decode partner")
		return
	}
	s.state.Partner = partner
	s.emit(EventPartner)
}

func (s *Session) onCouple(snap *docstore.Snapshot) {
	if snap.Ref.ID != s.coupleID {
		return
	}
	couple, err := repository.DecodeCouple(snap)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to decode couple")
		return
	}
	s.state.Couple = couple
	s.emit(EventCouple)
}

func (s *Session) onPhotos(snaps []*docstore.Snapshot) {
	photos, err := repository.DecodePhotos(snaps)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to decode photos")
		return
	}
	s.state.Photos = photos
	s.emit(EventPhotos)
}

func (s *Session) onInvite(snap *docstore.Snapshot) {
	invite, err := repository.DecodeInvite(snap)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to decode invite")
		return
	}
	switch {
	case invite == nil:
		// superseded or removed
		s.closeInvite()
		s.state.PendingInvite = nil
		s.state.Waiting = false
		s.emit(EventInvite)
	case invite.IsUsed():
		s.closeInvite()
		s.state.PendingInvite = nil
		s.state.Waiting = false
		s.emit(EventPartnerConnected)
	default:
		s.state.PendingInvite = invite
		s.emit(EventInvite)
	}
}
