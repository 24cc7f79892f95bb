package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/profile"
)

var ErrClosed = errors.New("session closed")

const DefaultLookupTimeout = 10 * time.Second

type (
	// AuthProvider is the external authentication service.
	AuthProvider interface {
		// Subscribe registers a listener for sign-in state changes: a principal on sign-in,
		// nil on sign-out. The current state is delivered on subscription.
		Subscribe(listener func(*profile.Principal)) (unsubscribe func())
		SignOut(ctx context.Context) error
	}

	// Recorder receives session metrics.
	Recorder interface {
		RecordRoleResolved(role string)
		RecordEventDropped()
	}

	Options struct {
		Logger        core.Logger
		Recorder      Recorder
		LookupTimeout time.Duration
	}
)

// Session tracks the signed-in principal and its role for the lifetime of the application.
// It subscribes to the AuthProvider on creation; Close releases the subscription.
type Session struct {
	provider      AuthProvider
	resolver      *profile.Resolver
	logger        core.Logger
	recorder      Recorder
	lookupTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	seq         uint64 // bumped on every state change
	generation  uint64 // bumped on every sign-in and sign-out
	inFlight    bool
	abortLookup context.CancelFunc
	closed      bool
	changed     chan struct{} // closed and replaced on every state change
	listeners   map[int]func(State)
	nextID      int
	unsubscribe func()

	notifyMu     sync.Mutex
	lastNotified uint64
}

func New(provider AuthProvider, resolver *profile.Resolver, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = core.NopLogger
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		provider:      provider,
		resolver:      resolver,
		logger:        opts.Logger,
		recorder:      opts.Recorder,
		lookupTimeout: opts.LookupTimeout,
		ctx:           ctx,
		cancel:        cancel,
		state:         Loading(nil),
		changed:       make(chan struct{}),
		listeners:     make(map[int]func(State)),
	}

	unsubscribe := provider.Subscribe(s.handleAuthEvent)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	return s
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange registers fn to be called on state changes, from the goroutine that caused them.
// Listeners never observe an older state after a newer one; a state superseded before
// delivery is skipped. Listeners must not sign in or out synchronously.
func (s *Session) OnChange(fn func(State)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Wait blocks until the session is no longer loading.
func (s *Session) Wait(ctx context.Context) (State, error) {
	for {
		s.mu.Lock()
		state, changed, closed := s.state, s.changed, s.closed
		s.mu.Unlock()

		if !state.IsLoading() {
			return state, nil
		}
		if closed {
			return state, ErrClosed
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// SignOut clears the profile cache and asks the provider to sign out.
// Provider failures are logged and swallowed: the session becomes anonymous
// only once the provider reports the sign-out.
func (s *Session) SignOut(ctx context.Context) {
	s.resolver.ClearCache()

	if err := s.provider.SignOut(ctx); err != nil {
		var args []interface{}
		if pr, ok := s.State().Principal(); ok {
			args = append(args, pr)
		}
		s.logger.Error(fmt.Sprintf("signing out: %v", err), append(args, errors.Wrap(err, "signing out"))...)
	}
}

// Close releases the provider subscription and waits for in-flight resolutions to stop.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Session) handleAuthEvent(pr *profile.Principal) {
	if pr == nil {
		s.signedOut()
		return
	}
	s.signedIn(*pr)
}

func (s *Session) signedOut() {
	s.resolver.ClearCache()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.inFlight = false // any running resolution is now stale
	if s.abortLookup != nil {
		s.abortLookup()
		s.abortLookup = nil
	}
	s.setState(Anonymous())
}

func (s *Session) signedIn(pr profile.Principal) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.inFlight {
		s.mu.Unlock()
		s.recorder.RecordEventDropped()
		s.logger.Debug("sign-in event ignored: profile resolution already in flight", pr)
		return
	}
	s.inFlight = true
	s.generation++
	gen := s.generation

	ctx, cancel := context.WithTimeout(s.ctx, s.lookupTimeout)
	s.abortLookup = cancel
	s.wg.Add(1)
	go s.resolve(ctx, cancel, gen, pr)

	s.setState(Loading(&pr))
}

func (s *Session) resolve(ctx context.Context, cancel context.CancelFunc, gen uint64, pr profile.Principal) {
	defer s.wg.Done()
	defer cancel()

	role := profile.RoleGuest
	p, err := s.resolver.Resolve(ctx, pr)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("resolving profile: %v", err), err, pr)
	} else {
		role = profile.RoleOf(p)
	}

	s.mu.Lock()
	if s.closed || gen != s.generation {
		// signed out, signed in again or torn down meanwhile
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	s.abortLookup = nil
	s.recorder.RecordRoleResolved(role.String())
	s.setState(Authenticated(pr, role))
}

// setState must be called with s.mu held; it releases it before notifying listeners.
func (s *Session) setState(state State) {
	s.state = state
	s.seq++
	seq := s.seq
	close(s.changed)
	s.changed = make(chan struct{})

	listeners := make([]func(State), 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if seq < s.lastNotified {
		return
	}
	s.lastNotified = seq
	for _, fn := range listeners {
		fn(state)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordRoleResolved(string) {}
func (nopRecorder) RecordEventDropped()       {}
