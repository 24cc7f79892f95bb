package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/profile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	alice = profile.Principal{ID: "uid1", Email: "a@school.org"}
	bob   = profile.Principal{ID: "uid2", Email: "b@school.org"}
)

// providerMock delivers events synchronously, the way the real providers do.
type providerMock struct {
	mu         sync.Mutex
	listeners  map[int]func(*profile.Principal)
	nextID     int
	current    *profile.Principal
	silent     bool // no initial delivery
	signOutErr error
	onSignOut  func()
}

func newProviderMock(current *profile.Principal) *providerMock {
	return &providerMock{listeners: make(map[int]func(*profile.Principal)), current: current}
}

func (p *providerMock) Subscribe(listener func(*profile.Principal)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	current, silent := p.current, p.silent
	p.mu.Unlock()

	if !silent {
		listener(current)
	}
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *providerMock) SignOut(context.Context) error {
	if p.onSignOut != nil {
		p.onSignOut()
	}
	if p.signOutErr != nil {
		return p.signOutErr
	}
	p.emit(nil)
	return nil
}

func (p *providerMock) emit(pr *profile.Principal) {
	p.mu.Lock()
	p.current = pr
	listeners := make([]func(*profile.Principal), 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(pr)
	}
}

func (p *providerMock) subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// strategyMock answers from a map keyed by email, optionally blocking until released.
type strategyMock struct {
	mu       sync.Mutex
	profiles map[string]*profile.Profile
	block    map[string]chan struct{}
	calls    int
	started  chan string
}

func newStrategyMock() *strategyMock {
	return &strategyMock{
		profiles: make(map[string]*profile.Profile),
		block:    make(map[string]chan struct{}),
		started:  make(chan string, 16),
	}
}

func (s *strategyMock) Name() string { return "mock" }

func (s *strategyMock) Lookup(ctx context.Context, email, _ string) (*profile.Profile, error) {
	s.mu.Lock()
	s.calls++
	p, release := s.profiles[email], s.block[email]
	s.mu.Unlock()

	s.started <- email
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p, nil
}

func (s *strategyMock) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type loggerMock struct {
	mu     sync.Mutex
	errors []string
}

func (l *loggerMock) Debug(string, ...interface{}) {}
func (l *loggerMock) Info(string, ...interface{})  {}
func (l *loggerMock) Warn(string, ...interface{})  {}
func (l *loggerMock) Fatal(string, ...interface{}) {}
func (l *loggerMock) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func newTestResolver(t *testing.T, strategies ...profile.Strategy) *profile.Resolver {
	t.Helper()
	cache, err := profile.NewCache(16, profile.DefaultCacheTTL)
	require.NoError(t, err)
	return profile.NewResolver(cache, strategies)
}

func waitState(t *testing.T, s *Session) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := s.Wait(ctx)
	require.NoError(t, err)
	return state
}

func TestSession_loadingUntilFirstEvent(t *testing.T) {
	provider := newProviderMock(nil)
	provider.silent = true
	s := New(provider, newTestResolver(t, newStrategyMock()), Options{})
	defer s.Close()

	state := s.State()
	assert.True(t, state.IsLoading())
	_, ok := state.Principal()
	assert.False(t, ok)
	_, ok = state.Role()
	assert.False(t, ok)

	provider.emit(nil)
	assert.Equal(t, StatusAnonymous, waitState(t, s).Status())
}

func TestSession_signIn(t *testing.T) {
	repo := mapRepo{
		"users|email|a@school.org": {ID: "T100", Data: map[string]interface{}{
			"personalInfo": map[string]interface{}{"role": "Faculty"},
		}},
	}
	resolver := newTestResolver(t, profile.DefaultStrategies(repo)...)
	s := New(newProviderMock(&alice), resolver, Options{LookupTimeout: time.Second})
	defer s.Close()

	state := waitState(t, s)
	assert.False(t, state.IsLoading())
	assert.Equal(t, StatusAuthenticated, state.Status())
	pr, ok := state.Principal()
	assert.True(t, ok)
	assert.Equal(t, alice, pr)
	role, ok := state.Role()
	assert.True(t, ok)
	assert.Equal(t, profile.RoleFaculty, role)
}

func TestSession_signIn_roleDefaults(t *testing.T) {
	tests := []struct {
		name    string
		profile *profile.Profile
		timeout time.Duration
		block   bool
	}{
		{name: "no profile"},
		{name: "no role", profile: &profile.Profile{ID: "U1", Data: map[string]interface{}{"name": "A"}}},
		{name: "lookup timeout", block: true, timeout: 20 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy := newStrategyMock()
			strategy.profiles[alice.Email] = tt.profile
			if tt.block {
				strategy.block[alice.Email] = make(chan struct{})
			}
			s := New(newProviderMock(&alice), newTestResolver(t, strategy), Options{LookupTimeout: tt.timeout})
			defer s.Close()

			state := waitState(t, s)
			assert.Equal(t, StatusAuthenticated, state.Status())
			role, _ := state.Role()
			assert.Equal(t, profile.RoleGuest, role)
		})
	}
}

func TestSession_signIn_optimisticPrincipal(t *testing.T) {
	strategy := newStrategyMock()
	release := make(chan struct{})
	strategy.block[alice.Email] = release
	s := New(newProviderMock(&alice), newTestResolver(t, strategy), Options{})
	defer s.Close()

	<-strategy.started
	state := s.State()
	assert.True(t, state.IsLoading())
	pr, ok := state.Principal()
	assert.True(t, ok, "principal is known while its role loads")
	assert.Equal(t, alice, pr)

	close(release)
	assert.Equal(t, StatusAuthenticated, waitState(t, s).Status())
}

func TestSession_signIn_duplicateEventDropped(t *testing.T) {
	provider := newProviderMock(&alice)
	strategy := newStrategyMock()
	release := make(chan struct{})
	strategy.block[alice.Email] = release
	s := New(provider, newTestResolver(t, strategy), Options{})
	defer s.Close()

	<-strategy.started
	provider.emit(&alice)
	provider.emit(&alice)
	close(release)

	assert.Equal(t, StatusAuthenticated, waitState(t, s).Status())
	s.wg.Wait()
	assert.Equal(t, 1, strategy.Calls())

	// once the resolution is done, a new sign-in is handled (and served from cache)
	provider.emit(&alice)
	assert.Equal(t, StatusAuthenticated, waitState(t, s).Status())
	s.wg.Wait()
	assert.Equal(t, 1, strategy.Calls())
}

func TestSession_signOutDuringResolution(t *testing.T) {
	provider := newProviderMock(&alice)
	strategy := newStrategyMock()
	release := make(chan struct{})
	strategy.block[alice.Email] = release
	strategy.profiles[alice.Email] = &profile.Profile{ID: "A", Data: map[string]interface{}{"role": "admin"}}
	strategy.profiles[bob.Email] = &profile.Profile{ID: "B", Data: map[string]interface{}{"role": "student"}}
	resolver := newTestResolver(t, strategy)
	s := New(provider, resolver, Options{})
	defer s.Close()

	<-strategy.started
	provider.emit(nil)
	assert.Equal(t, StatusAnonymous, s.State().Status())

	provider.emit(&bob)
	state := waitState(t, s)
	close(release)
	s.wg.Wait()

	assert.Equal(t, state, s.State(), "stale resolution must not overwrite the session")
	pr, _ := s.State().Principal()
	assert.Equal(t, bob, pr)
	role, _ := s.State().Role()
	assert.Equal(t, profile.RoleStudent, role)

	_, cached := resolver.Cache().Get(profile.CacheKey{Email: alice.Email, PrincipalID: alice.ID})
	assert.False(t, cached, "aborted lookup is not cached")
}

func TestSession_SignOut(t *testing.T) {
	provider := newProviderMock(&alice)
	strategy := newStrategyMock()
	resolver := newTestResolver(t, strategy)
	s := New(provider, resolver, Options{})
	defer s.Close()
	require.Equal(t, StatusAuthenticated, waitState(t, s).Status())
	require.Equal(t, 1, resolver.Cache().Len())

	var cacheLenAtCall int
	provider.onSignOut = func() { cacheLenAtCall = resolver.Cache().Len() }

	s.SignOut(context.Background())
	assert.Zero(t, cacheLenAtCall, "cache is cleared before the provider is called")
	assert.Equal(t, StatusAnonymous, s.State().Status())
}

func TestSession_SignOut_providerFailure(t *testing.T) {
	provider := newProviderMock(&alice)
	provider.signOutErr = errors.New("network down")
	logger := new(loggerMock)
	resolver := newTestResolver(t, newStrategyMock())
	s := New(provider, resolver, Options{Logger: logger})
	defer s.Close()
	require.Equal(t, StatusAuthenticated, waitState(t, s).Status())

	s.SignOut(context.Background())
	assert.Zero(t, resolver.Cache().Len())
	assert.Len(t, logger.errors, 1)
	assert.Equal(t, StatusAuthenticated, s.State().Status(), "state follows provider events only")

	provider.emit(nil)
	assert.Equal(t, StatusAnonymous, s.State().Status())
}

func TestSession_signedOutEventClearsCache(t *testing.T) {
	provider := newProviderMock(&alice)
	resolver := newTestResolver(t, newStrategyMock())
	s := New(provider, resolver, Options{})
	defer s.Close()
	waitState(t, s)
	require.Equal(t, 1, resolver.Cache().Len())

	provider.emit(nil)
	assert.Zero(t, resolver.Cache().Len())
}

func TestSession_signInAfterSignOut_freshLookup(t *testing.T) {
	repo := newCountingRepo(mapRepo{
		"users|email|a@school.org": {ID: "T100", Data: map[string]interface{}{
			"personalInfo": map[string]interface{}{"role": "Faculty"},
		}},
	})
	provider := newProviderMock(&alice)
	resolver := newTestResolver(t, profile.DefaultStrategies(repo)...)
	s := New(provider, resolver, Options{})
	defer s.Close()

	role, _ := waitState(t, s).Role()
	assert.Equal(t, profile.RoleFaculty, role)
	assert.Equal(t, 2, repo.Calls(), "stops at the second strategy")

	provider.emit(nil)
	provider.emit(&alice)
	role, _ = waitState(t, s).Role()
	assert.Equal(t, profile.RoleFaculty, role)
	assert.Equal(t, 4, repo.Calls(), "signing in again within the TTL looks up afresh")
}

func TestSession_allStrategiesMiss(t *testing.T) {
	repo := newCountingRepo(mapRepo{})
	provider := newProviderMock(&alice)
	resolver := newTestResolver(t, profile.DefaultStrategies(repo)...)
	s := New(provider, resolver, Options{})
	defer s.Close()

	role, _ := waitState(t, s).Role()
	assert.Equal(t, profile.RoleGuest, role)
	assert.Equal(t, 5, repo.Calls())

	p, cached := resolver.Cache().Get(profile.CacheKey{Email: alice.Email, PrincipalID: alice.ID})
	assert.True(t, cached, "the miss is cached")
	assert.Nil(t, p)

	// a new sign-in event without sign-out is served from the cached miss
	provider.emit(&alice)
	waitState(t, s)
	s.wg.Wait()
	assert.Equal(t, 5, repo.Calls())
}

// deafStrategy ignores cancellation: its first lookup only returns once released.
type deafStrategy struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	profile *profile.Profile
}

func (s *deafStrategy) Name() string { return "deaf" }

func (s *deafStrategy) Lookup(context.Context, string, string) (*profile.Profile, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		close(s.started)
		<-s.release
	}
	return s.profile, nil
}

func (s *deafStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSession_signOutDuringResolution_resultNotCached(t *testing.T) {
	provider := newProviderMock(&alice)
	strategy := &deafStrategy{
		started: make(chan struct{}),
		release: make(chan struct{}),
		profile: &profile.Profile{ID: "A", Data: map[string]interface{}{"role": "admin"}},
	}
	resolver := newTestResolver(t, strategy)
	s := New(provider, resolver, Options{})
	defer s.Close()

	<-strategy.started
	provider.emit(nil)
	close(strategy.release)
	s.wg.Wait()

	_, cached := resolver.Cache().Get(profile.CacheKey{Email: alice.Email, PrincipalID: alice.ID})
	assert.False(t, cached, "a lookup started before sign-out is not cached")
	assert.Equal(t, StatusAnonymous, s.State().Status())

	provider.emit(&alice)
	role, _ := waitState(t, s).Role()
	assert.Equal(t, profile.RoleAdmin, role)
	assert.Equal(t, 2, strategy.Calls())
}

func TestSession_OnChange(t *testing.T) {
	provider := newProviderMock(nil)
	provider.silent = true
	strategy := newStrategyMock()
	release := make(chan struct{})
	strategy.block[alice.Email] = release
	s := New(provider, newTestResolver(t, strategy), Options{})
	defer s.Close()

	var (
		mu       sync.Mutex
		statuses []Status
	)
	remove := s.OnChange(func(state State) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, state.Status())
	})

	provider.emit(&alice)
	close(release)
	waitState(t, s)
	provider.emit(nil)
	remove()
	provider.emit(&bob)
	waitState(t, s)
	s.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusLoading, StatusAuthenticated, StatusAnonymous}, statuses)
}

func TestSession_Close(t *testing.T) {
	provider := newProviderMock(&alice)
	strategy := newStrategyMock()
	strategy.block[alice.Email] = make(chan struct{})
	s := New(provider, newTestResolver(t, strategy), Options{})
	<-strategy.started
	require.Equal(t, 1, provider.subscribers())

	require.NoError(t, s.Close())
	assert.Zero(t, provider.subscribers())
	assert.True(t, s.State().IsLoading(), "resolution finishing after close is discarded")

	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, s.Close())
}

type mailMock struct {
	mu       sync.Mutex
	messages []*core.EmailMessage
}

func (m *mailMock) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, messages...)
}

func TestSignInNotifier(t *testing.T) {
	mailSvc := new(mailMock)
	notify := NewSignInNotifier(mailSvc)

	notify(Loading(&alice))
	notify(Authenticated(alice, profile.RoleTeacher))
	notify(Authenticated(alice, profile.RoleTeacher))
	notify(Anonymous())
	notify(Authenticated(profile.Principal{ID: "no-email"}, profile.RoleGuest))

	require.Len(t, mailSvc.messages, 1)
	msg := mailSvc.messages[0]
	assert.Equal(t, "signin_notice", msg.TemplateName)
	assert.Equal(t, alice.Email, msg.To[0].Address)
	assert.Equal(t, profile.RoleTeacher, msg.TemplateData.(signInNotice).Role)
}

// mapRepo answers "collection|field|value" and "collection|key" lookups.
type mapRepo map[string]profile.Profile

func (r mapRepo) FindOneByField(_ context.Context, collection, fieldPath, value string) (profile.Profile, error) {
	if p, ok := r[collection+"|"+fieldPath+"|"+value]; ok {
		return p, nil
	}
	return profile.Profile{}, profile.ErrNotFound
}

func (r mapRepo) GetByKey(_ context.Context, collection, key string) (profile.Profile, error) {
	if p, ok := r[collection+"|"+key]; ok {
		return p, nil
	}
	return profile.Profile{}, profile.ErrNotFound
}

// countingRepo counts the queries answered by a mapRepo.
type countingRepo struct {
	mapRepo
	mu    sync.Mutex
	calls int
}

func newCountingRepo(r mapRepo) *countingRepo {
	return &countingRepo{mapRepo: r}
}

func (r *countingRepo) count() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
}

func (r *countingRepo) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *countingRepo) FindOneByField(ctx context.Context, collection, fieldPath, value string) (profile.Profile, error) {
	r.count()
	return r.mapRepo.FindOneByField(ctx, collection, fieldPath, value)
}

func (r *countingRepo) GetByKey(ctx context.Context, collection, key string) (profile.Profile, error) {
	r.count()
	return r.mapRepo.GetByKey(ctx, collection, key)
}
