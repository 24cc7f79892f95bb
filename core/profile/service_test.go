package profile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend unavailable")

// repoMock records every query it answers.
type repoMock struct {
	mu      sync.Mutex
	calls   []string
	byField map[string]Profile // "collection|field|value"
	byKey   map[string]Profile // "collection|key"
	errs    map[string]error   // "collection|field" or "collection|key"
}

func newRepoMock() *repoMock {
	return &repoMock{
		byField: make(map[string]Profile),
		byKey:   make(map[string]Profile),
		errs:    make(map[string]error),
	}
}

func (r *repoMock) FindOneByField(_ context.Context, collection, fieldPath, value string) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, collection+" by "+fieldPath)
	if err, ok := r.errs[collection+"|"+fieldPath]; ok {
		return Profile{}, err
	}
	if p, ok := r.byField[strings.Join([]string{collection, fieldPath, value}, "|")]; ok {
		return p, nil
	}
	return Profile{}, ErrNotFound
}

func (r *repoMock) GetByKey(_ context.Context, collection, key string) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, collection+" by key")
	if err, ok := r.errs[collection+"|key"]; ok {
		return Profile{}, err
	}
	if p, ok := r.byKey[collection+"|"+key]; ok {
		return p, nil
	}
	return Profile{}, ErrNotFound
}

func (r *repoMock) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *repoMock) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func newTestResolver(t *testing.T, repo Repository) *Resolver {
	t.Helper()
	cache, err := NewCache(16, DefaultCacheTTL)
	require.NoError(t, err)
	return NewResolver(cache, DefaultStrategies(repo))
}

var allStrategies = []string{
	"users by contactInfo.email",
	"users by email",
	"faculty by personalInfo.email",
	"admins by personalInfo.email",
	"users by key",
}

func TestResolver_Resolve_fallbackOrder(t *testing.T) {
	pr := Principal{ID: "uid1", Email: "a@school.org"}
	teacher := Profile{ID: "T100", Collection: CollectionFaculty, Data: map[string]interface{}{
		"personalInfo": map[string]interface{}{"email": "a@school.org", "role": "Teacher"},
	}}
	byKey := Profile{ID: "uid1", Collection: CollectionUsers, Data: map[string]interface{}{"role": "student"}}

	tests := []struct {
		name      string
		setup     func(r *repoMock)
		wantID    string
		wantCalls []string
	}{
		{
			name: "first strategy wins",
			setup: func(r *repoMock) {
				r.byField["users|contactInfo.email|a@school.org"] = Profile{ID: "U1", Collection: CollectionUsers}
				r.byField["faculty|personalInfo.email|a@school.org"] = teacher
			},
			wantID:    "U1",
			wantCalls: allStrategies[:1],
		},
		{
			name:      "third strategy only",
			setup:     func(r *repoMock) { r.byField["faculty|personalInfo.email|a@school.org"] = teacher },
			wantID:    "T100",
			wantCalls: allStrategies[:3],
		},
		{
			name:      "principal id as key",
			setup:     func(r *repoMock) { r.byKey["users|uid1"] = byKey },
			wantID:    "uid1",
			wantCalls: allStrategies,
		},
		{
			name: "failing strategies are skipped",
			setup: func(r *repoMock) {
				r.errs["users|contactInfo.email"] = errBackend
				r.errs["users|email"] = errBackend
				r.byField["faculty|personalInfo.email|a@school.org"] = teacher
			},
			wantID:    "T100",
			wantCalls: allStrategies[:3],
		},
		{
			name:      "no match",
			setup:     func(r *repoMock) {},
			wantCalls: allStrategies,
		},
		{
			name: "every strategy fails",
			setup: func(r *repoMock) {
				for _, k := range []string{"users|contactInfo.email", "users|email", "faculty|personalInfo.email", "admins|personalInfo.email", "users|key"} {
					r.errs[k] = errBackend
				}
			},
			wantCalls: allStrategies,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepoMock()
			tt.setup(repo)
			res := newTestResolver(t, repo)

			p, err := res.Resolve(context.Background(), pr)
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, p)
			} else if assert.NotNil(t, p) {
				assert.Equal(t, tt.wantID, p.ID)
			}
			assert.Equal(t, tt.wantCalls, repo.Calls())
		})
	}
}

func TestResolver_Resolve_noEmail(t *testing.T) {
	repo := newRepoMock()
	res := newTestResolver(t, repo)

	p, err := res.Resolve(context.Background(), Principal{ID: "uid1", Email: "  "})
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, repo.Calls())
	assert.Zero(t, res.Cache().Len())
}

func TestResolver_Resolve_email(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		email   string
		wantID  string
		wantKey string
	}{
		{name: "trimmed", stored: "a@school.org", email: " a@school.org\t", wantID: "U2", wantKey: "a@school.org"},
		{name: "mixed case kept", stored: "Jane.Doe@School.org", email: "Jane.Doe@School.org", wantID: "U2", wantKey: "Jane.Doe@School.org"},
		{name: "case differs from record", stored: "Jane.Doe@School.org", email: "jane.doe@school.org", wantKey: "jane.doe@school.org"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepoMock()
			repo.byField["users|email|"+tt.stored] = Profile{ID: "U2"}
			res := newTestResolver(t, repo)

			p, err := res.Resolve(context.Background(), Principal{ID: "uid1", Email: tt.email})
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, p)
			} else if assert.NotNil(t, p) {
				assert.Equal(t, tt.wantID, p.ID)
			}
			_, ok := res.Cache().Get(CacheKey{Email: tt.wantKey, PrincipalID: "uid1"})
			assert.True(t, ok, "result is cached under the trimmed email")
		})
	}
}

// gateStrategy blocks until released, whatever the context, then returns its profile.
type gateStrategy struct {
	started chan struct{}
	release chan struct{}
	profile *Profile
}

func (s *gateStrategy) Name() string { return "gate" }

func (s *gateStrategy) Lookup(context.Context, string, string) (*Profile, error) {
	close(s.started)
	<-s.release
	return s.profile, nil
}

func TestResolver_Resolve_clearedDuringLookup(t *testing.T) {
	strategy := &gateStrategy{
		started: make(chan struct{}),
		release: make(chan struct{}),
		profile: &Profile{ID: "A1", Data: map[string]interface{}{"role": "admin"}},
	}
	cache, err := NewCache(4, time.Minute)
	require.NoError(t, err)
	res := NewResolver(cache, []Strategy{strategy})
	pr := Principal{ID: "uid1", Email: "a@school.org"}

	type result struct {
		p   *Profile
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := res.Resolve(context.Background(), pr)
		done <- result{p, err}
	}()

	<-strategy.started
	res.ClearCache()
	close(strategy.release)

	got := <-done
	require.NoError(t, got.err)
	require.NotNil(t, got.p)
	assert.Equal(t, "A1", got.p.ID, "the caller still gets its answer")
	_, ok := res.Cache().Get(CacheKey{Email: pr.Email, PrincipalID: pr.ID})
	assert.False(t, ok, "a result fetched before the clear is not cached")
	assert.Zero(t, res.Cache().Len())
}

func TestResolver_Resolve_contextDoneAfterHit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	strategy := &gateStrategy{
		started: make(chan struct{}),
		release: make(chan struct{}),
		profile: &Profile{ID: "A1"},
	}
	cache, err := NewCache(4, time.Minute)
	require.NoError(t, err)
	res := NewResolver(cache, []Strategy{strategy})

	go func() {
		<-strategy.started
		cancel()
		close(strategy.release)
	}()
	p, err := res.Resolve(ctx, Principal{ID: "uid1", Email: "a@school.org"})
	assert.Nil(t, p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Cache().Len())
}

func TestResolver_Resolve_cache(t *testing.T) {
	pr := Principal{ID: "uid1", Email: "a@school.org"}
	key := CacheKey{Email: "a@school.org", PrincipalID: "uid1"}
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	cached := &Profile{ID: "CACHED"}

	tests := []struct {
		name      string
		value     *Profile
		age       time.Duration
		wantID    string
		wantCalls int
	}{
		{name: "fresh entry", value: cached, age: DefaultCacheTTL - time.Second, wantID: "CACHED"},
		{name: "fresh negative entry", value: nil, age: time.Minute},
		{name: "entry expired at TTL", value: cached, age: DefaultCacheTTL, wantCalls: len(allStrategies)},
		{name: "stale negative entry", value: nil, age: time.Hour, wantCalls: len(allStrategies)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepoMock()
			res := newTestResolver(t, repo)
			res.cache.nowFunc = func() time.Time { return now }
			res.cache.Set(key, tt.value, now.Add(-tt.age))

			p, err := res.Resolve(context.Background(), pr)
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, p)
			} else if assert.NotNil(t, p) {
				assert.Equal(t, tt.wantID, p.ID)
			}
			assert.Len(t, repo.Calls(), tt.wantCalls)
		})
	}
}

func TestResolver_Resolve_cachesResults(t *testing.T) {
	pr := Principal{ID: "uid1", Email: "a@school.org"}
	repo := newRepoMock()
	res := newTestResolver(t, repo)

	// miss is cached too
	p, err := res.Resolve(context.Background(), pr)
	require.NoError(t, err)
	assert.Nil(t, p)
	cached, ok := res.Cache().Get(CacheKey{Email: "a@school.org", PrincipalID: "uid1"})
	assert.True(t, ok)
	assert.Nil(t, cached)

	repo.reset()
	repo.byField["users|email|a@school.org"] = Profile{ID: "U2"}
	p, err = res.Resolve(context.Background(), pr)
	require.NoError(t, err)
	assert.Nil(t, p, "negative result must be served from cache")
	assert.Empty(t, repo.Calls())

	res.ClearCache()
	p, err = res.Resolve(context.Background(), pr)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "U2", p.ID)
	assert.Equal(t, allStrategies[:2], repo.Calls())
}

func TestResolver_Resolve_contextDone(t *testing.T) {
	repo := newRepoMock()
	res := newTestResolver(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := res.Resolve(ctx, Principal{ID: "uid1", Email: "a@school.org"})
	assert.Nil(t, p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, repo.Calls())
	assert.Zero(t, res.Cache().Len(), "nothing is cached when the lookup is interrupted")
}

type recorderMock struct {
	hits, misses int
	outcomes     []string
}

func (r *recorderMock) RecordCacheHit()  { r.hits++ }
func (r *recorderMock) RecordCacheMiss() { r.misses++ }
func (r *recorderMock) RecordStrategyResult(strategy, outcome string) {
	r.outcomes = append(r.outcomes, strategy+":"+outcome)
}
func (r *recorderMock) RecordLookupLatency(time.Duration) {}

func TestResolver_Resolve_recorder(t *testing.T) {
	repo := newRepoMock()
	repo.errs["users|contactInfo.email"] = errBackend
	repo.byField["users|email|a@school.org"] = Profile{ID: "U2"}
	cache, err := NewCache(4, time.Minute)
	require.NoError(t, err)
	rec := new(recorderMock)
	res := NewResolver(cache, DefaultStrategies(repo), WithRecorder(rec))

	pr := Principal{ID: "uid1", Email: "a@school.org"}
	_, _ = res.Resolve(context.Background(), pr)
	_, _ = res.Resolve(context.Background(), pr)

	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 1, rec.misses)
	assert.Equal(t, []string{"users by contactInfo.email:error", "users by email:hit"}, rec.outcomes)
}
