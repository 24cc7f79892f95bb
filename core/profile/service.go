package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
)

var (
	// errors
	ErrNotFound          = errors.New("profile not found")
	ErrUnknownCollection = errors.New("unknown collection")
)

// Collections
const (
	CollectionUsers   = "users"
	CollectionFaculty = "faculty"
	CollectionAdmins  = "admins"
)

var Collections = []string{CollectionUsers, CollectionFaculty, CollectionAdmins}

type (
	// Repository answers the read-only queries of the profile backend.
	// Both methods return ErrNotFound when no document matches.
	Repository interface {
		// FindOneByField returns the first document of `collection` whose value at `fieldPath` equals `value`.
		FindOneByField(ctx context.Context, collection, fieldPath, value string) (Profile, error)
		// GetByKey returns the document of `collection` identified by `key`.
		GetByKey(ctx context.Context, collection, key string) (Profile, error)
	}

	// Strategy is one step of the ordered profile lookup chain.
	// It returns (nil, nil) when it has no match.
	Strategy interface {
		Name() string
		Lookup(ctx context.Context, email, principalID string) (*Profile, error)
	}

	// Recorder receives lookup metrics.
	Recorder interface {
		RecordCacheHit()
		RecordCacheMiss()
		RecordStrategyResult(strategy, outcome string)
		RecordLookupLatency(d time.Duration)
	}
)

// Strategy outcomes
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeError = "error"
)

type fieldStrategy struct {
	repo       Repository
	collection string
	fieldPath  string
}

// ByField looks up `collection` by equality of the principal's email at `fieldPath`.
func ByField(repo Repository, collection, fieldPath string) Strategy {
	return fieldStrategy{repo: repo, collection: collection, fieldPath: fieldPath}
}

func (s fieldStrategy) Name() string {
	return fmt.Sprintf("%s by %s", s.collection, s.fieldPath)
}

func (s fieldStrategy) Lookup(ctx context.Context, email, _ string) (*Profile, error) {
	return found(s.repo.FindOneByField(ctx, s.collection, s.fieldPath, email))
}

type keyStrategy struct {
	repo       Repository
	collection string
}

// ByKey looks up `collection` using the principal ID as document key.
func ByKey(repo Repository, collection string) Strategy {
	return keyStrategy{repo: repo, collection: collection}
}

func (s keyStrategy) Name() string {
	return s.collection + " by key"
}

func (s keyStrategy) Lookup(ctx context.Context, _, principalID string) (*Profile, error) {
	if principalID == "" {
		return nil, nil
	}
	return found(s.repo.GetByKey(ctx, s.collection, principalID))
}

func found(p Profile, err error) (*Profile, error) {
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// DefaultStrategies returns the lookup chain, in order. Current and legacy records
// keep the identifying email in different places.
func DefaultStrategies(repo Repository) []Strategy {
	return []Strategy{
		ByField(repo, CollectionUsers, "contactInfo.email"),
		ByField(repo, CollectionUsers, "email"),
		ByField(repo, CollectionFaculty, "personalInfo.email"),
		ByField(repo, CollectionAdmins, "personalInfo.email"),
		ByKey(repo, CollectionUsers),
	}
}

// Resolver finds the profile of a principal by running the strategies in order, behind a Cache.
type Resolver struct {
	strategies []Strategy
	cache      *Cache
	logger     core.Logger
	recorder   Recorder
}

type ResolverOption func(*Resolver)

func WithRecorder(rec Recorder) ResolverOption {
	return func(r *Resolver) { r.recorder = rec }
}

func WithLogger(logger core.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver returns a Resolver that logs and records nothing unless told otherwise.
func NewResolver(cache *Cache, strategies []Strategy, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		strategies: strategies,
		cache:      cache,
		logger:     core.NopLogger,
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the profile of the principal, or nil if none of the strategies matched.
// Strategy failures count as misses. The only error returned is the context's, in which
// case nothing is cached. The email is trimmed but matched as stored, case included.
func (r *Resolver) Resolve(ctx context.Context, pr Principal) (*Profile, error) {
	email := core.CleanString(pr.Email)
	if email == "" {
		return nil, nil
	}

	key := CacheKey{Email: email, PrincipalID: pr.ID}
	if p, ok := r.cache.Get(key); ok {
		r.recorder.RecordCacheHit()
		return p, nil
	}
	r.recorder.RecordCacheMiss()
	epoch := r.cache.Epoch()

	start := time.Now()
	defer func() { r.recorder.RecordLookupLatency(time.Since(start)) }()

	var match *Profile
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "resolving profile")
		}
		p, err := s.Lookup(ctx, email, pr.ID)
		if err != nil {
			r.recorder.RecordStrategyResult(s.Name(), OutcomeError)
			r.logger.Warn(fmt.Sprintf("profile lookup %q failed: %v", s.Name(), err), err, pr)
			continue
		}
		if p == nil {
			r.recorder.RecordStrategyResult(s.Name(), OutcomeMiss)
			continue
		}
		r.recorder.RecordStrategyResult(s.Name(), OutcomeHit)
		r.logger.Debug(fmt.Sprintf("profile %s/%s matched %q", p.Collection, p.ID, s.Name()), pr)
		match = p
		break
	}
	// a strategy may have swallowed or ignored the context's error
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "resolving profile")
	}

	if !r.cache.SetInEpoch(epoch, key, match, r.cache.now()) {
		r.logger.Debug("profile cache cleared during lookup: result not cached", pr)
	}
	return match, nil
}

// ClearCache drops every cached lookup, including the results of lookups still running.
func (r *Resolver) ClearCache() {
	r.cache.Clear()
}

// Cache exposes the resolver's cache, for inspection.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

func (r *Resolver) Strategies() []Strategy {
	return r.strategies
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheHit()                     {}
func (nopRecorder) RecordCacheMiss()                    {}
func (nopRecorder) RecordStrategyResult(string, string) {}
func (nopRecorder) RecordLookupLatency(time.Duration)   {}
