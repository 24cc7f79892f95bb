// Package jwtauth is an AuthProvider backed by HS256-signed ID tokens.
package jwtauth

import (
	"context"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/profile"
	"github.com/trezcool/masomo-portal/core/session"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Email string `json:"email,omitempty"`
}

func (c Claims) Principal() profile.Principal {
	return profile.Principal{ID: c.Subject, Email: c.Email}
}

// Provider signs principals in and out and broadcasts each change to its subscribers.
// It keeps a single current principal: one Provider per client session.
type Provider struct {
	key      []byte
	issuer   string
	audience string
	expiry   time.Duration
	nowFunc  func() time.Time

	mu        sync.Mutex
	current   *profile.Principal
	listeners map[int]func(*profile.Principal)
	nextID    int
}

var _ session.AuthProvider = (*Provider)(nil)

func NewProvider(conf *core.Config) *Provider {
	return &Provider{
		key:       []byte(conf.SecretKey),
		issuer:    conf.AppName,
		audience:  conf.Auth.Audience,
		expiry:    conf.Auth.TokenExpirationDelta,
		nowFunc:   time.Now,
		listeners: make(map[int]func(*profile.Principal)),
	}
}

// IssueToken returns a signed token identifying pr.
func (p *Provider) IssueToken(pr profile.Principal) (string, error) {
	now := p.nowFunc()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.NewString(),
			Issuer:    p.issuer,
			Subject:   pr.ID,
			Audience:  p.audience,
			ExpiresAt: now.Add(p.expiry).Unix(),
			IssuedAt:  now.Unix(),
		},
		Email: pr.Email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	ss, err := token.SignedString(p.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// Verify parses and validates a token issued by IssueToken.
func (p *Provider) Verify(tokenStr string) (Claims, error) {
	claims := new(Claims)
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return p.key, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(p.nowFunc().Unix(), true) {
		return Claims{}, ErrInvalidToken
	}
	if p.audience != "" && !claims.VerifyAudience(p.audience, true) {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}

// SignIn verifies the token and makes its principal the current one.
func (p *Provider) SignIn(ctx context.Context, tokenStr string) (profile.Principal, error) {
	if err := ctx.Err(); err != nil {
		return profile.Principal{}, err
	}
	claims, err := p.Verify(tokenStr)
	if err != nil {
		return profile.Principal{}, err
	}
	pr := claims.Principal()
	p.broadcast(&pr)
	return pr, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "signing out")
	}
	p.broadcast(nil)
	return nil
}

// Current returns the signed-in principal, if any.
func (p *Provider) Current() (profile.Principal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return profile.Principal{}, false
	}
	return *p.current, true
}

func (p *Provider) Subscribe(listener func(*profile.Principal)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	current := p.current
	p.mu.Unlock()

	listener(current)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *Provider) broadcast(pr *profile.Principal) {
	p.mu.Lock()
	p.current = pr
	listeners := make([]func(*profile.Principal), 0, len(p.listeners))
	for id := 0; id < p.nextID; id++ {
		if l, ok := p.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(pr)
	}
}
