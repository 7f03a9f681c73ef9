// Package sandbox provides in-process identity and exchange providers with
// configurable latency and injectable faults. The server runs against them
// outside production and tests use them to drive the provisioning saga.
package sandbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tiergate/internal/providers"
)

type Option func(*config)

type config struct {
	latency time.Duration
	blocked map[string]struct{}
}

func WithLatency(d time.Duration) Option {
	return func(c *config) {
		c.latency = d
	}
}

// WithBlockedCountries makes the exchange reject sub-accounts for profiles
// from the given countries as a compliance decision.
func WithBlockedCountries(countries ...string) Option {
	return func(c *config) {
		for _, country := range countries {
			c.blocked[strings.ToUpper(country)] = struct{}{}
		}
	}
}

func newConfig(opts []Option) config {
	c := config{blocked: make(map[string]struct{})}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Identity is an in-memory IdentityProvider keyed by normalized email.
type Identity struct {
	cfg    config
	faults faults

	mu      sync.Mutex
	byEmail map[string]string
	emails  map[string]string
	deletes int
}

func NewIdentity(opts ...Option) *Identity {
	return &Identity{
		cfg:     newConfig(opts),
		byEmail: make(map[string]string),
		emails:  make(map[string]string),
	}
}

func (p *Identity) CreateAccount(ctx context.Context, email string, profile providers.Profile) (string, error) {
	if err := wait(ctx, p.cfg.latency); err != nil {
		return "", err
	}
	if err := p.faults.trigger(ctx, "identity", OpCreateAccount); err != nil {
		return "", err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") || strings.TrimSpace(profile.FirstName) == "" || strings.TrimSpace(profile.LastName) == "" {
		return "", providers.NewError(providers.CategoryInvalidInput, "identity", "email and full name are required", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byEmail[email]; ok {
		return "", providers.NewError(providers.CategoryDuplicateEmail, "identity", "email already registered", nil)
	}
	id := "idn_" + uuid.NewString()
	p.byEmail[email] = id
	p.emails[id] = email
	return id, nil
}

func (p *Identity) DeleteAccount(ctx context.Context, identityID string) error {
	if err := wait(ctx, p.cfg.latency); err != nil {
		return err
	}
	if err := p.faults.trigger(ctx, "identity", OpDeleteAccount); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	email, ok := p.emails[identityID]
	if !ok {
		return providers.NewError(providers.CategoryNotFound, "identity", "account not found", nil)
	}
	delete(p.emails, identityID)
	delete(p.byEmail, email)
	p.deletes++
	return nil
}

// Exists reports whether identityID is a live account.
func (p *Identity) Exists(identityID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.emails[identityID]
	return ok
}

func (p *Identity) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.emails)
}

func (p *Identity) Deletes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deletes
}

// Fail makes the next n calls of op fail with category.
func (p *Identity) Fail(op Op, category providers.Category, n int) {
	p.faults.add(op, &fault{category: category, count: n})
}

// Hang makes the next n calls of op block until their context ends.
func (p *Identity) Hang(op Op, n int) {
	p.faults.add(op, &fault{hang: true, count: n})
}

// Exchange is an in-memory ExchangeAccountProvider.
type Exchange struct {
	cfg    config
	faults faults

	mu   sync.Mutex
	subs map[string]string
}

func NewExchange(opts ...Option) *Exchange {
	return &Exchange{cfg: newConfig(opts), subs: make(map[string]string)}
}

func (p *Exchange) CreateSubAccount(ctx context.Context, identityID string, profile providers.Profile) (string, error) {
	if err := wait(ctx, p.cfg.latency); err != nil {
		return "", err
	}
	if err := p.faults.trigger(ctx, "exchange", OpCreateSubAccount); err != nil {
		return "", err
	}
	if _, blocked := p.cfg.blocked[strings.ToUpper(profile.Country)]; blocked {
		return "", providers.NewError(providers.CategoryRejectedByCompliance, "exchange", "jurisdiction not supported", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[identityID]; ok {
		return sub, nil
	}
	sub := "sub_" + uuid.NewString()
	p.subs[identityID] = sub
	return sub, nil
}

func (p *Exchange) SubAccountOf(identityID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[identityID]
	return sub, ok
}

func (p *Exchange) Fail(op Op, category providers.Category, n int) {
	p.faults.add(op, &fault{category: category, count: n})
}

func (p *Exchange) Hang(op Op, n int) {
	p.faults.add(op, &fault{hang: true, count: n})
}
