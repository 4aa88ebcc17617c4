package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnknownCredential is returned by StaticProvisioner for ids it never issued
var ErrUnknownCredential = errors.New("unknown credential")

// StaticProvisioner is an in-process provisioner for local runs and tests.
// Setting CreateErr or UpdateErr makes the matching call fail.
type StaticProvisioner struct {
	mu        sync.Mutex
	limits    map[string]decimal.Decimal
	created   int
	updated   int
	CreateErr error
	UpdateErr error
	Delay     time.Duration
}

// NewStaticProvisioner creates an empty provisioner
func NewStaticProvisioner() *StaticProvisioner {
	return &StaticProvisioner{limits: make(map[string]decimal.Decimal)}
}

func (p *StaticProvisioner) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(p.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *StaticProvisioner) CreateCredential(ctx context.Context, req CredentialRequest) (*Credential, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.CreateErr != nil {
		return nil, p.CreateErr
	}

	id := uuid.NewString()
	p.limits[id] = req.LimitUSD
	p.created++
	return &Credential{
		ID:        id,
		Secret:    fmt.Sprintf("sk-static-%s", id),
		Name:      req.Name,
		LimitUSD:  req.LimitUSD,
		CreatedAt: time.Now(),
	}, nil
}

func (p *StaticProvisioner) UpdateCredentialLimit(ctx context.Context, credentialID string, limitUSD decimal.Decimal) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.UpdateErr != nil {
		return p.UpdateErr
	}
	if _, ok := p.limits[credentialID]; !ok {
		return ErrUnknownCredential
	}
	p.limits[credentialID] = limitUSD
	p.updated++
	return nil
}

// Limit returns the vendor-side limit recorded for credentialID
func (p *StaticProvisioner) Limit(credentialID string) (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limits[credentialID]
	return l, ok
}

// Calls returns how many create and update calls succeeded
func (p *StaticProvisioner) Calls() (created, updated int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.created, p.updated
}

// SetErrors changes the injected failures under the lock
func (p *StaticProvisioner) SetErrors(createErr, updateErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CreateErr = createErr
	p.UpdateErr = updateErr
}
