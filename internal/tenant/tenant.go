// Package tenant manages the lifecycle of hosted bot instances:
// credential validation, webhook registration, creation, teardown.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"botforge/internal/store"
	"botforge/internal/transport"
	"botforge/pkg/logx"
)

var (
	ErrInvalidCredential   = errors.New("tenant: credential rejected by the platform")
	ErrDuplicateCredential = errors.New("tenant: credential already registered")
	ErrWebhookRegistration = errors.New("tenant: webhook registration failed")
	ErrNotFound            = errors.New("tenant: not found")
)

type Manager struct {
	store   *store.Store
	factory transport.Factory
	// hookBase is the public base URL the dynamic endpoint hangs off,
	// e.g. "https://bots.example.com".
	hookBase string
	log      logx.Logger
}

func NewManager(st *store.Store, factory transport.Factory, hookBase string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{store: st, factory: factory, hookBase: strings.TrimRight(hookBase, "/"), log: log}
}

// HookURL returns the dynamic endpoint for a credential.
func (m *Manager) HookURL(credential string) string {
	return m.hookBase + "/hook/" + credential
}

// Create validates the candidate credential against the platform,
// registers the webhook, and persists the tenant. Nothing is persisted
// when any step fails; there is no partial tenant.
func (m *Manager) Create(ctx context.Context, credential string, requester int64, requesterName string) (store.Tenant, error) {
	credential = strings.TrimSpace(credential)

	if _, err := m.store.Tenant(ctx, credential); err == nil {
		return store.Tenant{}, ErrDuplicateCredential
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Tenant{}, err
	}

	client, err := m.factory.Dial(ctx, credential)
	if err != nil {
		return store.Tenant{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	self := client.Self()

	if err := client.RegisterWebhook(ctx, m.HookURL(credential)); err != nil {
		return store.Tenant{}, fmt.Errorf("%w: %v", ErrWebhookRegistration, err)
	}

	t := store.Tenant{
		Credential:  credential,
		DisplayName: displayName(self),
		OwnerID:     requester,
		CreatorName: requesterName,
		CreatedAt:   time.Now(),
	}
	if err := m.store.CreateTenant(ctx, t); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Tenant{}, ErrDuplicateCredential
		}
		return store.Tenant{}, err
	}

	m.log.Info("tenant created",
		logx.String("bot", t.DisplayName), logx.Int64("owner", requester))
	m.audit(ctx, store.AuditEntry{ActorID: requester, Action: "tenant.create", Target: t.DisplayName})
	return t, nil
}

// Delete deregisters the webhook (best effort), then removes dependents
// before the tenant row so a partial failure can be retried by calling
// Delete again.
func (m *Manager) Delete(ctx context.Context, credential string) error {
	t, err := m.store.Tenant(ctx, credential)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if client, err := m.factory.Open(credential); err == nil {
		if err := client.DeregisterWebhook(ctx); err != nil {
			m.log.Warn("webhook deregistration failed", logx.String("bot", t.DisplayName), logx.Err(err))
		}
	}

	if err := m.store.DeleteBotUsersByTenant(ctx, credential); err != nil {
		return err
	}
	if err := m.store.DeleteChannelGateByTenant(ctx, credential); err != nil {
		return err
	}
	if err := m.store.DeleteTenant(ctx, credential); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	m.log.Info("tenant deleted", logx.String("bot", t.DisplayName))
	m.audit(ctx, store.AuditEntry{ActorID: t.OwnerID, Action: "tenant.delete", Target: t.DisplayName})
	return nil
}

func (m *Manager) ByOwner(ctx context.Context, owner int64) ([]store.Tenant, error) {
	return m.store.TenantsByOwner(ctx, owner)
}

func (m *Manager) audit(ctx context.Context, e store.AuditEntry) {
	if err := m.store.AppendAudit(ctx, e); err != nil {
		m.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func displayName(id transport.Identity) string {
	if id.Username != "" {
		return "@" + id.Username
	}
	if id.Name != "" {
		return id.Name
	}
	return "bot"
}
