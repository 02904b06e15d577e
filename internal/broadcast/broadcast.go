// Package broadcast fans one message out to many recipients, paced to
// stay under the platform's outbound rate ceiling. Fan-out is
// deliberately sequential: the pacing is the backpressure mechanism.
package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"botforge/internal/store"
	"botforge/internal/telemetry"
	"botforge/internal/transport"
	"botforge/pkg/logx"
)

// MsgUnsupported replaces content kinds the transport cannot relay.
const MsgUnsupported = "⚠️ This message type is not supported."

type Config struct {
	// RecipientInterval paces sends within one tenant. Zero disables
	// pacing (tests).
	RecipientInterval time.Duration
	// TenantInterval paces between tenants in a cross-tenant sweep.
	TenantInterval time.Duration
}

type Engine struct {
	store   *store.Store
	factory transport.Factory
	// Limiters are injected capabilities with their own synchronization;
	// nil means unpaced.
	perSend   *rate.Limiter
	perTenant *rate.Limiter
	log       logx.Logger
}

func New(st *store.Store, factory transport.Factory, cfg Config, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{store: st, factory: factory, log: log}
	if cfg.RecipientInterval > 0 {
		e.perSend = rate.NewLimiter(rate.Every(cfg.RecipientInterval), 1)
	}
	if cfg.TenantInterval > 0 {
		e.perTenant = rate.NewLimiter(rate.Every(cfg.TenantInterval), 1)
	}
	return e
}

// ToSet delivers content to each recipient in order, skipping exclude.
// Per-recipient failures are absorbed into the failure tally and never
// abort the batch.
func (e *Engine) ToSet(ctx context.Context, client transport.Client, content transport.Content, recipients []int64, exclude int64) (ok, failed int) {
	jobID := uuid.NewString()
	start := time.Now()
	log := e.log.With(logx.String("job", jobID))
	log.Info("broadcast started", logx.Int("total", len(recipients)))

	for _, r := range recipients {
		if r == exclude {
			continue
		}
		if e.perSend != nil {
			if err := e.perSend.Wait(ctx); err != nil {
				// Context gone; every remaining recipient takes this
				// branch and is tallied as a failure.
				failed++
				telemetry.BroadcastSends.WithLabelValues("fail").Inc()
				continue
			}
		}
		if err := e.sendOne(ctx, client, r, content); err != nil {
			failed++
			telemetry.BroadcastSends.WithLabelValues("fail").Inc()
			log.Debug("broadcast send failed", logx.Int64("chat_id", r), logx.Err(err))
			continue
		}
		ok++
		telemetry.BroadcastSends.WithLabelValues("ok").Inc()
	}

	fields := []logx.Field{
		logx.Int("ok", ok), logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)),
	}
	if failed > 0 {
		log.Warn("broadcast finished with failures", fields...)
	} else {
		log.Info("broadcast finished", fields...)
	}
	return ok, failed
}

func (e *Engine) sendOne(ctx context.Context, client transport.Client, chatID int64, content transport.Content) error {
	if content.Kind == transport.ContentUnknown {
		return client.SendText(ctx, chatID, MsgUnsupported, nil)
	}
	return client.Send(ctx, chatID, content, nil)
}

// AcrossTenants sweeps every tenant in descending audience order and
// delivers content to each tenant's joined, unblocked members through a
// client scoped to that tenant's credential. Tenants with no eligible
// audience are skipped without consuming the inter-tenant pause.
func (e *Engine) AcrossTenants(ctx context.Context, content transport.Content, exclude int64) (totalOK, totalFailed int, err error) {
	tenants, err := e.store.TenantsByAudience(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, t := range tenants {
		if t.Joined == 0 {
			continue
		}
		recipients, err := e.store.Recipients(ctx, t.Credential)
		if err != nil {
			e.log.Warn("sweep recipients load failed", logx.String("tenant", t.DisplayName), logx.Err(err))
			continue
		}
		if len(recipients) == 0 {
			continue
		}
		client, err := e.factory.Open(t.Credential)
		if err != nil {
			e.log.Warn("sweep client open failed", logx.String("tenant", t.DisplayName), logx.Err(err))
			continue
		}
		ok, failed := e.ToSet(ctx, client, content, recipients, exclude)
		totalOK += ok
		totalFailed += failed

		// Each tenant's burst is rate-limited independently upstream;
		// pause before hammering the next one.
		if e.perTenant != nil {
			if err := e.perTenant.Wait(ctx); err != nil {
				return totalOK, totalFailed, nil
			}
		}
	}
	return totalOK, totalFailed, nil
}
