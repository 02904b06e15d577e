package app

import (
	"context"
	"fmt"
	"time"

	"botforge/pkg/logx"
)

// sendDigest mails the platform owner a daily summary: tenant count,
// total joined members, and the largest tenant.
func (a *App) sendDigest(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tenants, err := a.store.TenantsByAudience(ctx)
	if err != nil {
		a.log.Warn("digest aggregation failed", logx.Err(err))
		return
	}
	members := 0
	for _, t := range tenants {
		members += t.Joined
	}

	text := fmt.Sprintf("📅 Daily digest\nTenant bots: %d\nJoined members: %d", len(tenants), members)
	if len(tenants) > 0 && tenants[0].Joined > 0 {
		text += fmt.Sprintf("\nTop bot: %s (%d members)", tenants[0].DisplayName, tenants[0].Joined)
	}

	client, err := a.factory.Open(a.cfg.Platform.Credential)
	if err != nil {
		a.log.Warn("digest client open failed", logx.Err(err))
		return
	}
	if err := client.SendText(ctx, a.cfg.Platform.OwnerID, text, nil); err != nil {
		a.log.Warn("digest send failed", logx.Err(err))
	}
}
