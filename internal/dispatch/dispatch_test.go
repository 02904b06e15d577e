package dispatch_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botforge/internal/broadcast"
	"botforge/internal/dispatch"
	"botforge/internal/flow"
	"botforge/internal/store"
	"botforge/internal/tenant"
	"botforge/internal/transport"
	"botforge/internal/transport/transporttest"
	"botforge/pkg/logx"
)

const (
	botCred      = "111:aaa"
	ownerID      = int64(7)
	platformCred = "999:ctl"
)

type fixture struct {
	store   *store.Store
	factory *transporttest.Factory
	router  *dispatch.Router
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	factory := transporttest.NewFactory()
	engine := broadcast.New(st, factory, broadcast.Config{}, logx.Nop())
	tenants := tenant.NewManager(st, factory, "https://bots.example.com", logx.Nop())
	flows := flow.NewHandler(st, engine, "https://t.me/announce", logx.Nop())
	platform := flow.NewPlatform(st, engine, tenants, platformCred, ownerID, "https://t.me/announce", logx.Nop())
	router := dispatch.NewRouter(st, factory, flows, platform, platformCred, ownerID, logx.Nop())

	require.NoError(t, st.CreateTenant(context.Background(), store.Tenant{
		Credential: botCred, DisplayName: "@demo", OwnerID: ownerID,
	}))
	return fixture{store: st, factory: factory, router: router}
}

func msg(chat, from int64, text string) transport.Update {
	return transport.Update{Message: &transport.Message{
		ChatID: chat, FromID: from, FromName: "Dana", Text: text,
	}}
}

func TestFirstContactNotifiesOwnerOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.router.HandleTenantEvent(ctx, botCred, msg(100, 100, "/start ref42")))
	require.NoError(t, fx.router.HandleTenantEvent(ctx, botCred, msg(100, 100, "hello")))

	notices := fx.factory.Client(botCred).SentTo(ownerID)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Content.Text, "Dana")
	assert.Contains(t, notices[0].Content.Text, "ref42")

	bu, err := fx.store.BotUser(ctx, botCred, 100)
	require.NoError(t, err)
	assert.False(t, bu.FirstContact)
	assert.Equal(t, "ref42", bu.ReferredBy)
}

func TestBlockedUserGetsOnlyBanNotice(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.router.HandleTenantEvent(ctx, botCred, msg(100, 100, "/start")))
	require.NoError(t, fx.store.SetBotUserBlocked(ctx, botCred, 100, true))
	before := fx.factory.Client(botCred).SendCount()

	require.NoError(t, fx.router.HandleTenantEvent(ctx, botCred, msg(100, 100, "hello")))

	sent := fx.factory.Client(botCred).SentTo(100)
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.Equal(t, flow.MsgBanned, last.Content.Text)
	assert.Equal(t, before+1, fx.factory.Client(botCred).SendCount())
}

func TestBlockedOwnerStillPassesThrough(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.router.HandleTenantEvent(ctx, botCred, msg(ownerID, ownerID, "/start")))
	require.NoError(t, fx.store.SetBotUserBlocked(ctx, botCred, ownerID, true))

	require.NoError(t, fx.router.HandleTenantEvent(ctx, botCred, msg(ownerID, ownerID, "/panel")))

	sent := fx.factory.Client(botCred).SentTo(ownerID)
	require.NotEmpty(t, sent)
	assert.NotEqual(t, flow.MsgBanned, sent[len(sent)-1].Content.Text)
}

func TestUnknownTenant(t *testing.T) {
	fx := newFixture(t)
	err := fx.router.HandleTenantEvent(context.Background(), "no-such-cred", msg(1, 1, "hi"))
	assert.ErrorIs(t, err, dispatch.ErrUnknownTenant)
}

func TestMalformedEvent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	err := fx.router.HandleTenantEvent(ctx, botCred, transport.Update{})
	assert.ErrorIs(t, err, dispatch.ErrMalformedEvent)

	err = fx.router.HandleTenantEvent(ctx, botCred, transport.Update{Message: &transport.Message{ChatID: 5}})
	assert.ErrorIs(t, err, dispatch.ErrMalformedEvent)
}

func TestControlEventCreatesPlatformUser(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.router.HandleControlEvent(ctx, msg(200, 200, "/start")))

	pu, err := fx.store.PlatformUser(ctx, 200)
	require.NoError(t, err)
	assert.False(t, pu.FirstContact)

	notices := fx.factory.Client(platformCred).SentTo(ownerID)
	require.Len(t, notices, 1)
	assert.True(t, strings.Contains(notices[0].Content.Text, "Dana"))
}
