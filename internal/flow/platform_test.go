package flow_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botforge/internal/broadcast"
	"botforge/internal/flow"
	"botforge/internal/state"
	"botforge/internal/store"
	"botforge/internal/tenant"
	"botforge/internal/transport"
	"botforge/internal/transport/transporttest"
	"botforge/pkg/logx"
)

const (
	controlCred     = "999:ctl"
	platformOwnerID = int64(1)
	visitorID       = int64(500)
)

type platformFixture struct {
	store    *store.Store
	factory  *transporttest.Factory
	client   *transporttest.Client
	platform *flow.Platform
}

func newPlatformFixture(t *testing.T) platformFixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	factory := transporttest.NewFactory()
	engine := broadcast.New(st, factory, broadcast.Config{}, logx.Nop())
	tenants := tenant.NewManager(st, factory, "https://bots.example.com", logx.Nop())
	platform := flow.NewPlatform(st, engine, tenants, controlCred, platformOwnerID, "", logx.Nop())

	for _, id := range []int64{platformOwnerID, visitorID} {
		_, _, err := st.EnsurePlatformUser(context.Background(), id, "", "")
		require.NoError(t, err)
	}
	return platformFixture{store: st, factory: factory, client: factory.Client(controlCred), platform: platform}
}

func (fx platformFixture) say(t *testing.T, from int64, text string) {
	t.Helper()
	ctx := context.Background()
	pu, err := fx.store.PlatformUser(ctx, from)
	require.NoError(t, err)
	up := transport.Update{Message: &transport.Message{ChatID: from, FromID: from, Text: text}}
	require.NoError(t, fx.platform.Handle(ctx, fx.client, pu, up))
}

func (fx platformFixture) userState(t *testing.T, id int64) store.PlatformUser {
	t.Helper()
	pu, err := fx.store.PlatformUser(context.Background(), id)
	require.NoError(t, err)
	return pu
}

func lastText(t *testing.T, c *transporttest.Client, chat int64) string {
	t.Helper()
	sent := c.SentTo(chat)
	require.NotEmpty(t, sent)
	return sent[len(sent)-1].Content.Text
}

func TestNewBotFlowCreatesTenant(t *testing.T) {
	fx := newPlatformFixture(t)
	ctx := context.Background()

	fx.say(t, visitorID, flow.LabelNewBot)
	assert.Equal(t, state.StepAwaitingToken, fx.userState(t, visitorID).Step)

	fx.say(t, visitorID, "111:aaa")
	assert.Equal(t, state.StepNone, fx.userState(t, visitorID).Step)

	ten, err := fx.store.Tenant(ctx, "111:aaa")
	require.NoError(t, err)
	assert.Equal(t, visitorID, ten.OwnerID)
	require.Len(t, fx.factory.Client("111:aaa").Registered, 1)
	assert.Contains(t, lastText(t, fx.client, visitorID), "is live")
}

func TestNewBotFlowRejectedCredential(t *testing.T) {
	fx := newPlatformFixture(t)
	fx.factory.DialErrs = map[string]error{"bad:token": errors.New("401")}

	fx.say(t, visitorID, flow.LabelNewBot)
	fx.say(t, visitorID, "bad:token")

	assert.Equal(t, state.StepNone, fx.userState(t, visitorID).Step)
	_, err := fx.store.Tenant(context.Background(), "bad:token")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewBotFlowCancel(t *testing.T) {
	fx := newPlatformFixture(t)
	fx.say(t, visitorID, flow.LabelNewBot)
	fx.say(t, visitorID, flow.LabelCancel)
	assert.Equal(t, state.StepNone, fx.userState(t, visitorID).Step)
}

func TestDeleteOwnBot(t *testing.T) {
	fx := newPlatformFixture(t)
	ctx := context.Background()

	fx.say(t, visitorID, flow.LabelNewBot)
	fx.say(t, visitorID, "111:aaa")

	fx.say(t, visitorID, flow.LabelDelBot)
	assert.Equal(t, state.StepAwaitingDelBot, fx.userState(t, visitorID).Step)
	fx.say(t, visitorID, "111:aaa")

	_, err := fx.store.Tenant(ctx, "111:aaa")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, fx.factory.Client("111:aaa").Deregistered)
}

func TestDeleteSomeoneElsesBotRefused(t *testing.T) {
	fx := newPlatformFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.store.CreateTenant(ctx, store.Tenant{
		Credential: "222:bbb", DisplayName: "@other", OwnerID: 616,
	}))

	fx.say(t, visitorID, flow.LabelDelBot)
	fx.say(t, visitorID, "222:bbb")

	_, err := fx.store.Tenant(ctx, "222:bbb")
	assert.NoError(t, err)
	assert.Equal(t, state.StepNone, fx.userState(t, visitorID).Step)
}

func TestMyBotsListsOwnTenantsOnly(t *testing.T) {
	fx := newPlatformFixture(t)

	fx.say(t, visitorID, flow.LabelNewBot)
	fx.say(t, visitorID, "111:aaa")
	require.NoError(t, fx.store.CreateTenant(context.Background(), store.Tenant{
		Credential: "222:bbb", DisplayName: "@other", OwnerID: 616,
	}))

	fx.say(t, visitorID, flow.LabelMyBots)
	listing := lastText(t, fx.client, visitorID)
	assert.Contains(t, listing, "@testbot")
	assert.NotContains(t, listing, "@other")
}

func TestAdminPanelRemoveBot(t *testing.T) {
	fx := newPlatformFixture(t)
	ctx := context.Background()

	fx.say(t, visitorID, flow.LabelNewBot)
	fx.say(t, visitorID, "111:aaa")

	fx.say(t, platformOwnerID, "/admin")
	assert.Equal(t, state.FlowPanel, fx.userState(t, platformOwnerID).Flow)
	fx.say(t, platformOwnerID, flow.LabelRemoveBot)
	assert.Equal(t, state.FlowAwaitingRemove, fx.userState(t, platformOwnerID).Flow)
	fx.say(t, platformOwnerID, "111:aaa")

	assert.Equal(t, state.FlowPanel, fx.userState(t, platformOwnerID).Flow)
	_, err := fx.store.Tenant(ctx, "111:aaa")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdminPanelRemoveUnknownBot(t *testing.T) {
	fx := newPlatformFixture(t)

	fx.say(t, platformOwnerID, "/admin")
	fx.say(t, platformOwnerID, flow.LabelRemoveBot)
	fx.say(t, platformOwnerID, "nope")

	assert.Equal(t, state.FlowPanel, fx.userState(t, platformOwnerID).Flow)
}

func TestWipeRequiresConfirm(t *testing.T) {
	fx := newPlatformFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.store.CreateTenant(ctx, store.Tenant{
		Credential: "111:aaa", DisplayName: "@demo", OwnerID: visitorID,
	}))

	fx.say(t, platformOwnerID, "/wipe")
	n, err := fx.store.CountTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fx.say(t, platformOwnerID, "/wipe confirm")
	n, err = fx.store.CountTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStartResetsPendingStep(t *testing.T) {
	fx := newPlatformFixture(t)
	fx.say(t, visitorID, flow.LabelNewBot)
	fx.say(t, visitorID, "/start")
	assert.Equal(t, state.StepNone, fx.userState(t, visitorID).Step)
}
