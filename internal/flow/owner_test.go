package flow_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botforge/internal/broadcast"
	"botforge/internal/flow"
	"botforge/internal/state"
	"botforge/internal/store"
	"botforge/internal/transport"
	"botforge/internal/transport/transporttest"
	"botforge/pkg/logx"
)

const (
	botCred = "111:aaa"
	ownerID = int64(7)
)

type ownerFixture struct {
	store   *store.Store
	client  *transporttest.Client
	handler *flow.Handler
	tenant  store.Tenant
}

func newOwnerFixture(t *testing.T) ownerFixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	factory := transporttest.NewFactory()
	engine := broadcast.New(st, factory, broadcast.Config{}, logx.Nop())
	handler := flow.NewHandler(st, engine, "https://t.me/announce", logx.Nop())

	ten := store.Tenant{Credential: botCred, DisplayName: "@demo", OwnerID: ownerID}
	require.NoError(t, st.CreateTenant(context.Background(), ten))
	_, _, err = st.EnsureBotUser(context.Background(), botCred, ownerID, "Owner", "")
	require.NoError(t, err)

	return ownerFixture{store: st, client: factory.Client(botCred), handler: handler, tenant: ten}
}

// say delivers one owner message through the handler with the member
// state re-read from the store, the way the dispatcher does it.
func (fx ownerFixture) say(t *testing.T, text string) {
	t.Helper()
	ctx := context.Background()
	ten, err := fx.store.Tenant(ctx, botCred)
	require.NoError(t, err)
	bu, err := fx.store.BotUser(ctx, botCred, ownerID)
	require.NoError(t, err)
	up := transport.Update{Message: &transport.Message{ChatID: ownerID, FromID: ownerID, Text: text}}
	require.NoError(t, fx.handler.Handle(ctx, fx.client, ten, bu, up))
}

func (fx ownerFixture) ownerFlow(t *testing.T) state.Flow {
	t.Helper()
	bu, err := fx.store.BotUser(context.Background(), botCred, ownerID)
	require.NoError(t, err)
	return bu.Flow
}

func TestPanelEntryThenSetChannel(t *testing.T) {
	fx := newOwnerFixture(t)

	fx.say(t, "/panel")
	assert.Equal(t, state.FlowPanel, fx.ownerFlow(t))

	fx.say(t, flow.LabelChannel)
	assert.Equal(t, state.FlowAwaitingChannel, fx.ownerFlow(t))

	fx.say(t, "telegram.me/test_channel")
	assert.Equal(t, state.FlowPanel, fx.ownerFlow(t))

	url, err := fx.store.ChannelGate(context.Background(), botCred)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/test_channel", url)
}

func TestBadChannelURLStaysInStep(t *testing.T) {
	fx := newOwnerFixture(t)
	fx.say(t, "/panel")
	fx.say(t, flow.LabelChannel)

	fx.say(t, "not a url")
	assert.Equal(t, state.FlowAwaitingChannel, fx.ownerFlow(t))
	_, err := fx.store.ChannelGate(context.Background(), botCred)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBlockNonNumericStaysInStep(t *testing.T) {
	fx := newOwnerFixture(t)
	fx.say(t, "/panel")
	fx.say(t, flow.LabelBlock)
	require.Equal(t, state.FlowAwaitingBlock, fx.ownerFlow(t))

	fx.say(t, "not-an-id")
	assert.Equal(t, state.FlowAwaitingBlock, fx.ownerFlow(t))
}

func TestBlockSelfRejected(t *testing.T) {
	fx := newOwnerFixture(t)
	fx.say(t, "/panel")
	fx.say(t, flow.LabelBlock)

	fx.say(t, "7")
	assert.Equal(t, state.FlowAwaitingBlock, fx.ownerFlow(t))
	bu, err := fx.store.BotUser(context.Background(), botCred, ownerID)
	require.NoError(t, err)
	assert.False(t, bu.Blocked)
}

func TestBlockUnknownMemberStaysInStep(t *testing.T) {
	fx := newOwnerFixture(t)
	fx.say(t, "/panel")
	fx.say(t, flow.LabelBlock)

	fx.say(t, "424242")
	assert.Equal(t, state.FlowAwaitingBlock, fx.ownerFlow(t))
}

func TestBlockThenUnlockMember(t *testing.T) {
	fx := newOwnerFixture(t)
	ctx := context.Background()
	_, _, err := fx.store.EnsureBotUser(ctx, botCred, 100, "Mallory", "")
	require.NoError(t, err)

	fx.say(t, "/panel")
	fx.say(t, flow.LabelBlock)
	fx.say(t, "100")
	assert.Equal(t, state.FlowPanel, fx.ownerFlow(t))
	bu, err := fx.store.BotUser(ctx, botCred, 100)
	require.NoError(t, err)
	assert.True(t, bu.Blocked)

	fx.say(t, flow.LabelUnlock)
	fx.say(t, "100")
	bu, err = fx.store.BotUser(ctx, botCred, 100)
	require.NoError(t, err)
	assert.False(t, bu.Blocked)
}

func TestBroadcastEmptyAudience(t *testing.T) {
	fx := newOwnerFixture(t)
	fx.say(t, "/panel")

	// The owner is the only member, and the owner is excluded.
	require.NoError(t, fx.store.SetBotUserJoined(context.Background(), botCred, ownerID, true))
	fx.say(t, flow.LabelBroadcast)
	assert.Equal(t, state.FlowPanel, fx.ownerFlow(t))
}

func TestCancelReturnsToPanel(t *testing.T) {
	fx := newOwnerFixture(t)
	fx.say(t, "/panel")
	fx.say(t, flow.LabelChannel)
	fx.say(t, flow.LabelCancel)
	assert.Equal(t, state.FlowPanel, fx.ownerFlow(t))
}

func TestBackLeavesPanel(t *testing.T) {
	fx := newOwnerFixture(t)
	fx.say(t, "/panel")
	fx.say(t, flow.LabelBack)
	assert.Equal(t, state.FlowNone, fx.ownerFlow(t))
}
