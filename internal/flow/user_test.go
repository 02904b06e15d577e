package flow_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botforge/internal/broadcast"
	"botforge/internal/flow"
	"botforge/internal/store"
	"botforge/internal/transport"
	"botforge/internal/transport/transporttest"
	"botforge/pkg/logx"
)

const memberID = int64(100)

type userFixture struct {
	store   *store.Store
	client  *transporttest.Client
	handler *flow.Handler
	tenant  store.Tenant
}

func newUserFixture(t *testing.T) userFixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	factory := transporttest.NewFactory()
	engine := broadcast.New(st, factory, broadcast.Config{}, logx.Nop())
	handler := flow.NewHandler(st, engine, "https://t.me/announce", logx.Nop())

	ten := store.Tenant{Credential: botCred, DisplayName: "@demo", OwnerID: ownerID}
	require.NoError(t, st.CreateTenant(context.Background(), ten))
	_, _, err = st.EnsureBotUser(context.Background(), botCred, memberID, "Dana", "")
	require.NoError(t, err)

	return userFixture{store: st, client: factory.Client(botCred), handler: handler, tenant: ten}
}

func (fx userFixture) handle(t *testing.T, up transport.Update) {
	t.Helper()
	ctx := context.Background()
	bu, err := fx.store.BotUser(ctx, botCred, memberID)
	require.NoError(t, err)
	require.NoError(t, fx.handler.Handle(ctx, fx.client, fx.tenant, bu, up))
}

func (fx userFixture) text(t *testing.T, text string) {
	fx.handle(t, transport.Update{Message: &transport.Message{ChatID: memberID, FromID: memberID, Text: text}})
}

func TestUnjoinedUserGetsGate(t *testing.T) {
	fx := newUserFixture(t)

	fx.text(t, "/start")
	fx.text(t, "hello")

	sent := fx.client.SentTo(memberID)
	require.Len(t, sent, 2)
	for _, s := range sent {
		require.NotNil(t, s.Opt)
		assert.NotNil(t, s.Opt.ReplyMarkup)
	}
}

func TestJoinAckThenEcho(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()

	fx.handle(t, transport.Update{Callback: &transport.Callback{
		ID: "cb1", ChatID: memberID, FromID: memberID, Data: "join_ack",
	}})

	bu, err := fx.store.BotUser(ctx, botCred, memberID)
	require.NoError(t, err)
	assert.True(t, bu.HasJoined)
	assert.Equal(t, []string{"cb1"}, fx.client.Answered)

	fx.text(t, "echo me")
	sent := fx.client.SentTo(memberID)
	require.NotEmpty(t, sent)
	assert.Equal(t, "echo me", sent[len(sent)-1].Content.Text)
}

func TestJoinedUserEchoesMedia(t *testing.T) {
	fx := newUserFixture(t)
	require.NoError(t, fx.store.SetBotUserJoined(context.Background(), botCred, memberID, true))

	fx.handle(t, transport.Update{Message: &transport.Message{
		ChatID: memberID, FromID: memberID, PhotoID: "photo-1", Caption: "look",
	}})

	sent := fx.client.SentTo(memberID)
	require.Len(t, sent, 1)
	assert.Equal(t, transport.ContentPhoto, sent[0].Content.Kind)
	assert.Equal(t, "photo-1", sent[0].Content.FileID)
	assert.Equal(t, "look", sent[0].Content.Caption)
}

func TestUnknownCallbackOnlyAcked(t *testing.T) {
	fx := newUserFixture(t)

	fx.handle(t, transport.Update{Callback: &transport.Callback{
		ID: "cb2", ChatID: memberID, FromID: memberID, Data: "mystery",
	}})

	bu, err := fx.store.BotUser(context.Background(), botCred, memberID)
	require.NoError(t, err)
	assert.False(t, bu.HasJoined)
	assert.Empty(t, fx.client.SentTo(memberID))
	assert.Equal(t, []string{"cb2"}, fx.client.Answered)
}
