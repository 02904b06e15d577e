package broadcast_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botforge/internal/broadcast"
	"botforge/internal/store"
	"botforge/internal/transport"
	"botforge/internal/transport/transporttest"
	"botforge/pkg/logx"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestToSetTallies(t *testing.T) {
	factory := transporttest.NewFactory()
	client := factory.Client("111:aaa")
	client.FailChats = map[int64]bool{3: true, 5: true}

	e := broadcast.New(nil, factory, broadcast.Config{}, logx.Nop())
	recipients := []int64{1, 2, 3, 4, 5, 6}

	ok, failed := e.ToSet(context.Background(), client, transport.Content{Kind: transport.ContentText, Text: "hi"}, recipients, 0)
	assert.Equal(t, 4, ok)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 4, client.SendCount())
}

func TestToSetExcludesSender(t *testing.T) {
	factory := transporttest.NewFactory()
	client := factory.Client("111:aaa")

	e := broadcast.New(nil, factory, broadcast.Config{}, logx.Nop())
	ok, failed := e.ToSet(context.Background(), client, transport.Content{Kind: transport.ContentText, Text: "hi"}, []int64{1, 2, 3}, 2)

	// The excluded identity counts in neither tally.
	assert.Equal(t, 2, ok)
	assert.Equal(t, 0, failed)
	assert.Empty(t, client.SentTo(2))
}

func TestToSetUnsupportedContentFallsBackToNotice(t *testing.T) {
	factory := transporttest.NewFactory()
	client := factory.Client("111:aaa")

	e := broadcast.New(nil, factory, broadcast.Config{}, logx.Nop())
	ok, failed := e.ToSet(context.Background(), client, transport.Content{Kind: transport.ContentUnknown}, []int64{1}, 0)

	assert.Equal(t, 1, ok)
	assert.Equal(t, 0, failed)
	sent := client.SentTo(1)
	require.Len(t, sent, 1)
	assert.Equal(t, broadcast.MsgUnsupported, sent[0].Content.Text)
}

func TestAcrossTenantsSweep(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	factory := transporttest.NewFactory()

	require.NoError(t, st.CreateTenant(ctx, store.Tenant{Credential: "big", OwnerID: 7}))
	require.NoError(t, st.CreateTenant(ctx, store.Tenant{Credential: "small", OwnerID: 7}))
	require.NoError(t, st.CreateTenant(ctx, store.Tenant{Credential: "empty", OwnerID: 7}))

	for _, id := range []int64{1, 2, 3} {
		_, _, err := st.EnsureBotUser(ctx, "big", id, "", "")
		require.NoError(t, err)
		require.NoError(t, st.SetBotUserJoined(ctx, "big", id, true))
	}
	_, _, err := st.EnsureBotUser(ctx, "small", 9, "", "")
	require.NoError(t, err)
	require.NoError(t, st.SetBotUserJoined(ctx, "small", 9, true))

	e := broadcast.New(st, factory, broadcast.Config{}, logx.Nop())
	ok, failed, err := e.AcrossTenants(ctx, transport.Content{Kind: transport.ContentText, Text: "hi"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, ok)
	assert.Equal(t, 0, failed)

	assert.Equal(t, 3, factory.Client("big").SendCount())
	assert.Equal(t, 1, factory.Client("small").SendCount())
	assert.Equal(t, 0, factory.Client("empty").SendCount())
}
