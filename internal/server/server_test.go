package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botforge/internal/broadcast"
	"botforge/internal/dispatch"
	"botforge/internal/flow"
	"botforge/internal/store"
	"botforge/internal/telemetry"
	"botforge/internal/tenant"
	"botforge/internal/transport/transporttest"
	"botforge/pkg/logx"
)

const updateJSON = `{
	"update_id": 1,
	"message": {
		"message_id": 10,
		"chat": {"id": 100, "type": "private"},
		"from": {"id": 100, "first_name": "Dana", "username": "dana"},
		"text": "hello"
	}
}`

func newTestServer(t *testing.T) (*Server, *transporttest.Factory) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	factory := transporttest.NewFactory()
	engine := broadcast.New(st, factory, broadcast.Config{}, logx.Nop())
	tenants := tenant.NewManager(st, factory, "https://bots.example.com", logx.Nop())
	flows := flow.NewHandler(st, engine, "", logx.Nop())
	platform := flow.NewPlatform(st, engine, tenants, "999:ctl", 1, "", logx.Nop())
	router := dispatch.NewRouter(st, factory, flows, platform, "999:ctl", 1, logx.Nop())

	require.NoError(t, st.CreateTenant(context.Background(), store.Tenant{
		Credential: "111:aaa", DisplayName: "@demo", OwnerID: 7,
	}))

	return New(Config{Addr: ":0"}, router, telemetry.NewRegistry(), logx.Nop()), factory
}

func post(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHookDispatchesToTenant(t *testing.T) {
	s, factory := newTestServer(t)

	rec := post(t, s, "/hook/111:aaa", updateJSON)
	assert.Equal(t, http.StatusOK, rec.Code)
	// The join gate reply proves the event reached the flow layer.
	assert.NotEmpty(t, factory.Client("111:aaa").SentTo(100))
}

func TestHookUnknownTenant(t *testing.T) {
	s, _ := newTestServer(t)
	rec := post(t, s, "/hook/no-such-cred", updateJSON)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHookMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)

	rec := post(t, s, "/hook/111:aaa", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Structurally valid JSON with no chat or sender is equally useless.
	rec = post(t, s, "/hook/111:aaa", `{"update_id": 2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestControlDispatchesToPlatform(t *testing.T) {
	s, factory := newTestServer(t)

	rec := post(t, s, "/control", updateJSON)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, factory.Client("999:ctl").SentTo(100))
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	s, _ := newTestServer(t)
	post(t, s, "/hook/111:aaa", updateJSON)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
