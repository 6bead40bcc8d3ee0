package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/config"
	"github.com/mehmetymw/recordsync/internal/outbox"
	"github.com/mehmetymw/recordsync/internal/replica"
	"github.com/mehmetymw/recordsync/internal/types"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type staticCursors []types.SyncCursor

func (s staticCursors) List(context.Context) ([]types.SyncCursor, error) { return s, nil }

type resetCall struct {
	syncKey, entityType string
	pageSize            int
}

type fakeResetter struct {
	calls []resetCall
	err   error
}

func (f *fakeResetter) ResetToCurrent(_ context.Context, syncKey, entityType string, _ []string, pageSize int) (int, error) {
	f.calls = append(f.calls, resetCall{syncKey, entityType, pageSize})
	return 42, f.err
}

type fakeOwner struct{ resets int }

func (o *fakeOwner) ResetCursor(context.Context) (int, error) {
	o.resets++
	return 5, nil
}

type fixedOutbox outbox.Status

func (f fixedOutbox) Status() outbox.Status { return outbox.Status(f) }

type fixedReplica replica.Status

func (f fixedReplica) Status() replica.Status { return replica.Status(f) }

func newTestServer(resetter *fakeResetter, owners ...CursorOwner) *Server {
	cfg := config.Config{
		Outbox:  []config.OutboxConfig{{Name: "trs", SyncKey: "outbox", EntityType: config.DefaultOutboxEntity, PageSize: 500}},
		Replica: config.ReplicaConfig{Enabled: true, SyncKey: "replica", EntityType: config.DefaultPersonEntity, PageSize: 1000},
	}
	cursors := staticCursors{{SyncKey: "outbox", EntityType: config.DefaultOutboxEntity, Token: "0/16B3748", UpdatedAt: now.Add(-90 * time.Second)}}
	consumers := Consumers(cfg)
	for _, o := range owners {
		SetOwner(consumers, "outbox", config.DefaultOutboxEntity, o)
	}
	s := NewServer(cursors, resetter, consumers,
		[]OutboxStatus{fixedOutbox{Name: "trs", State: outbox.StateIdle, Processed: 3}},
		fixedReplica{PendingBatch: 2},
		zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeResetter{}), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthz
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body.Status)
	require.Len(t, body.Outbox, 1)
	assert.Equal(t, outbox.StateIdle, body.Outbox[0].State)
	assert.Equal(t, int64(3), body.Outbox[0].Processed)
	require.NotNil(t, body.Replica)
	assert.Equal(t, 2, body.Replica.PendingBatch)
}

func TestListCursors(t *testing.T) {
	rec := do(t, newTestServer(&fakeResetter{}), http.MethodGet, "/cursors")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []cursorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "0/16B3748", body[0].Token)
	assert.Equal(t, int64(90), body[0].AgeSeconds)
}

func TestResetCursor(t *testing.T) {
	resetter := &fakeResetter{}
	s := newTestServer(resetter)

	rec := do(t, s, http.MethodPost, "/cursors/replica/contact/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sync_key":"replica","entity_type":"contact","skipped":42}`, rec.Body.String())
	assert.Equal(t, []resetCall{{"replica", "contact", 1000}}, resetter.calls)

	rec = do(t, s, http.MethodPost, "/cursors/replica/account/reset")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/cursors/replica/contact/reset")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Len(t, resetter.calls, 1)
}

func TestResetCursorGoesThroughOwner(t *testing.T) {
	resetter := &fakeResetter{}
	owner := &fakeOwner{}
	s := newTestServer(resetter, owner)

	rec := do(t, s, http.MethodPost, "/cursors/outbox/dfeta_trsoutboxmessage/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sync_key":"outbox","entity_type":"dfeta_trsoutboxmessage","skipped":5}`, rec.Body.String())
	assert.Equal(t, 1, owner.resets)
	assert.Empty(t, resetter.calls)

	assert.False(t, SetOwner(Consumers(config.Config{}), "outbox", "missing", owner))
}

func TestResetCursorFeedFailure(t *testing.T) {
	resetter := &fakeResetter{err: types.TransientIOError(errors.New("timeout"))}
	rec := do(t, newTestServer(resetter), http.MethodPost, "/cursors/outbox/dfeta_trsoutboxmessage/reset")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "timeout")
}
