package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lance/api_insights/internal/insights"
	"lance/api_insights/internal/scheduler"
	"lance/api_insights/internal/store"
	"lance/pkg/pagination"
)

type refresherStub struct {
	snap      *insights.Snapshot
	err       error
	userID    string
	periodEnd time.Time
	calls     int
}

func (s *refresherStub) Refresh(_ context.Context, userID string, periodEnd time.Time) (*insights.Snapshot, error) {
	s.calls++
	s.userID, s.periodEnd = userID, periodEnd
	return s.snap, s.err
}

type readerStub struct {
	latest    *insights.Snapshot
	latestErr error
	list      []insights.Snapshot
	next      string
	listErr   error
	limit     int
	after     *pagination.Cursor
}

func (s *readerStub) LatestSnapshot(context.Context, string) (*insights.Snapshot, error) {
	return s.latest, s.latestErr
}

func (s *readerStub) ListSnapshots(_ context.Context, _ string, limit int, after *pagination.Cursor) (*store.SnapshotPage, error) {
	s.limit, s.after = limit, after
	if s.listErr != nil {
		return nil, s.listErr
	}
	return &store.SnapshotPage{Snapshots: s.list, NextCursor: s.next}, nil
}

type batchStub struct {
	summary *scheduler.RunSummary
	err     error
	calls   int
}

func (s *batchStub) RunOnce(context.Context, time.Time) (*scheduler.RunSummary, error) {
	s.calls++
	return s.summary, s.err
}

type narratorStub struct {
	enabled bool
	text    string
	err     error
}

func (s narratorStub) Enabled() bool { return s.enabled }

func (s narratorStub) Summarize(context.Context, *insights.Snapshot) (string, error) {
	return s.text, s.err
}

type harness struct {
	router    *gin.Engine
	refresher *refresherStub
	reader    *readerStub
	batch     *batchStub
	logs      *test.Hook
}

func setupHarness(narrator Narrator) *harness {
	gin.SetMode(gin.TestMode)
	logger, hook := test.NewNullLogger()
	h := &harness{
		router:    gin.New(),
		refresher: &refresherStub{},
		reader:    &readerStub{},
		batch:     &batchStub{},
		logs:      hook,
	}
	NewSnapshotHandler(Config{
		Refresher:    h.refresher,
		Reader:       h.reader,
		Batch:        h.batch,
		Narrator:     narrator,
		Logger:       logger,
		ServiceToken: "secret",
	}).RegisterRoutes(h.router)
	return h
}

func (h *harness) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func sampleSnapshot() *insights.Snapshot {
	return &insights.Snapshot{
		ID:           "snap-1",
		UserID:       "user-1",
		PeriodStart:  time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		TopHashtags:  []insights.RankedTerm{{Kind: insights.KindHashtag, Term: "#gold", Frequency: 3}},
		TopKeywords:  []insights.RankedTerm{},
		TopCreatives: []insights.Creative{},
	}
}

func TestCreateSnapshot(t *testing.T) {
	h := setupHarness(nil)
	h.refresher.snap = sampleSnapshot()

	resp := h.do(http.MethodPost, "/api/v1/users/user-1/snapshots?period_end=2024-06-10", nil)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "user-1", h.refresher.userID)
	assert.Equal(t, "2024-06-10", h.refresher.periodEnd.Format(time.DateOnly))

	body := decodeBody(t, resp)
	assert.Equal(t, "snap-1", body["id"])
	hashtags := body["top_hashtags"].([]any)
	require.Len(t, hashtags, 1)
	assert.Equal(t, "hashtag", hashtags[0].(map[string]any)["kind"])
}

func TestCreateSnapshot_DefaultsPeriodEnd(t *testing.T) {
	h := setupHarness(nil)
	h.refresher.snap = sampleSnapshot()

	resp := h.do(http.MethodPost, "/api/v1/users/user-1/snapshots", nil)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.True(t, h.refresher.periodEnd.IsZero())
}

func TestCreateSnapshot_BadPeriodEnd(t *testing.T) {
	h := setupHarness(nil)

	resp := h.do(http.MethodPost, "/api/v1/users/user-1/snapshots?period_end=last-week", nil)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Zero(t, h.refresher.calls)
}

func TestCreateSnapshot_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "no competitors",
			err:      &insights.NoCompetitorsError{UserID: "user-1"},
			wantCode: http.StatusBadRequest,
			wantMsg:  "add competitors first",
		},
		{
			name:     "read failure",
			err:      &insights.PersistenceReadError{Op: "posts", Err: errors.New("pq: connection refused")},
			wantCode: http.StatusServiceUnavailable,
			wantMsg:  "try again later",
		},
		{
			name:     "write failure",
			err:      &insights.PersistenceWriteError{Err: errors.New("pq: disk full")},
			wantCode: http.StatusServiceUnavailable,
			wantMsg:  "try again later",
		},
		{
			name:     "empty user",
			err:      insights.ErrEmptyUserID,
			wantCode: http.StatusBadRequest,
			wantMsg:  "user id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupHarness(nil)
			h.refresher.err = tt.err

			resp := h.do(http.MethodPost, "/api/v1/users/user-1/snapshots", nil)

			assert.Equal(t, tt.wantCode, resp.Code)
			body := decodeBody(t, resp)
			assert.Equal(t, tt.wantMsg, body["error"])
			assert.NotContains(t, resp.Body.String(), "pq:")
		})
	}
}

func TestCreateSnapshot_LogsInternalCause(t *testing.T) {
	h := setupHarness(nil)
	h.refresher.err = &insights.PersistenceWriteError{Err: errors.New("pq: disk full")}

	h.do(http.MethodPost, "/api/v1/users/user-1/snapshots", nil)

	entry := h.logs.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Contains(t, entry.Data[logrus.ErrorKey].(error).Error(), "disk full")
}

func TestLatestSnapshot(t *testing.T) {
	h := setupHarness(nil)
	h.reader.latest = sampleSnapshot()

	resp := h.do(http.MethodGet, "/api/v1/users/user-1/snapshots/latest", nil)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "snap-1", decodeBody(t, resp)["id"])
}

func TestLatestSnapshot_NotFound(t *testing.T) {
	h := setupHarness(nil)
	h.reader.latestErr = store.ErrNotFound

	resp := h.do(http.MethodGet, "/api/v1/users/user-1/snapshots/latest", nil)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListSnapshots_Limit(t *testing.T) {
	tests := []struct {
		query     string
		wantCode  int
		wantLimit int
	}{
		{query: "", wantCode: http.StatusOK, wantLimit: pagination.DefaultLimit},
		{query: "?limit=3", wantCode: http.StatusOK, wantLimit: 3},
		{query: "?limit=1000", wantCode: http.StatusOK, wantLimit: pagination.MaxLimit},
		{query: "?limit=0", wantCode: http.StatusBadRequest},
		{query: "?limit=abc", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			h := setupHarness(nil)
			h.reader.list = []insights.Snapshot{*sampleSnapshot()}

			resp := h.do(http.MethodGet, "/api/v1/users/user-1/snapshots"+tt.query, nil)

			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantLimit, h.reader.limit)
				assert.Equal(t, float64(1), decodeBody(t, resp)["count"])
			}
		})
	}
}

func TestListSnapshots_Cursor(t *testing.T) {
	h := setupHarness(nil)
	h.reader.list = []insights.Snapshot{*sampleSnapshot()}
	h.reader.next = "next-page"
	ts := time.Date(2024, 6, 10, 1, 0, 0, 0, time.UTC)

	resp := h.do(http.MethodGet, "/api/v1/users/user-1/snapshots?cursor="+pagination.EncodeCursor(ts, "snap-9"), nil)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, h.reader.after)
	assert.Equal(t, "snap-9", h.reader.after.ID)
	assert.Equal(t, "next-page", decodeBody(t, resp)["next_cursor"])

	resp = h.do(http.MethodGet, "/api/v1/users/user-1/snapshots?cursor=not-a-cursor", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAnalysis(t *testing.T) {
	tests := []struct {
		name       string
		narrator   Narrator
		wantStatus string
		wantText   any
	}{
		{name: "disabled", narrator: narratorStub{}, wantStatus: "disabled"},
		{name: "ok", narrator: narratorStub{enabled: true, text: "- post reels"}, wantStatus: "ok", wantText: "- post reels"},
		{name: "llm failure", narrator: narratorStub{enabled: true, err: errors.New("timeout")}, wantStatus: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupHarness(tt.narrator)
			h.reader.latest = sampleSnapshot()

			resp := h.do(http.MethodGet, "/api/v1/users/user-1/analysis", nil)

			require.Equal(t, http.StatusOK, resp.Code)
			body := decodeBody(t, resp)
			assert.Equal(t, tt.wantStatus, body["narrative_status"])
			assert.Equal(t, tt.wantText, body["narrative"])
			assert.Equal(t, "snap-1", body["snapshot"].(map[string]any)["id"])
		})
	}
}

func TestRunBatch_RequiresServiceToken(t *testing.T) {
	h := setupHarness(nil)
	h.batch.summary = &scheduler.RunSummary{Users: 2, Succeeded: 2}

	resp := h.do(http.MethodPost, "/api/v1/admin/snapshots/run", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = h.do(http.MethodPost, "/api/v1/admin/snapshots/run", http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Zero(t, h.batch.calls)

	resp = h.do(http.MethodPost, "/api/v1/admin/snapshots/run", http.Header{"Authorization": {"Bearer secret"}})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(2), decodeBody(t, resp)["succeeded"])
}

func TestRunBatch_Failure(t *testing.T) {
	h := setupHarness(nil)
	h.batch.err = errors.New("list users: connection refused")

	resp := h.do(http.MethodPost, "/api/v1/admin/snapshots/run", http.Header{"Authorization": {"Bearer secret"}})

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "try again later", decodeBody(t, resp)["error"])
}
