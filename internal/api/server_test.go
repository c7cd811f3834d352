package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/table"
)

type fakeSource struct {
	mu    sync.Mutex
	table table.Table
	err   error
	loads int
}

func (f *fakeSource) Load(context.Context) (table.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return table.Table{}, f.err
	}
	return f.table.Clone(), nil
}

func (f *fakeSource) set(t table.Table, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.table, f.err = t, err
}

func roster() table.Table {
	t := table.New()
	for _, r := range [][]string{
		{"3", "Zed"},
		{"1", "alice", "2019-01-01", `[{"game":"TT2","accounts":["Ali"]}]`},
		{"2", "Alicia"},
		{"7", "anonymous#7"},
		{"5", "Malice"},
		{"oops", "broken"},
	} {
		t.Rows = append(t.Rows, table.Row(r))
	}
	return t
}

func newTestServer(t *testing.T, src Source, cfg Config) *Server {
	t.Helper()
	cfg.URLTemplate = "https://example.test/account/%d/"
	s, err := NewServer(cfg, src, zap.NewNop())
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Config{}, nil, nil)
	require.Error(t, err)
	_, err = NewServer(Config{URLTemplate: "https://x/%s/%d"}, &fakeSource{}, nil)
	require.Error(t, err)
}

func TestGetAccount(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSource{table: roster()}, Config{})

	rec := do(t, s, "/v1/accounts/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var acct Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	assert.Equal(t, uint64(1), acct.ID)
	assert.Equal(t, "alice", acct.DisplayName)
	assert.Equal(t, "2019-01-01", acct.Registered)
	require.Len(t, acct.Games, 1)
	assert.Equal(t, []string{"Ali"}, acct.Games[0].Accounts)
	assert.Equal(t, "https://example.test/account/1/", acct.ProfileURL)
	assert.False(t, acct.Provisional)

	rec = do(t, s, "/v1/accounts/7")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	assert.True(t, acct.Provisional)

	assert.Equal(t, http.StatusNotFound, do(t, s, "/v1/accounts/99").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "/v1/accounts/abc").Code)
}

func TestSearchAccountsSubstring(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSource{table: roster()}, Config{})
	rec := do(t, s, "/v1/accounts?name=LIC")
	require.Equal(t, http.StatusOK, rec.Code)

	var res SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Prefix)
	assert.Equal(t, 3, res.Total)
	names := make([]string, 0, len(res.Accounts))
	for _, a := range res.Accounts {
		names = append(names, a.DisplayName)
		assert.NotEmpty(t, a.ProfileURL)
	}
	assert.Equal(t, []string{"alice", "Alicia", "Malice"}, names)
}

func TestSearchAccountsPrefix(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSource{table: roster()}, Config{})

	var res SearchResult
	rec := do(t, s, "/v1/accounts?name=ali%23")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Prefix)
	require.Len(t, res.Accounts, 2)
	assert.Equal(t, "alice", res.Accounts[0].DisplayName)
	assert.Equal(t, "Alicia", res.Accounts[1].DisplayName)
}

func TestSearchAccountsLimitAndValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSource{table: roster()}, Config{})

	var res SearchResult
	rec := do(t, s, "/v1/accounts?name=a&limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Accounts, 2)
	assert.Greater(t, res.Total, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, s, "/v1/accounts").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "/v1/accounts?name=a&limit=0").Code)
}

func TestIndexCachesUntilTTL(t *testing.T) {
	t.Parallel()

	src := &fakeSource{table: roster()}
	s := newTestServer(t, src, Config{CacheTTL: time.Minute})
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	require.Equal(t, http.StatusOK, do(t, s, "/v1/accounts/1").Code)
	require.Equal(t, http.StatusOK, do(t, s, "/v1/accounts/2").Code)
	assert.Equal(t, 1, src.loads)

	src.set(table.New(), errors.New("disk gone"))
	now = now.Add(2 * time.Minute)
	assert.Equal(t, http.StatusOK, do(t, s, "/v1/accounts/1").Code, "stale index served on reload failure")

	src.set(table.New(), nil)
	now = now.Add(2 * time.Minute)
	assert.Equal(t, http.StatusNotFound, do(t, s, "/v1/accounts/1").Code)
}

func TestProbes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSource{table: roster()}, Config{})
	assert.Equal(t, http.StatusOK, do(t, s, "/healthz").Code)
	rec := do(t, s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"records":5`)

	broken := newTestServer(t, &fakeSource{err: errors.New("no file")}, Config{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, broken, "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, broken, "/v1/accounts/1").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSource{table: roster()}, Config{})
	do(t, s, "/v1/accounts/1")
	rec := do(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSource{table: roster()}, Config{APIKey: "secret"})
	assert.Equal(t, http.StatusForbidden, do(t, s, "/v1/accounts/1").Code)
	assert.Equal(t, http.StatusOK, do(t, s, "/v1/accounts/1", "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, do(t, s, "/v1/accounts/1?api_key=secret").Code)
	assert.Equal(t, http.StatusOK, do(t, s, "/healthz").Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSource{table: roster()}, Config{})
	rec := do(t, s, "/healthz")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, "/healthz", "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSource{}, Config{})
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
