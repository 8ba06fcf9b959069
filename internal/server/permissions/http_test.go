package permissions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHostServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/permissions/document", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		var req hostRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(hostResponse{Allowed: req.User == "bob" && req.Doctype == "Task" && req.Ptype == Read})
	})
	mux.HandleFunc("/permissions/file", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		_ = json.NewEncoder(w).Encode(hostResponse{Allowed: false})
	})
	mux.HandleFunc("/documents/status", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		_ = json.NewEncoder(w).Encode(hostResponse{Submitted: true})
	})
	mux.HandleFunc("/users/roles", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		_ = json.NewEncoder(w).Encode(hostResponse{Roles: []string{SystemManager}})
	})
	mux.HandleFunc("/broken/permissions/file", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPHost_AnswersAndCaches(t *testing.T) {
	var calls int32
	srv := newHostServer(t, &calls)
	h := NewHTTPHost(srv.URL+"/", srv.Client(), 16, time.Minute)
	ctx := context.Background()

	ok, err := h.DocumentPermission(ctx, "bob", "Task", "T-1", Read)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.DocumentPermission(ctx, "bob", "Task", "T-1", Read)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	ok, err = h.DocumentPermission(ctx, "carol", "Task", "T-1", Read)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	submitted, err := h.DocumentSubmitted(ctx, "Task", "T-1")
	require.NoError(t, err)
	assert.True(t, submitted)

	roles, err := h.UserRoles(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{SystemManager}, roles)

	allowed, err := h.FilePermission(ctx, "bob", "", Read)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestHTTPHost_CacheExpires(t *testing.T) {
	var calls int32
	srv := newHostServer(t, &calls)
	h := NewHTTPHost(srv.URL, srv.Client(), 16, 20*time.Millisecond)
	ctx := context.Background()

	_, err := h.DocumentSubmitted(ctx, "Task", "T-1")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = h.DocumentSubmitted(ctx, "Task", "T-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPHost_ErrorStatusNotCached(t *testing.T) {
	var calls int32
	srv := newHostServer(t, &calls)
	h := NewHTTPHost(srv.URL+"/broken", srv.Client(), 16, time.Minute)

	_, err := h.FilePermission(context.Background(), "bob", "f1", Read)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Zero(t, h.cache.Len())
}
