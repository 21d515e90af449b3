package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexa-ai/meetbotd/pkg/allocator"
	"github.com/vexa-ai/meetbotd/pkg/config"
)

func newAllocatorTestServer(t *testing.T) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	alloc := allocator.New(rdb, time.Minute)

	cfg := &config.Config{AllocatorCapacityLimit: 10}
	return NewServer(cfg, nil, nil, nil, nil, nil, alloc, nil, "")
}

func TestAllocatorHandlers_HeartbeatAllocateRelease(t *testing.T) {
	s := newAllocatorTestServer(t)

	heartbeatBody, _ := json.Marshal(heartbeatRequest{WorkerURL: "http://worker-1:9000"})
	req := httptest.NewRequest(http.MethodPost, "/internal/allocator/heartbeat", bytes.NewReader(heartbeatBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	allocateBody, _ := json.Marshal(allocateRequest{CapacityLimit: 0})
	req = httptest.NewRequest(http.MethodPost, "/internal/allocator/allocate", bytes.NewReader(allocateBody))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var allocResp allocateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &allocResp))
	assert.Equal(t, "http://worker-1:9000", allocResp.WorkerURL)

	releaseBody, _ := json.Marshal(releaseRequest{WorkerURL: allocResp.WorkerURL})
	req = httptest.NewRequest(http.MethodPost, "/internal/allocator/release", bytes.NewReader(releaseBody))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAllocatorHandlers_AllocateNoneAvailable(t *testing.T) {
	s := newAllocatorTestServer(t)

	body, _ := json.Marshal(allocateRequest{CapacityLimit: 5})
	req := httptest.NewRequest(http.MethodPost, "/internal/allocator/allocate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAllocatorHandlers_ReleaseRequiresWorkerURL(t *testing.T) {
	s := newAllocatorTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/allocator/release", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
