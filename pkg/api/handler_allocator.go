package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// allocateRequest is the body a bot posts to claim a transcription
// worker, per spec.md §4.3's allocate(capacity_limit) contract.
type allocateRequest struct {
	CapacityLimit int `json:"capacity_limit"`
}

type allocateResponse struct {
	WorkerURL string `json:"worker_url"`
}

type releaseRequest struct {
	WorkerURL string `json:"worker_url"`
}

type heartbeatRequest struct {
	WorkerURL string `json:"worker_url"`
}

// allocatorAllocateHandler handles POST /internal/allocator/allocate, the
// HTTP facade a bot process calls (via the allocator_endpoint env var
// handed to it at launch) to claim a transcription worker.
func (s *Server) allocatorAllocateHandler(c *echo.Context) error {
	var body allocateRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	limit := body.CapacityLimit
	if limit <= 0 {
		limit = s.cfg.AllocatorCapacityLimit
	}

	workerURL, err := s.allocator.Allocate(c.Request().Context(), limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &allocateResponse{WorkerURL: workerURL})
}

// allocatorReleaseHandler handles POST /internal/allocator/release.
func (s *Server) allocatorReleaseHandler(c *echo.Context) error {
	var body releaseRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if body.WorkerURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "worker_url is required")
	}
	if err := s.allocator.Release(c.Request().Context(), body.WorkerURL); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// allocatorHeartbeatHandler handles POST /internal/allocator/heartbeat, a
// worker's periodic liveness refresh of its wl:hb:<worker_url> key.
func (s *Server) allocatorHeartbeatHandler(c *echo.Context) error {
	var body heartbeatRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if body.WorkerURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "worker_url is required")
	}
	if err := s.allocator.RegisterWorker(c.Request().Context(), body.WorkerURL); err != nil {
		return mapServiceError(err)
	}
	if err := s.allocator.Heartbeat(c.Request().Context(), body.WorkerURL); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
