// Package api provides the HTTP read/manage surface.
//
// # Endpoints
//
//   - GET /api/v1/networks - List networks with device counts
//   - GET /api/v1/networks/{id} - Get network details
//   - PUT /api/v1/networks/{id} - Update alerting delay, email, configuration
//   - GET /api/v1/networks/{id}/devices - List devices on a network
//   - GET /api/v1/devices/{id} - Get device details
//   - PUT /api/v1/devices/{id} - Rename device
//   - PUT /api/v1/devices/{id}/mode - Change operation mode
//   - GET /api/v1/devices/{id}/history - Status transition history
//   - GET /api/v1/alerts - Recent alerts (open=true, network=<id>, limit=N)
//   - GET /api/v1/health - Health check with process and pool stats
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/netwatch-io/presence-mon/internal/cache"
	"github.com/netwatch-io/presence-mon/internal/config"
	"github.com/netwatch-io/presence-mon/internal/metrics"
	"github.com/netwatch-io/presence-mon/internal/service"
	"github.com/netwatch-io/presence-mon/internal/store"
	"github.com/netwatch-io/presence-mon/pkg/types"
)

// Server is the HTTP API server.
type Server struct {
	svc              *service.Service
	metricsCollector *metrics.Collector
	cache            *cache.Cache // nil disables response caching
	logger           *slog.Logger
	mux              *http.ServeMux
}

// NewServer creates a new API server.
func NewServer(svc *service.Service, metricsCollector *metrics.Collector, responseCache *cache.Cache, logger *slog.Logger) *Server {
	s := &Server{
		svc:              svc,
		metricsCollector: metricsCollector,
		cache:            responseCache,
		logger:           logger.With("component", "api"),
		mux:              http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", requestID,
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/v1/networks", s.handleListNetworks)
	s.mux.HandleFunc("GET /api/v1/networks/{id}", s.handleGetNetwork)
	s.mux.HandleFunc("PUT /api/v1/networks/{id}", s.handleUpdateNetwork)
	s.mux.HandleFunc("GET /api/v1/networks/{id}/devices", s.handleListDevices)

	s.mux.HandleFunc("GET /api/v1/devices/{id}", s.handleGetDevice)
	s.mux.HandleFunc("PUT /api/v1/devices/{id}", s.handleRenameDevice)
	s.mux.HandleFunc("PUT /api/v1/devices/{id}/mode", s.handleSetDeviceMode)
	s.mux.HandleFunc("GET /api/v1/devices/{id}/history", s.handleDeviceHistory)

	s.mux.HandleFunc("GET /api/v1/alerts", s.handleListAlerts)
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.metricsCollector.GetHealth(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to collect health")
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

// =============================================================================
// NETWORKS
// =============================================================================

func (s *Server) handleListNetworks(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "network_list"

	if s.cache != nil {
		if data, err := s.cache.Get(r.Context(), cacheKey); err == nil && data != nil {
			s.writeRawJSON(w, http.StatusOK, data)
			return
		}
	}

	networks, err := s.svc.ListNetworks(r.Context())
	if err != nil {
		s.logger.Error("failed to list networks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list networks")
		return
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(r.Context(), cacheKey, networks, config.CacheTTLNetworkList); err != nil {
			s.logger.Warn("failed to cache network list", "error", err)
		}
	}

	s.writeJSON(w, http.StatusOK, networks)
}

func (s *Server) handleGetNetwork(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	network, err := s.svc.GetNetwork(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, "network")
		return
	}
	s.writeJSON(w, http.StatusOK, network)
}

func (s *Server) handleUpdateNetwork(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req service.UpdateNetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	network, err := s.svc.UpdateNetwork(r.Context(), id, req)
	if err != nil {
		s.writeServiceError(w, err, "network")
		return
	}

	s.invalidate(r, "network_list")
	s.writeJSON(w, http.StatusOK, network)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	cacheKey := fmt.Sprintf("device_list:%d", id)
	if s.cache != nil {
		if data, err := s.cache.Get(r.Context(), cacheKey); err == nil && data != nil {
			s.writeRawJSON(w, http.StatusOK, data)
			return
		}
	}

	devices, err := s.svc.ListDevices(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, "network")
		return
	}
	if devices == nil {
		devices = []types.Device{}
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(r.Context(), cacheKey, devices, config.CacheTTLDeviceList); err != nil {
			s.logger.Warn("failed to cache device list", "error", err)
		}
	}

	s.writeJSON(w, http.StatusOK, devices)
}

// =============================================================================
// DEVICES
// =============================================================================

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	device, err := s.svc.GetDevice(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, "device")
		return
	}
	s.writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := s.svc.RenameDevice(r.Context(), id, req.Name)
	if err != nil {
		s.writeServiceError(w, err, "device")
		return
	}

	s.invalidate(r, "device_list:*")
	s.writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleSetDeviceMode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, err := types.ParseDeviceOperationMode(req.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := s.svc.SetDeviceMode(r.Context(), id, mode)
	if err != nil {
		s.writeServiceError(w, err, "device")
		return
	}

	s.invalidate(r, "device_list:*")
	s.writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	history, err := s.svc.DeviceHistory(r.Context(), id, limit)
	if err != nil {
		s.writeServiceError(w, err, "device")
		return
	}
	if history == nil {
		history = []types.StatusHistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, history)
}

// =============================================================================
// ALERTS
// =============================================================================

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := store.AlertFilter{}
	q := r.URL.Query()

	if q.Get("open") == "true" {
		filter.OpenOnly = true
	}
	if v := q.Get("network"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid network id")
			return
		}
		filter.NetworkID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	alerts, err := s.svc.ListAlerts(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list alerts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []types.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) invalidate(r *http.Request, pattern string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePattern(r.Context(), pattern); err != nil {
		s.logger.Warn("cache invalidation failed", "pattern", pattern, "error", err)
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error, entity string) {
	if errors.Is(err, service.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, entity+" not found")
		return
	}
	s.logger.Error("request failed", "entity", entity, "error", err)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(status)
	w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
