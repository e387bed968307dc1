package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/service"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

type Dependencies struct {
	Logger   *zap.Logger
	Addr     string
	Protocol *service.ProtocolService
	Admin    *service.AdminService
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	protocol   *service.ProtocolService
	admin      *service.AdminService
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:   d.Logger,
		mux:      mux,
		protocol: d.Protocol,
		admin:    d.Admin,
	}

	// Device protocol.  Some firmware appends .aspx to every path.
	for _, suffix := range []string{"", ".aspx"} {
		mux.HandleFunc("GET /iclock/cdata"+suffix, s.handleHandshake)
		mux.HandleFunc("POST /iclock/cdata"+suffix, s.handlePush)
		mux.HandleFunc("GET /iclock/getrequest"+suffix, s.handlePoll)
		mux.HandleFunc("POST /iclock/devicecmd"+suffix, s.handleDeviceCmd)
		mux.HandleFunc("GET /iclock/ping"+suffix, s.handlePing)
	}

	// Operator API.
	mux.HandleFunc("POST /v1/devices/{sn}/commands", s.handleEnqueue)
	mux.HandleFunc("DELETE /v1/devices/{sn}/commands", s.handleClear)
	mux.HandleFunc("POST /v1/devices/{sn}/users/refresh", s.handleRefreshUsers)
	mux.HandleFunc("DELETE /v1/devices/{sn}/users/{pin}", s.handleDeleteUser)
	mux.HandleFunc("POST /v1/devices/{sn}/fetch", s.handleFetch)
	mux.HandleFunc("POST /v1/devices/{sn}/backup", s.handleBackup)
	mux.HandleFunc("GET /v1/devices", s.handleDevices)
	mux.HandleFunc("GET /v1/devices/{sn}/status", s.handleDeviceStatus)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/grants", s.handleGrant)
	mux.HandleFunc("GET /v1/grants", s.handleListGrants)
	mux.HandleFunc("DELETE /v1/grants/{sn}/{pin}", s.handleCancelGrant)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// fail writes the mapped error for err, logging anything unexpected.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status, code, known := classify(err)
	if !known {
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, status, code, "unexpected server error")
		return
	}
	writeError(w, status, code, err.Error())
}

// ── Commands ─────────────────────────────────────────────────────────────────

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req types.EnqueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}
	resp, err := s.admin.EnqueueCustom(r.Context(), r.PathValue("sn"), req.Command)
	if err != nil {
		s.fail(w, "enqueue", err)
		return
	}
	writeResponse(w, r, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	resp, err := s.admin.Clear(r.Context(), r.PathValue("sn"))
	if err != nil {
		s.fail(w, "clear", err)
		return
	}
	writeResponse(w, r, http.StatusOK, resp)
}

// ── Users ────────────────────────────────────────────────────────────────────

func (s *Server) handleRefreshUsers(w http.ResponseWriter, r *http.Request) {
	resp, err := s.admin.RefreshUsers(r.Context(), r.PathValue("sn"))
	if err != nil {
		s.fail(w, "refresh users", err)
		return
	}
	writeResponse(w, r, http.StatusOK, resp)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	resp, err := s.admin.DeleteUser(r.Context(), r.PathValue("sn"), r.PathValue("pin"))
	if err != nil {
		s.fail(w, "delete user", err)
		return
	}
	writeResponse(w, r, http.StatusOK, resp)
}

// ── Data pulls ───────────────────────────────────────────────────────────────

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.admin.FetchSince(r.Context(), r.PathValue("sn"))
	if err != nil {
		s.fail(w, "fetch", err)
		return
	}
	writeResponse(w, r, http.StatusOK, resp)
}

// handleBackup accepts an empty body, which plans an info-only backup.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var req types.BackupRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}
	opts, err := backupOptionsFromWire(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}
	resp, err := s.admin.PlanBackup(r.Context(), r.PathValue("sn"), opts)
	if err != nil {
		s.fail(w, "backup", err)
		return
	}
	writeResponse(w, r, http.StatusOK, resp)
}

// ── Status ───────────────────────────────────────────────────────────────────

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	resp, err := s.admin.Devices(r.Context())
	if err != nil {
		s.fail(w, "list devices", err)
		return
	}
	writeResponse(w, r, http.StatusOK, resp)
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	resp, ok, err := s.admin.DeviceStatus(r.Context(), r.PathValue("sn"))
	if err != nil {
		s.fail(w, "device status", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_device", "device has never connected")
		return
	}
	writeResponse(w, r, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.admin.Status(r.Context())
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	writeResponse(w, r, http.StatusOK, resp)
}

// ── Grants ───────────────────────────────────────────────────────────────────

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var wire types.GrantRequest
	if err := decodeBody(r, &wire); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}
	req, err := grantRequestFromWire(wire)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}
	out, err := s.admin.Scheduler().Grant(r.Context(), req)
	if err != nil {
		s.fail(w, "grant", err)
		return
	}
	writeResponse(w, r, http.StatusOK, grantResponseToWire(out))
}

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants := s.admin.Scheduler().List()
	resp := types.GrantListResponse{OK: true, Grants: make([]types.GrantView, 0, len(grants))}
	for _, g := range grants {
		resp.Grants = append(resp.Grants, grantViewToWire(g))
	}
	writeResponse(w, r, http.StatusOK, resp)
}

func (s *Server) handleCancelGrant(w http.ResponseWriter, r *http.Request) {
	sn, pin := r.PathValue("sn"), r.PathValue("pin")
	if err := s.admin.Scheduler().Cancel(r.Context(), pin, sn); err != nil {
		s.fail(w, "cancel grant", err)
		return
	}
	writeResponse(w, r, http.StatusOK, types.CancelGrantResponse{OK: true, Serial: sn, PIN: pin})
}
