package httpapi

import (
	"errors"
	"io"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/service"
)

// Device handlers answer in plain text.  A missing SN is the only request
// error a device ever sees; everything past that gets the usual ack so the
// terminal does not retry the same upload forever.

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) deviceError(w http.ResponseWriter, op, sn string, err error) {
	if errors.Is(err, service.ErrInvalidSerial) {
		writeText(w, http.StatusBadRequest, "missing SN")
		return
	}
	s.logger.Error(op+" failed", zap.String("sn", sn), zap.Error(err))
	writeText(w, http.StatusInternalServerError, "ERROR")
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get("SN")
	body, err := s.protocol.Handshake(r.Context(), sn, remoteHost(r))
	if err != nil {
		s.deviceError(w, "handshake", sn, err)
		return
	}
	writeText(w, http.StatusOK, body)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sn := q.Get("SN")
	body, err := s.protocol.Poll(r.Context(), sn, q.Get("INFO"), remoteHost(r))
	if err != nil {
		s.deviceError(w, "poll", sn, err)
		return
	}
	writeText(w, http.StatusOK, body)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sn, table := q.Get("SN"), q.Get("table")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeviceBody))
	if err != nil {
		s.logger.Warn("push body read failed", zap.String("sn", sn), zap.Error(err))
	}

	sum, err := s.protocol.Push(r.Context(), sn, table, string(body), remoteHost(r))
	if errors.Is(err, service.ErrInvalidSerial) {
		writeText(w, http.StatusBadRequest, "missing SN")
		return
	}
	if err != nil {
		s.logger.Error("push ingest failed", zap.String("sn", sn), zap.String("table", table), zap.Error(err))
	} else {
		s.logger.Debug("push ingested",
			zap.String("sn", sn),
			zap.String("table", table),
			zap.Int("lines", sum.Lines),
			zap.Int("unparsed", sum.Unparsed),
			zap.Int("punches", sum.Punches),
			zap.Int("users", sum.Users),
			zap.Int("biometrics", sum.Biometrics),
		)
	}
	writeText(w, http.StatusOK, service.Ack)
}

func (s *Server) handleDeviceCmd(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get("SN")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.logger.Warn("devicecmd body read failed", zap.String("sn", sn), zap.Error(err))
	}
	n, err := s.protocol.ReportResults(r.Context(), sn, string(body), remoteHost(r))
	if errors.Is(err, service.ErrInvalidSerial) {
		writeText(w, http.StatusBadRequest, "missing SN")
		return
	}
	if err != nil {
		s.logger.Error("command report failed", zap.String("sn", sn), zap.Error(err))
	} else if n > 0 {
		s.logger.Debug("commands executed", zap.String("sn", sn), zap.Int("count", n))
	}
	writeText(w, http.StatusOK, service.Ack)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get("SN")
	if err := s.protocol.Ping(r.Context(), sn, remoteHost(r)); err != nil {
		s.deviceError(w, "ping", sn, err)
		return
	}
	writeText(w, http.StatusOK, service.Ack)
}
