package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/connstate"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/presence"
)

// SessionService reports and drives the instance connection.
type SessionService struct {
	presence  *presence.Store
	conn      *connstate.Store
	startedAt time.Time
	logger    *zap.Logger
}

// NewSessionService creates a session service.
func NewSessionService(p *presence.Store, conn *connstate.Store, logger *zap.Logger) *SessionService {
	return &SessionService{presence: p, conn: conn, startedAt: time.Now(), logger: logger}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Instance         string `json:"instance"`
	Status           string `json:"status"`
	OpenConversation string `json:"openConversation,omitempty"`
	ChatCount        int    `json:"chatCount"`
	UptimeMs         int64  `json:"uptimeMs"`
}

func (s *SessionService) status() StatusResponse {
	return StatusResponse{
		Instance:         s.presence.Instance(),
		Status:           string(s.presence.Status()),
		OpenConversation: s.presence.OpenConversation(),
		ChatCount:        len(s.presence.Snapshot()),
		UptimeMs:         time.Since(s.startedAt).Milliseconds(),
	}
}

// GetStatus reports the connection state.
func (s *SessionService) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// Connect starts polling or pairing.
func (s *SessionService) Connect(w http.ResponseWriter, r *http.Request) {
	if err := s.presence.Connect(r.Context()); err != nil {
		code := http.StatusInternalServerError
		if gateway.IsUnavailable(err) {
			code = http.StatusBadGateway
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

// Disconnect logs the instance out and stops polling.
func (s *SessionService) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.presence.Disconnect(r.Context()); err != nil {
		s.logger.Warn("disconnect finished with gateway error", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, s.status())
}

// GetQR returns the pending pairing code.
func (s *SessionService) GetQR(w http.ResponseWriter, _ *http.Request) {
	qr := s.presence.QR()
	if qr == nil {
		writeError(w, http.StatusNotFound, "no pairing in progress")
		return
	}
	writeJSON(w, http.StatusOK, qr)
}

// InstanceConnection returns the last status the connection webhook stored.
func (s *SessionService) InstanceConnection(w http.ResponseWriter, r *http.Request) {
	st, err := s.conn.Get(r.Context(), mux.Vars(r)["name"])
	switch {
	case errors.Is(err, connstate.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	case st == nil:
		writeError(w, http.StatusNotFound, "no status reported")
	default:
		writeJSON(w, http.StatusOK, st)
	}
}
