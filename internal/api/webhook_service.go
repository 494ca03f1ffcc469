package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/connstate"
	intsync "github.com/matheus3301/wppcrm/internal/sync"
)

// WebhookService receives the gateway's asynchronous notifications.
type WebhookService struct {
	engine *intsync.Engine
	conn   *connstate.Store
	bus    *bus.Bus
	logger *zap.Logger
}

// NewWebhookService creates a webhook service.
func NewWebhookService(engine *intsync.Engine, conn *connstate.Store, b *bus.Bus, logger *zap.Logger) *WebhookService {
	return &WebhookService{engine: engine, conn: conn, bus: b, logger: logger}
}

// Evolution ingests a message event. Events other than message upserts are
// acknowledged without action.
func (s *WebhookService) Evolution(w http.ResponseWriter, r *http.Request) {
	var evt intsync.Event
	if err := decodeJSON(w, r, &evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.engine.Ingest(&evt)
	switch {
	case errors.Is(err, intsync.ErrNoMessage):
		writeError(w, http.StatusBadRequest, "No message data")
		return
	case errors.Is(err, intsync.ErrNoRemoteJID):
		writeError(w, http.StatusBadRequest, "No remoteJid")
		return
	case err != nil:
		s.logger.Error("webhook ingest failed", zap.String("instance", evt.Instance), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	body := map[string]any{"success": true}
	if res.Duplicate {
		body["duplicate"] = true
	}
	writeJSON(w, http.StatusOK, body)
}

// Connection records an instance's connection status. A Redis outage is
// logged and still acknowledged.
func (s *WebhookService) Connection(w http.ResponseWriter, r *http.Request) {
	var rep connstate.Report
	if err := decodeJSON(w, r, &rep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if rep.Instance == "" {
		writeError(w, http.StatusBadRequest, "Instance não informada")
		return
	}

	if err := s.conn.Save(r.Context(), rep); err != nil {
		s.logger.Warn("connection status not stored",
			zap.String("instance", rep.Instance),
			zap.String("status", rep.Status),
			zap.Error(err))
	} else {
		s.logger.Info("connection status stored", zap.String("instance", rep.Instance), zap.String("status", rep.Status))
	}
	s.bus.Emit(bus.KindInstanceConnection, rep)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Recebido"))
}
