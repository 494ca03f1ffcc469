package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/gateway"
)

// Invoker performs raw gateway actions.
type Invoker interface {
	Invoke(ctx context.Context, action gateway.Action, instance string, payload gateway.Payload) (*gateway.Response, error)
}

// ProxyService exposes the gateway actions to the UI. Business errors come
// back as {error, message} with status 200 so the UI branches on content.
type ProxyService struct {
	gw     Invoker
	logger *zap.Logger
}

// NewProxyService creates a proxy service.
func NewProxyService(gw Invoker, logger *zap.Logger) *ProxyService {
	return &ProxyService{gw: gw, logger: logger}
}

type proxyRequest struct {
	Action       gateway.Action  `json:"action"`
	InstanceName string          `json:"instanceName"`
	Data         gateway.Payload `json:"data"`
}

// CodeGatewayUnavailable is reported when retries are exhausted.
const CodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"

// Evolution performs one gateway action.
func (s *ProxyService) Evolution(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Action.Known() {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Ação desconhecida: " + string(req.Action),
			"success": false,
		})
		return
	}

	resp, err := s.gw.Invoke(r.Context(), req.Action, req.InstanceName, req.Data)
	if err != nil {
		s.logger.Warn("gateway action failed",
			zap.String("action", string(req.Action)),
			zap.String("instance", req.InstanceName),
			zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{
			"error":   CodeGatewayUnavailable,
			"message": err.Error(),
			"success": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, resp.ProxyBody())
}
