package delivery

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"email-login/delivery/model"
)

const healthyStatus = "Healthy"

type HTTPEndpoint struct {
	app    AppDependencies
	logger *zap.Logger
}

func (h *HTTPEndpoint) healthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, model.HealthResponse{Status: healthyStatus})
}

// writeJSON is a helper to standardize JSON responses.
func (h *HTTPEndpoint) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *HTTPEndpoint) writeLoginResult(w http.ResponseWriter, status int, success bool, message string) {
	h.writeJSON(w, status, model.LoginResponse{Success: success, Message: message})
}
