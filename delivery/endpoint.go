package delivery

import (
	"net/http"

	"go.uber.org/zap"
)

// jwksHandler publishes the public half of the login-link signing keys.
func (h *HTTPEndpoint) jwksHandler(w http.ResponseWriter, r *http.Request) {
	publisher, ok := h.app.GetKeyPublisher()
	if !ok {
		http.NotFound(w, r)
		return
	}

	set, err := publisher.PublicKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to load public keys", zap.Error(err))
		http.Error(w, "Failed to load keys", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	h.writeJSON(w, http.StatusOK, set)
}
