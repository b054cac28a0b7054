package delivery

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"email-login/delivery/model"
)

// Messages returned by the login API.
const (
	MessageInvalidBody    = "Invalid request body"
	MessageInvalidEmail   = "Invalid email format"
	MessageSendFailed     = "Could not send login email"
	MessageTooManyLogins  = "Too many login attempts, please try again later"
	MessageInvalidToken   = "Invalid or expired login link"
	MessageVerifyDisabled = "Login links are not enabled"
)

const maxLoginBodyBytes = 1_048_576

// loginHandler validates the address and hands it to the login backend.
func (h *HTTPEndpoint) loginHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)

	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeLoginResult(w, http.StatusBadRequest, false, MessageInvalidBody)
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		h.writeLoginResult(w, http.StatusBadRequest, false, model.MessageEmptyEmail)
		return
	}
	if err := ValidateEmail(email); err != nil {
		h.writeLoginResult(w, http.StatusBadRequest, false, MessageInvalidEmail)
		return
	}

	message, err := h.app.GetLoginSender().SendLoginEmail(r.Context(), email)
	if err != nil {
		var rejected *model.RejectedError
		if errors.As(err, &rejected) {
			h.logger.Info("login rejected by backend", zap.String("reason", rejected.Message))
			h.writeLoginResult(w, http.StatusBadRequest, false, rejected.Message)
			return
		}
		h.logger.Error("failed to send login email", zap.Error(err))
		h.writeLoginResult(w, http.StatusInternalServerError, false, MessageSendFailed)
		return
	}

	if message == "" {
		message = model.MessageLoginSent
	}
	h.writeLoginResult(w, http.StatusOK, true, message)
}

// verifyHandler checks the token carried by a magic link.
func (h *HTTPEndpoint) verifyHandler(w http.ResponseWriter, r *http.Request) {
	verifier, ok := h.app.GetTokenVerifier()
	if !ok {
		h.writeJSON(w, http.StatusNotFound, model.VerifyResponse{Message: MessageVerifyDisabled})
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		h.writeJSON(w, http.StatusBadRequest, model.VerifyResponse{Message: MessageInvalidToken})
		return
	}

	email, err := verifier.VerifyLoginToken(r.Context(), token)
	if err != nil {
		h.logger.Info("login token rejected", zap.Error(err))
		h.writeJSON(w, http.StatusUnauthorized, model.VerifyResponse{Message: MessageInvalidToken})
		return
	}

	h.writeJSON(w, http.StatusOK, model.VerifyResponse{Success: true, Email: email})
}
