package delivery

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"email-login/loginform"
)

type loginPageData struct {
	Form template.HTML
}

// loginPageHandler mounts a fresh form and renders it.
func (h *HTTPEndpoint) loginPageHandler(w http.ResponseWriter, r *http.Request) {
	form := h.newForm()
	defer form.Close()

	h.renderLoginPage(w, http.StatusOK, form)
}

// loginPageSubmitHandler runs one submission cycle for a posted form and
// renders the outcome.
func (h *HTTPEndpoint) loginPageSubmitHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	form := h.newForm()
	defer form.Close()

	form.OnEmailChange(r.PostForm.Get("email"))

	// The API sees this server as the caller; pass the user's address along
	// so limits apply per user.
	ctx := loginform.WithClientIP(r.Context(), ClientIP(r))

	status := http.StatusOK
	if err := form.Submit(ctx); err != nil {
		if !errors.Is(err, loginform.ErrNetwork) {
			h.logger.Error("login form submission failed", zap.Error(err))
			http.Error(w, "Failed to submit the form", http.StatusInternalServerError)
			return
		}
		status = http.StatusBadGateway
	}

	switch form.Phase() {
	case loginform.PhaseValidationError:
		status = http.StatusBadRequest
	case loginform.PhaseFailure:
		if status == http.StatusOK {
			status = http.StatusBadRequest
		}
	}

	h.renderLoginPage(w, status, form)
}

func (h *HTTPEndpoint) newForm() *loginform.Form {
	return loginform.New(h.app.GetFormTransport(),
		loginform.WithLogger(h.logger),
		loginform.WithAction("/"),
	)
}

func (h *HTTPEndpoint) renderLoginPage(w http.ResponseWriter, status int, form *loginform.Form) {
	var buf bytes.Buffer
	if err := form.Render(&buf); err != nil {
		h.logger.Error("failed to render login form", zap.Error(err))
		http.Error(w, "Failed to render the page", http.StatusInternalServerError)
		return
	}

	var page bytes.Buffer
	data := loginPageData{Form: template.HTML(buf.String())}
	if err := loginTemplate.ExecuteTemplate(&page, "login.html", data); err != nil {
		h.logger.Error("failed to execute login template", zap.Error(err))
		http.Error(w, "Failed to render the page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = page.WriteTo(w)
}
