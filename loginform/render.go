package loginform

import (
	"embed"
	"html/template"
	"io"
)

// Control labels.
const (
	LabelLogin   = "Login"
	LabelSending = "Sending..."
)

//go:embed templates/form.html
var templateFS embed.FS

var formTemplate = template.Must(template.ParseFS(templateFS, "templates/form.html"))

type formView struct {
	State
	Action      string
	ButtonLabel string
}

// Render writes the form markup for the current state.
func (f *Form) Render(w io.Writer) error {
	f.mu.Lock()
	view := formView{
		State:       f.state,
		Action:      f.action,
		ButtonLabel: LabelLogin,
	}
	f.mu.Unlock()

	if view.Submitting {
		view.ButtonLabel = LabelSending
	}
	return formTemplate.ExecuteTemplate(w, "form.html", view)
}
