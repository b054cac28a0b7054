package delivery

import (
	"embed"
	"html/template"
	"sync"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	loginTemplate *template.Template
	parseOnce     sync.Once
)

// ParseAllTemplates pre-parses all HTML templates at startup.
func ParseAllTemplates() {
	parseOnce.Do(func() {
		loginTemplate = template.Must(template.ParseFS(templateFS, "templates/login.html"))
	})
}
