package server

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templatesFS embed.FS

// indexTemplate は画面テンプレートの名前
const indexTemplate = "index.html"

// loadTemplates は埋め込んだHTMLテンプレートを読み込む
func loadTemplates() (*template.Template, error) {
	return template.ParseFS(templatesFS, "templates/*.html")
}
