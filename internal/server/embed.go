package server

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates static
var embedFS embed.FS

// loadTemplates は埋め込みHTMLテンプレートを読み込む
func loadTemplates() (*template.Template, error) {
	return template.ParseFS(embedFS, "templates/*.html")
}

// staticFS は埋め込み静的ファイル（CSS/JS）のファイルシステムを返す
func staticFS() (http.FileSystem, error) {
	sub, err := fs.Sub(embedFS, "static")
	if err != nil {
		return nil, err
	}
	return http.FS(sub), nil
}
