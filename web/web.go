// Package web 内嵌浏览器页面模板
package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templates embed.FS

// Templates 解析全部页面模板
func Templates() (*template.Template, error) {
	return template.ParseFS(templates, "templates/*.html")
}
