package auth

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gofiber/template/django/v3"
)

//go:embed views
var viewsFS embed.FS

// GetViewsFS returns the page templates rooted at the views directory.
func GetViewsFS() fs.FS {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}
	return sub
}

// NewViewEngine returns a django engine over the embedded templates.
func NewViewEngine() *django.Engine {
	return django.NewFileSystem(http.FS(GetViewsFS()), ".html")
}
