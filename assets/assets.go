// Package assets provides access to embedded static files such as SQL, CSS, JS, images, and HTML templates.
package assets

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed css/*.css js/*.js img/*.svg migrations/*.sql *.html
var embedFS embed.FS

// FS returns the embedded assets as an fs.FS.
func FS() fs.FS {
	return embedFS
}

// GetFileSystem returns an http.FileSystem interface for the embedded assets.
func GetFileSystem() http.FileSystem {
	return http.FS(embedFS)
}

// ReadFile returns the content of a specific file from the embedded assets by its name.
func ReadFile(name string) ([]byte, error) {
	return embedFS.ReadFile(name)
}

// Migrations returns the embedded SQL migrations rooted at the migrations directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
