// internal/httpapi/embed.go
package httpapi

import (
	"embed"
	"io/fs"
	"log"
	"net/http"
)

//go:embed static
var embedFS embed.FS

// staticFS expõe static/ na raiz, para servir em /static.
func staticFS() http.FileSystem {
	sub, err := fs.Sub(embedFS, "static")
	if err != nil {
		log.Fatalf("[http] falha ao montar static embutido: %v", err)
	}
	return http.FS(sub)
}

func indexHTML() []byte {
	data, err := embedFS.ReadFile("static/index.html")
	if err != nil {
		log.Fatalf("[http] falha ao ler index.html embutido: %v", err)
	}
	return data
}
