// Package docs serves the OpenAPI document and a Swagger UI page.
package docs

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
	"strings"
)

// Title is the API title shown in the UI.
const Title = "Portfolio Backend Guilherme"

//go:embed openapi.json
var openAPISpec []byte

//go:embed index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

// Spec returns the embedded OpenAPI document.
func Spec() []byte {
	return openAPISpec
}

// Routes returns the docs handlers keyed by mux pattern under prefix. The
// UI is served at /<prefix>/ and the document at /<prefix>/v1/swagger.json.
func Routes(prefix string) (map[string]http.Handler, error) {
	prefix = "/" + strings.Trim(prefix, "/")
	specURL := prefix + "/v1/swagger.json"

	var page bytes.Buffer
	if err := indexTemplate.Execute(&page, struct {
		Title   string
		SpecURL string
	}{Title, specURL}); err != nil {
		return nil, err
	}
	rendered := page.Bytes()

	ui := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(rendered)
	})
	spec := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(openAPISpec)
	})

	return map[string]http.Handler{
		"GET " + prefix:                 http.RedirectHandler(prefix+"/", http.StatusMovedPermanently),
		"GET " + prefix + "/{$}":        ui,
		"GET " + prefix + "/index.html": ui,
		"GET " + specURL:                spec,
	}, nil
}
