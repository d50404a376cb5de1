//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/swaggo/swag"
	httpSwagger "github.com/swaggo/http-swagger"
)

// docJSON is replaced by the generated document when swag init has run.
// The skeleton keeps /swagger/doc.json valid without it.
const docJSON = `{
  "swagger": "2.0",
  "info": {"title": "textgen API", "version": "1.0"},
  "basePath": "/",
  "paths": {}
}`

type staticDoc struct{ doc string }

func (d staticDoc) ReadDoc() string { return d.doc }

func init() {
	if _, err := swag.ReadDoc(); err != nil {
		swag.Register(swag.Name, staticDoc{doc: docJSON})
	}
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
