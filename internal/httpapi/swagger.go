package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "emotiond/docs" // registers the OpenAPI document
)

// swaggerEnabled toggles the /swagger/ UI. On by default.
var swaggerEnabled = true

// SetSwaggerEnabled turns the /swagger/ UI on or off for routers built afterwards.
func SetSwaggerEnabled(on bool) { swaggerEnabled = on }

// MountSwagger serves the swagger UI and doc.json under /swagger/.
func MountSwagger(r chi.Router) {
	if !swaggerEnabled {
		return
	}
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
	})
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
