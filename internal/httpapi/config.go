package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

// maxBodyBytes caps JSON request bodies. Selections are text, 1 MiB is plenty.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes configures the body cap; n <= 0 restores the default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// CORSOptions configures cross-origin access. Disabled by default.
type CORSOptions struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

var corsOpts CORSOptions

// SetCORSOptions installs CORS settings used by the next NewMux call.
func SetCORSOptions(o CORSOptions) {
	o.AllowedOrigins = append([]string(nil), o.AllowedOrigins...)
	o.AllowedMethods = append([]string(nil), o.AllowedMethods...)
	o.AllowedHeaders = append([]string(nil), o.AllowedHeaders...)
	corsOpts = o
}

// corsMiddleware returns nil when CORS is disabled.
func corsMiddleware(o CORSOptions) func(http.Handler) http.Handler {
	if !o.Enabled {
		return nil
	}
	origins := o.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := o.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}
	}
	headers := o.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Accept", "Content-Type", "X-Request-Id", "X-Log-Level"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         int(o.MaxAge / time.Second),
	})
}
