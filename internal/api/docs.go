package api

import (
	"net/http"
	"os"
)

func (s *Server) loadOpenAPI() ([]byte, error) {
	path := s.OpenAPIPath
	if path == "" {
		path = defaultOpenAPIPath
	}
	return os.ReadFile(path)
}

// OpenAPIHandler serves the OpenAPI document.
func (s *Server) OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
	b, err := s.loadOpenAPI()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "OpenAPI not available: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// DocsHandler serves a minimal ReDoc page referencing /openapi.yaml
func (s *Server) DocsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!DOCTYPE html><html><head><title>DriveGuard API</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <script src="https://cdn.jsdelivr.net/npm/redoc@next/bundles/redoc.standalone.js"></script>
    </head><body>
    <redoc spec-url="/openapi.yaml"></redoc>
    </body></html>`))
}
