package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	yaml "gopkg.in/yaml.v3"
)

const swaggerCDN = "https://cdn.jsdelivr.net/npm/swagger-ui-dist@5"

// SwaggerHandler serves an interactive Swagger UI with the inlined document and
// a dev-identity preset panel.
func (s *Server) SwaggerHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.loadOpenAPI()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "OpenAPI not available: "+err.Error())
		return
	}
	var obj map[string]any
	if err := yaml.Unmarshal(data, &obj); err != nil {
		writeError(w, http.StatusInternalServerError, "OpenAPI parse failed: "+err.Error())
		return
	}
	js, err := json.Marshal(obj)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "OpenAPI encode failed: "+err.Error())
		return
	}
	b64 := base64.StdEncoding.EncodeToString(js)
	html := `<!DOCTYPE html><html lang="en"><head>
    <title>DriveGuard API Console</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width,initial-scale=1">
    <link rel="stylesheet" href="` + swaggerCDN + `/swagger-ui.css" />
    <style>body{margin:0} .topbar{display:none} .cfg{position:fixed;top:8px;right:8px;padding:8px;background:#fff;border:1px solid #ddd;z-index:9}</style>
    </head><body>
    <div class="cfg">
      <div><strong>Identity</strong></div>
      <div><label>User: <input id="user" value="u_demo"></label></div>
      <div><label>Org: <input id="org" value="o_demo"></label></div>
      <div><label>Role: <input id="role" value="admin"></label></div>
      <div><label>Bearer token: <input id="token" style="width:240px"></label></div>
      <div><label><input type="checkbox" id="useDev"> Use dev user:org:role token</label></div>
      <button onclick="saveAuth()">Save</button>
    </div>
    <div id="swagger-ui"></div>
    <script src="` + swaggerCDN + `/swagger-ui-bundle.js"></script>
    <script src="` + swaggerCDN + `/swagger-ui-standalone-preset.js"></script>
    <script>
    const spec = JSON.parse(atob('` + b64 + `'));
    const fields = ['user','org','role','token'];
    function loadAuth(){
      const p = {};
      fields.forEach(f => { p[f] = localStorage.getItem('dg_'+f) || ''; const el = document.getElementById(f); if (p[f]) el.value = p[f]; });
      p.useDev = localStorage.getItem('dg_useDev') === '1';
      document.getElementById('useDev').checked = p.useDev;
      return p;
    }
    function saveAuth(){
      fields.forEach(f => localStorage.setItem('dg_'+f, document.getElementById(f).value));
      localStorage.setItem('dg_useDev', document.getElementById('useDev').checked ? '1' : '0');
      alert('Saved');
    }
    loadAuth();
    SwaggerUIBundle({
        spec: spec,
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
        layout: "BaseLayout",
        requestInterceptor: (req) => {
            const p = loadAuth();
            if (p.useDev && p.org) { req.headers['Authorization'] = 'Bearer ' + p.user + ':' + p.org + ':' + (p.role || 'member'); }
            else if (p.token) { req.headers['Authorization'] = 'Bearer ' + p.token; }
            return req;
        }
    });
    </script>
    </body></html>`
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
