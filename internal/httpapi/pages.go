package httpapi

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"wildwatch.app/internal/obs"
	"wildwatch.app/internal/profile"
)

//go:embed web/templates/*.html
var templateFS embed.FS

//go:embed web/assets
var assetFS embed.FS

// view is the data every page template receives.
type view struct {
	Title       string
	Profile     *profile.Profile
	RequestID   string
	Notice      string
	Error       string
	FieldErrors map[string]string
	Form        map[string]string
	Data        any
}

type pages struct {
	byName map[string]*template.Template
}

var pageFuncs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("Jan 2, 2006 3:04 PM")
	},
	"join":  strings.Join,
	"lower": strings.ToLower,
}

func mustLoadPages() *pages {
	names, err := fs.Glob(templateFS, "web/templates/*.html")
	if err != nil {
		panic(err)
	}
	p := &pages{byName: make(map[string]*template.Template)}
	for _, name := range names {
		base := strings.TrimSuffix(strings.TrimPrefix(name, "web/templates/"), ".html")
		if base == "layout" {
			continue
		}
		t := template.Must(template.New("layout.html").Funcs(pageFuncs).ParseFS(templateFS, "web/templates/layout.html", name))
		p.byName[base] = t
	}
	return p
}

// render executes into a buffer so a failing template never leaves a page
// half written.
func (p *pages) render(w http.ResponseWriter, r *http.Request, code int, name string, v view) {
	t, ok := p.byName[name]
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "unknown page")
		return
	}
	v.RequestID = RequestIDFromContext(r.Context())
	if v.Profile == nil {
		if prof, ok := profile.FromContext(r.Context()); ok {
			v.Profile = &prof
		}
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", v); err != nil {
		obs.Error("template_failed", map[string]any{"page": name, "err": err, "request_id": v.RequestID})
		writeError(w, r, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

// placeholder is the neutral page shown while the session resolves and as the
// body of guard redirects.
func (p *pages) placeholder(w http.ResponseWriter, r *http.Request, code int) {
	p.render(w, r, code, "placeholder", view{Title: "WildWatch"})
}

func assetHandler() http.Handler {
	sub, err := fs.Sub(assetFS, "web/assets")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/assets/", http.FileServer(http.FS(sub)))
}
