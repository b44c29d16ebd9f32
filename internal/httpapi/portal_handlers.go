package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"wildwatch.app/internal/audit"
	"wildwatch.app/internal/backend"
	"wildwatch.app/internal/guard"
	"wildwatch.app/internal/obs"
	"wildwatch.app/internal/profile"
)

const (
	draftKey = "incident_draft"
	maxTags  = 10
)

var trackingNumberPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

func currentToken(r *http.Request) string {
	token, _ := requestSessionFrom(r.Context()).tokens.Token()
	return token
}

// backendFailed handles errors from calls made after the guard allowed the
// request. A 401 here means the token was revoked in the meantime.
func (a *API) backendFailed(w http.ResponseWriter, r *http.Request, err error, asJSON bool) {
	rs := requestSessionFrom(r.Context())
	if errors.Is(err, backend.ErrUnauthorized) {
		token, _ := rs.tokens.Token()
		a.deps.Profiles.Forget(r.Context(), token)
		_ = rs.tokens.RemoveToken(r.Context())
		_ = audit.LogEvent(r.Context(), audit.EventForcedSignOut, map[string]any{"path": r.URL.Path})
		target := guard.LoginPath + "?reason=" + string(guard.ReasonAuthFailed)
		if asJSON {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":      string(guard.ReasonAuthFailed),
				"redirect":   target,
				"request_id": RequestIDFromContext(r.Context()),
			})
			return
		}
		w.Header().Set("Location", target)
		a.pages.placeholder(w, r, http.StatusSeeOther)
		return
	}

	var ne *backend.NetworkError
	if errors.As(err, &ne) && ne.NotFound() {
		if asJSON {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		a.pages.render(w, r, http.StatusNotFound, "error", view{Title: "Not found"})
		return
	}

	obs.Warn("backend_call_failed", map[string]any{
		"path":       r.URL.Path,
		"err":        err,
		"request_id": RequestIDFromContext(r.Context()),
	})
	if asJSON {
		writeError(w, r, http.StatusBadGateway, "backend unavailable")
		return
	}
	a.pages.render(w, r, http.StatusBadGateway, "error", view{
		Title: "WildWatch is unavailable",
		Error: loginReasons["network"],
	})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.deps.Backend.InProgressIncidents(r.Context(), currentToken(r))
	if err != nil {
		a.backendFailed(w, r, err, false)
		return
	}
	a.pages.render(w, r, http.StatusOK, "dashboard", view{Title: "Dashboard", Data: incidents})
}

func (a *API) handleTracking(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.deps.Backend.InProgressIncidents(r.Context(), currentToken(r))
	if err != nil {
		a.backendFailed(w, r, err, false)
		return
	}
	a.pages.render(w, r, http.StatusOK, "tracking", view{Title: "Case tracking", Data: incidents})
}

func (a *API) handleIncident(w http.ResponseWriter, r *http.Request) {
	tn := chi.URLParam(r, "trackingNumber")
	if !trackingNumberPattern.MatchString(tn) {
		a.pages.render(w, r, http.StatusNotFound, "error", view{Title: "Not found"})
		return
	}
	inc, err := a.deps.Backend.Incident(r.Context(), currentToken(r), tn)
	if err != nil {
		a.backendFailed(w, r, err, false)
		return
	}
	a.pages.render(w, r, http.StatusOK, "incident", view{Title: inc.TrackingNumber, Data: inc})
}

func (a *API) handleNewIncident(w http.ResponseWriter, r *http.Request) {
	rs := requestSessionFrom(r.Context())
	form := map[string]string{}
	if raw, ok, err := a.sessionStorage(rs).Get(r.Context(), draftKey); err == nil && ok {
		_ = json.Unmarshal(raw, &form)
	}
	a.renderIncidentForm(w, r, http.StatusOK, view{Title: "Report an incident", Form: form})
}

func (a *API) renderIncidentForm(w http.ResponseWriter, r *http.Request, code int, v view) {
	rs := requestSessionFrom(r.Context())
	files, err := a.deps.Evidence.List(r.Context(), rs.clientID)
	if err != nil {
		obs.Warn("evidence_list_failed", map[string]any{"err": err})
	}
	v.Data = files
	a.pages.render(w, r, code, "new_incident", v)
}

func incidentForm(r *http.Request) map[string]string {
	form := map[string]string{}
	for _, f := range []string{"incidentType", "location", "description", "dateOfIncident", "tags"} {
		form[f] = strings.TrimSpace(r.PostFormValue(f))
	}
	return form
}

func validateIncident(form map[string]string, now time.Time) error {
	verr := &ValidationError{}
	if form["incidentType"] == "" {
		verr.add("incidentType", "Incident type is required")
	}
	if form["location"] == "" {
		verr.add("location", "Location is required")
	}
	if form["description"] == "" {
		verr.add("description", "Description is required")
	}
	if d := form["dateOfIncident"]; d != "" {
		day, err := time.Parse("2006-01-02", d)
		if err != nil {
			verr.add("dateOfIncident", "Use the YYYY-MM-DD format")
		} else if day.After(now) {
			verr.add("dateOfIncident", "Date cannot be in the future")
		}
	}
	return verr.orNil()
}

func splitTags(raw string) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, t)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func (a *API) handleSubmitIncident(w http.ResponseWriter, r *http.Request) {
	rs := requestSessionFrom(r.Context())
	form := incidentForm(r)
	v := view{Title: "Report an incident", Form: form}

	if err := validateIncident(form, time.Now()); err != nil {
		var verr *ValidationError
		errors.As(err, &verr)
		v.FieldErrors = verr.FieldErrors
		a.renderIncidentForm(w, r, http.StatusUnprocessableEntity, v)
		return
	}

	attachments, err := a.deps.Evidence.Attachments(r.Context(), rs.clientID)
	if err != nil {
		v.Error = "Staged evidence could not be read. Remove it and attach again."
		a.renderIncidentForm(w, r, http.StatusInternalServerError, v)
		return
	}
	inc, err := a.deps.Backend.SubmitIncident(r.Context(), currentToken(r), backend.IncidentSubmission{
		IncidentType:   form["incidentType"],
		Location:       form["location"],
		Description:    form["description"],
		DateOfIncident: form["dateOfIncident"],
		Tags:           splitTags(form["tags"]),
		Evidence:       attachments,
	})
	if errors.Is(err, backend.ErrUnauthorized) {
		a.backendFailed(w, r, err, false)
		return
	}
	if err != nil {
		if raw, mErr := json.Marshal(form); mErr == nil {
			_ = a.sessionStorage(rs).Set(r.Context(), draftKey, raw)
		}
		v.Error = "Your report was not sent. It is saved here; try again in a moment."
		a.renderIncidentForm(w, r, http.StatusBadGateway, v)
		return
	}

	if _, err := a.deps.Evidence.Clear(r.Context(), rs.clientID); err != nil {
		obs.Warn("evidence_clear_failed", map[string]any{"err": err})
	}
	_ = a.sessionStorage(rs).Delete(r.Context(), draftKey)
	_ = audit.LogEvent(r.Context(), audit.EventIncidentFiled, map[string]any{
		"tracking_number": inc.TrackingNumber,
		"evidence":        len(attachments),
	})
	http.Redirect(w, r, "/incidents/"+inc.TrackingNumber, http.StatusSeeOther)
}

func (a *API) handleBulletins(w http.ResponseWriter, r *http.Request) {
	bulletins, err := a.deps.Backend.Bulletins(r.Context(), currentToken(r))
	if err != nil {
		a.backendFailed(w, r, err, false)
		return
	}
	a.pages.render(w, r, http.StatusOK, "bulletins", view{Title: "Bulletins", Data: bulletins})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := profile.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleGenerateTags(w http.ResponseWriter, r *http.Request) {
	var req backend.TagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Description = strings.TrimSpace(req.Description)
	req.Location = strings.TrimSpace(req.Location)
	if req.Description == "" {
		writeValidation(w, r, &ValidationError{FieldErrors: map[string]string{"description": "Description is required"}})
		return
	}
	tags, err := a.deps.Backend.GenerateTags(r.Context(), currentToken(r), req)
	if err != nil {
		a.backendFailed(w, r, err, true)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}
