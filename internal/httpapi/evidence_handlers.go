package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"wildwatch.app/internal/audit"
	"wildwatch.app/internal/evidence"
)

func (a *API) handleStageEvidence(w http.ResponseWriter, r *http.Request) {
	rs := requestSessionFrom(r.Context())
	limit := a.deps.Evidence.MaxSize()

	if err := r.ParseMultipartForm(limit); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, r, http.StatusRequestEntityTooLarge, evidence.ErrTooLarge.Error())
			return
		}
		writeError(w, r, http.StatusBadRequest, "multipart form with a file field is required")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "could not read file")
		return
	}
	staged, err := a.deps.Evidence.Stage(r.Context(), rs.clientID, hdr.Filename, hdr.Header.Get("Content-Type"), data)
	if err != nil {
		writeEvidenceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventEvidenceStaged, map[string]any{
		"evidence_id":  staged.ID,
		"content_type": staged.ContentType,
		"size":         staged.Size,
	})
	w.Header().Set("Location", "/evidence/"+staged.ID)
	writeJSON(w, http.StatusCreated, staged)
}

func (a *API) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	rs := requestSessionFrom(r.Context())
	files, err := a.deps.Evidence.List(r.Context(), rs.clientID)
	if err != nil {
		writeEvidenceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": files})
}

func (a *API) handleDiscardEvidence(w http.ResponseWriter, r *http.Request) {
	rs := requestSessionFrom(r.Context())
	if err := a.deps.Evidence.Discard(r.Context(), rs.clientID, chi.URLParam(r, "id")); err != nil {
		writeEvidenceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeEvidenceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, evidence.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, evidence.ErrTooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, evidence.ErrUnsupported):
		writeError(w, r, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, evidence.ErrTooMany):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, evidence.ErrEmpty):
		writeValidation(w, r, &ValidationError{FieldErrors: map[string]string{"file": "File is empty"}})
	default:
		writeError(w, r, http.StatusInternalServerError, "evidence storage failed")
	}
}
