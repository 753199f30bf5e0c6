package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pagevoice/pagevoice/internal/audio"
)

type AudioHandler struct {
	svc *audio.Service
}

func NewAudioHandler(svc *audio.Service) *AudioHandler {
	return &AudioHandler{svc: svc}
}

type generateRequest struct {
	Voice string `json:"voice"`
}

// Generate handles POST /pages/{id}/audios. The response is 202: the record
// exists and the pipeline runs in the background; poll the status endpoint.
func (h *AudioHandler) Generate(w http.ResponseWriter, r *http.Request) {
	pageID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid page ID"})
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rec, err := h.svc.RequestGeneration(r.Context(), pageID, req.Voice)
	if err != nil {
		writeAudioError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, rec)
}

// List handles GET /pages/{id}/audios.
func (h *AudioHandler) List(w http.ResponseWriter, r *http.Request) {
	pageID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid page ID"})
		return
	}

	list, err := h.svc.ListByPage(r.Context(), pageID)
	if err != nil {
		writeAudioError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// Status handles GET /audios/{id}/status.
func (h *AudioHandler) Status(w http.ResponseWriter, r *http.Request) {
	audioID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid audio ID"})
		return
	}

	st, err := h.svc.Status(r.Context(), audioID)
	if err != nil {
		writeAudioError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// Play handles POST /audios/{id}/play: records the access and resets the
// expiry clock.
func (h *AudioHandler) Play(w http.ResponseWriter, r *http.Request) {
	audioID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid audio ID"})
		return
	}

	if err := h.svc.Play(r.Context(), audioID); err != nil {
		writeAudioError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "played"})
}

// Download handles GET /audios/{id}/download: issues a short-lived URL.
func (h *AudioHandler) Download(w http.ResponseWriter, r *http.Request) {
	audioID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid audio ID"})
		return
	}

	grant, err := h.svc.DownloadURL(r.Context(), audioID)
	if err != nil {
		writeAudioError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

// Delete handles DELETE /audios/{id}.
func (h *AudioHandler) Delete(w http.ResponseWriter, r *http.Request) {
	audioID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid audio ID"})
		return
	}

	if err := h.svc.Delete(r.Context(), audioID); err != nil {
		writeAudioError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Voices handles GET /voices.
func (h *AudioHandler) Voices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"voices": h.svc.Voices()})
}

// writeAudioError maps service errors to HTTP statuses. Only sentinel
// messages cross the boundary; everything unrecognized becomes an opaque 500.
func writeAudioError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audio.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": audio.ErrNotFound.Error()})
	case errors.Is(err, audio.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, audio.ErrGenerationDisabled):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, audio.ErrQuotaExceeded), errors.Is(err, audio.ErrDuplicateVoice):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, audio.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
