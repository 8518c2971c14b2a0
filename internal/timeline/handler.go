package timeline

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the timeline-sync engine over HTTP using go-chi. The
// routes are the collaborator surface: the upload pipeline posts photo
// sets, the player posts clock reports, and the UI reads revealed assets,
// load states, and resolved sources.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler backed by the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Mount attaches all session routes under /sessions/{session_id}.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/sessions/{session_id}", func(r chi.Router) {
		r.Post("/photos", h.ReplacePhotos)
		r.Post("/clock", h.ReportClock)
		r.Get("/revealed", h.Revealed)
		r.Post("/viewport", h.ViewportEvent)
		r.Post("/deselect", h.Deselect)
		r.Get("/selected", h.Selected)
		r.Post("/end", h.EndSession)
		r.Route("/assets/{identity}", func(r chi.Router) {
			r.Get("/state", h.AssetState)
			r.Get("/source", h.AssetSource)
			r.Post("/select", h.Select)
		})
	})
}

// writeJSON encodes v with status code; encoding failures are logged only,
// the header is already out.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response failed", slog.String("error", err.Error()))
	}
}

// writeError maps domain errors to HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrAssetNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrSessionEnded):
		w.WriteHeader(http.StatusConflict)
	case errors.Is(err, ErrUnknownViewportEvent):
		w.WriteHeader(http.StatusBadRequest)
	default:
		h.log.Error("request failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// ReplacePhotos handles POST /sessions/{session_id}/photos.
// Body: JSON array of {url, offset_seconds, id?, caption?, created_at?}.
// The photo set is replaced wholesale; it is never patched in place.
func (h *Handler) ReplacePhotos(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var photos []PhotoInput
	if err := json.NewDecoder(r.Body).Decode(&photos); err != nil {
		h.log.Debug("invalid photos body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	cat, err := h.svc.ReplacePhotos(sessionID, photos)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Debug("photos replaced",
		slog.String("session_id", string(sessionID)),
		slog.Int("assets", cat.Len()))
	h.writeJSON(w, http.StatusOK, map[string]any{
		"generation":  cat.Generation,
		"assets":      cat.Len(),
		"schedulable": cat.SchedulableCount(),
	})
}

type clockReport struct {
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
}

// ReportClock handles POST /sessions/{session_id}/clock.
// Body: { "position": 12.5, "playing": true }.
func (h *Handler) ReportClock(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var rep clockReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		h.log.Debug("invalid clock body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.ReportClock(sessionID, rep.Position, rep.Playing); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Revealed handles GET /sessions/{session_id}/revealed.
func (h *Handler) Revealed(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(chi.URLParam(r, "session_id"))
	assets, err := h.svc.Revealed(sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if assets == nil {
		assets = []Asset{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"revealed": assets})
}

// AssetState handles GET /sessions/{session_id}/assets/{identity}/state.
func (h *Handler) AssetState(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(chi.URLParam(r, "session_id"))
	identity := Identity(chi.URLParam(r, "identity"))
	state, err := h.svc.LoadState(sessionID, identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"state":    state,
	})
}

// AssetSource handles GET /sessions/{session_id}/assets/{identity}/source.
// Cached bytes are served directly; otherwise the client is redirected to
// the asset's raw URL so rendering never blocks on the cache.
func (h *Handler) AssetSource(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(chi.URLParam(r, "session_id"))
	identity := Identity(chi.URLParam(r, "identity"))

	data, srcURL, err := h.svc.ResolveSource(sessionID, identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if data != nil {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	http.Redirect(w, r, srcURL, http.StatusTemporaryRedirect)
}

// Select handles POST /sessions/{session_id}/assets/{identity}/select.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(chi.URLParam(r, "session_id"))
	identity := Identity(chi.URLParam(r, "identity"))
	if err := h.svc.Select(sessionID, identity); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deselect handles POST /sessions/{session_id}/deselect.
func (h *Handler) Deselect(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(chi.URLParam(r, "session_id"))
	if err := h.svc.Deselect(sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Selected handles GET /sessions/{session_id}/selected.
func (h *Handler) Selected(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(chi.URLParam(r, "session_id"))
	a, ok, err := h.svc.Selected(sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]any{"selected": nil})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"selected": a})
}

type viewportEvent struct {
	Identity Identity `json:"identity"`
	Event    string   `json:"event"` // observe | unobserve | visible
}

// ViewportEvent handles POST /sessions/{session_id}/viewport.
// Body: { "identity": "...", "event": "observe|unobserve|visible" }.
func (h *Handler) ViewportEvent(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(chi.URLParam(r, "session_id"))

	var ev viewportEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Identity == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.ViewportEvent(sessionID, ev.Identity, ev.Event); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EndSession handles POST /sessions/{session_id}/end.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.EndSession(sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("session end requested", slog.String("session_id", string(sessionID)))
	w.WriteHeader(http.StatusOK)
}
