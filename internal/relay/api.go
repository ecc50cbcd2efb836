package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/pkg/audio/wav"
	"github.com/MrWong99/voxlink/pkg/recording"
)

// apiTimeout bounds every recordings request, WAV downloads included.
const apiTimeout = 30 * time.Second

// recordingView is the JSON representation of a stored recording.
type recordingView struct {
	recording.Recording
	DurationMS int64 `json:"duration_ms"`
}

// recordingsAPI serves the /recordings routes.
type recordingsAPI struct {
	store      recording.Store
	sampleRate int
}

func (a *recordingsAPI) routes(r chi.Router) {
	r.Use(middleware.Timeout(apiTimeout))
	r.Get("/", a.list)
	r.Delete("/", a.clear)
	r.Get("/{id}", a.get)
	r.Get("/{id}/wav", a.export)
	r.Delete("/{id}", a.remove)
}

func (a *recordingsAPI) view(rec recording.Recording) recordingView {
	return recordingView{Recording: rec, DurationMS: rec.Duration(a.sampleRate).Milliseconds()}
}

func (a *recordingsAPI) list(w http.ResponseWriter, r *http.Request) {
	recs, err := a.store.ListRecordings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]recordingView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, a.view(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *recordingsAPI) get(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.GetRecording(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(rec))
}

func (a *recordingsAPI) export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := a.store.GetRecording(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "audio/wav")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".wav"))
	h.Set("Content-Length", strconv.FormatInt(wav.HeaderSize+rec.Bytes, 10))
	h.Set("Last-Modified", rec.CreatedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)

	if _, err := recording.Export(r.Context(), a.store, id, w, a.sampleRate); err != nil {
		// Headers are gone; all that is left is to log and cut the body short.
		observe.Logger(r.Context()).Warn("relay: export failed", "recording_id", id, "err", err)
	}
}

func (a *recordingsAPI) remove(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteRecording(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *recordingsAPI) clear(w http.ResponseWriter, r *http.Request) {
	if err := a.store.ClearAll(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Rooms())
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps store errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, recording.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, recording.ErrExists):
		status = http.StatusConflict
	default:
		observe.Logger(r.Context()).Error("relay: api request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("relay: encode response", "err", err)
	}
}
