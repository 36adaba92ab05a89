package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/indubitablygregarious/immerse-yourself/internal/config"
	"github.com/indubitablygregarious/immerse-yourself/internal/errs"
	"github.com/indubitablygregarious/immerse-yourself/internal/orchestrator"
)

// commandRouter builds the thin HTTP surface that exercises the core's
// command set end-to-end. CLI wiring is explicitly out of scope (spec
// §1 Non-goals); this is ambient HTTP wiring for cmd/immersed only; the
// core packages never import net/http.
func commandRouter(o *orchestrator.Orchestrator, log *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Post("/activate/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		var t *config.TimeOfDay
		if tv := req.URL.Query().Get("time"); tv != "" {
			tod := config.TimeOfDay(tv)
			if !tod.Valid() {
				writeError(w, http.StatusBadRequest, errors.New("invalid time query parameter"))
				return
			}
			t = &tod
		}
		if err := o.Activate(req.Context(), name, t); err != nil {
			writeErrorClassified(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o.Snapshot())
	})

	r.Post("/toggle-loop", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		playing, err := o.ToggleLoop(req.Context(), body.URL)
		if err != nil {
			writeErrorClassified(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"playing": playing})
	})

	r.Post("/volume", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			URL    string `json:"url"`
			Volume int    `json:"volume"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := o.SetVolume(body.URL, body.Volume); err != nil {
			writeErrorClassified(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/stop-lights", func(w http.ResponseWriter, req *http.Request) {
		_ = o.StopLights()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/stop-atmosphere", func(w http.ResponseWriter, req *http.Request) {
		n := o.StopAtmosphere(req.Context())
		writeJSON(w, http.StatusOK, map[string]int{"stopped": n})
	})

	r.Post("/pause-toggle", func(w http.ResponseWriter, req *http.Request) {
		paused := o.TogglePauseAllSounds(req.Context())
		writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
	})

	r.Post("/time/{time}", func(w http.ResponseWriter, req *http.Request) {
		t := config.TimeOfDay(chi.URLParam(req, "time"))
		if err := o.SetTimeOfDay(req.Context(), t); err != nil {
			writeErrorClassified(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/search", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, o.Search(req.URL.Query().Get("q")))
	})

	r.Post("/clear-cache", func(w http.ResponseWriter, req *http.Request) {
		n, err := o.ClearDownloadCache()
		if err != nil {
			writeErrorClassified(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeErrorClassified maps the errs taxonomy (spec §7) onto HTTP
// status codes: NotFound -> 404, Invalid -> 400, Unavailable -> 503,
// everything else (including PlayerFailure) -> 500.
func writeErrorClassified(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.NotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, errs.Invalid):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, errs.Unavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
