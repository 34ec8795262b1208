// Package diag exposes a small HTTP API for inspecting definitions and runs
// and for dry-running definitions against synthetic records. It is tooling
// surface, not a public API: mount it behind whatever auth the embedding
// application uses.
package diag

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/crmflow/crmflow/backend"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/engine"
)

type handler struct {
	engine  *engine.Engine
	backend backend.Backend
	records core.RecordStore
}

// NewHandler returns the diagnostics HTTP handler.
func NewHandler(e *engine.Engine, b backend.Backend, records core.RecordStore) http.Handler {
	h := &handler{engine: e, backend: b, records: records}

	r := mux.NewRouter()
	r.HandleFunc("/definitions/{id}/{version:[0-9]+}", h.getDefinition).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", h.getRun).Methods(http.MethodGet)
	r.HandleFunc("/records/{entityType}/{id}/runs", h.getRecordRuns).Methods(http.MethodGet)
	r.HandleFunc("/dry-run", h.dryRun).Methods(http.MethodPost)

	return r
}

func (h *handler) getDefinition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		http.Error(w, "invalid version", http.StatusBadRequest)
		return
	}

	d, err := h.backend.GetDefinition(r.Context(), vars["id"], version)
	if err != nil {
		writeError(w, err, backend.ErrDefinitionNotFound)
		return
	}

	writeJSON(w, d)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.backend.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, backend.ErrRunNotFound)
		return
	}

	writeJSON(w, run)
}

func (h *handler) getRecordRuns(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	runs, err := h.backend.RunsForRecord(r.Context(), core.RecordRef{
		EntityType: vars["entityType"],
		ID:         vars["id"],
	})
	if err != nil {
		writeError(w, err, nil)
		return
	}

	writeJSON(w, runs)
}

type dryRunRequest struct {
	DefinitionID      string `json:"definition_id"`
	DefinitionVersion int    `json:"definition_version"`

	// Record is the synthetic record snapshot to evaluate against. When
	// empty and RecordID is set, the live record is loaded instead.
	Record core.Record `json:"record,omitempty"`

	RecordID string `json:"record_id,omitempty"`
}

func (h *handler) dryRun(w http.ResponseWriter, r *http.Request) {
	var req dryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	def, err := h.backend.GetDefinition(r.Context(), req.DefinitionID, req.DefinitionVersion)
	if err != nil {
		writeError(w, err, backend.ErrDefinitionNotFound)
		return
	}

	record := req.Record
	if record == nil && req.RecordID != "" {
		record, err = h.records.GetRecord(r.Context(), core.RecordRef{
			EntityType: def.EntityType,
			ID:         req.RecordID,
		})
		if err != nil {
			writeError(w, err, nil)
			return
		}
	}

	catalog, err := h.records.GetFieldCatalog(r.Context(), def.EntityType)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	writeJSON(w, h.engine.DryRun(r.Context(), def, record, catalog))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err, notFound error) {
	if notFound != nil && errors.Is(err, notFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	http.Error(w, err.Error(), http.StatusInternalServerError)
}
