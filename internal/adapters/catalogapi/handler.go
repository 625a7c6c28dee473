// Package catalogapi exposes the catalog service over HTTP: schema
// introspection and registration, ingestion, querying, and provenance.
package catalogapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"lithocore/internal/adapters/batch"
	"lithocore/internal/catalog"
	"lithocore/internal/core"
	"lithocore/internal/ingest"
	"lithocore/pkg/domain"
	"lithocore/pkg/schema"
)

// JobScheduler queues asynchronous ingestion jobs and exposes their status.
type JobScheduler interface {
	Enqueue(ctx context.Context, input batch.Input) (batch.Job, error)
	Get(id string) (batch.Job, bool)
}

// Handler provides HTTP access to the catalog service.
type Handler struct {
	Service *core.Service
	Jobs    JobScheduler
}

// NewHandler constructs a catalog HTTP handler.
func NewHandler(service *core.Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "catalog service not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/schema/types":
		h.handleTypes(w, r)
	case strings.HasPrefix(path, "/api/v1/schema/types/"):
		h.handleType(w, r, strings.TrimPrefix(path, "/api/v1/schema/types/"))
	case strings.HasPrefix(path, "/api/v1/ingest/jobs"):
		if h.Jobs == nil {
			http.NotFound(w, r)
			return
		}
		h.handleJobs(w, r, path)
	case r.Method == http.MethodPost && path == "/api/v1/ingest":
		h.handleIngest(w, r)
	case r.Method == http.MethodPost && path == "/api/v1/ingest/batch":
		h.handleIngestBatch(w, r)
	case r.Method == http.MethodPost && path == "/api/v1/records/query":
		h.handleQuery(w, r)
	case strings.HasPrefix(path, "/api/v1/records/"):
		h.handleRecord(w, r, strings.TrimPrefix(path, "/api/v1/records/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"types": h.Service.ListEntityTypes(r.Context())})
	case http.MethodPost:
		var def schema.EntityTypeDef
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			writeError(w, http.StatusBadRequest, "invalid entity type payload")
			return
		}
		registered, err := h.Service.RegisterEntityType(r.Context(), def)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"type": registered})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleType(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	name := segments[0]
	if name == "" {
		http.NotFound(w, r)
		return
	}

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if raw := r.URL.Query().Get("version"); raw != "" {
			version, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid version")
				return
			}
			def, err := h.Service.GetEntityTypeVersion(r.Context(), name, version)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"type": def})
			return
		}
		def, err := h.Service.GetEntityType(r.Context(), name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"type": def})
		return
	}

	if len(segments) != 2 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch segments[1] {
	case "revisions":
		var def schema.EntityTypeDef
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			writeError(w, http.StatusBadRequest, "invalid entity type payload")
			return
		}
		def.Name = name
		registered, err := h.Service.RegisterEntityTypeRevision(r.Context(), def)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"type": registered})
	case "validate":
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		report, err := h.Service.ValidateShape(r.Context(), name, payload)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"report": report})
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var sub ingest.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission payload")
		return
	}
	outcome, err := h.Service.Ingest(r.Context(), sub)
	if err != nil {
		var vErr domain.ValidationError
		if errors.As(err, &vErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"outcome": outcome})
			return
		}
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if outcome.Status == ingest.StatusCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"outcome": outcome})
}

func (h *Handler) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var subs []ingest.Submission
	if err := json.NewDecoder(r.Body).Decode(&subs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch payload")
		return
	}
	outcomes, err := h.Service.IngestBatch(r.Context(), subs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q catalog.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid query payload")
		return
	}
	records, err := h.Service.Query(r.Context(), q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	id := segments[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			record, err := h.Service.GetRecord(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"record": record})
		case http.MethodDelete:
			record, err := h.Service.SoftDelete(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"record": record})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if len(segments) != 2 || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	switch segments[1] {
	case "provenance":
		chain, err := h.Service.ProvenanceChain(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chain": chain})
	case "revisions":
		revisions, err := h.Service.Revisions(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request, path string) {
	if path == "/api/v1/ingest/jobs" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req struct {
			Submissions []ingest.Submission `json:"submissions"`
			RequestedBy string              `json:"requested_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid job payload")
			return
		}
		job, err := h.Jobs.Enqueue(r.Context(), batch.Input{Submissions: req.Submissions, RequestedBy: req.RequestedBy})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(path, "/api/v1/ingest/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	job, ok := h.Jobs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		unknown   domain.ErrUnknownType
		duplicate domain.ErrDuplicateType
		notFound  domain.ErrNotFound
		cycle     domain.ErrCycleDetected
		violation domain.RuleViolationError
	)
	switch {
	case errors.As(err, &unknown), errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &duplicate), errors.As(err, &cycle), errors.Is(err, domain.ErrConcurrentConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &violation):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "violations": violation.Result.Violations})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
