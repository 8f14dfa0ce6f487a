// Package api exposes the dispatch service over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// JobStore is the read/roster slice of storage the API serves from.
type JobStore interface {
	GetJob(id string) (storage.Job, error)
	ListJobsByStatus(statuses ...string) ([]storage.Job, error)
	ListPredictions(jobID string) ([]storage.Prediction, error)
	UpsertTechnician(t storage.Technician) error
	ListTechnicians() ([]storage.Technician, error)
}

// Runner drives pipeline runs for the API.
type Runner interface {
	Submit(ctx context.Context, st state.JobState) (state.JobState, error)
	Recheck(ctx context.Context, jobID string) (state.JobState, error)
	Complete(ctx context.Context, jobID, feedback string) (state.JobState, error)
}

// Sweeper re-checks every active job on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

// Sizer computes a sizing preview without creating a job.
type Sizer interface {
	Calculate(ctx context.Context, systemType string, appliances []sizing.Appliance, pos sizing.Position, batteryType string) (sizing.Result, error)
}

// Cataloger manages appliance rating overrides.
type Cataloger interface {
	Set(name string, powerW float64) error
	Ratings() (map[string]float64, error)
}

// Deps holds the API's constructed dependencies.
type Deps struct {
	Store   JobStore
	Runner  Runner
	Sweeper Sweeper
	Sizer   Sizer
	Catalog Cataloger
	WS      http.Handler // optional; nil disables the websocket endpoint
	Token   string       // optional; non-empty enables bearer auth
}

// JobRequest is the intake payload for a new job.
type JobRequest struct {
	UserID         string             `json:"user_id"`
	Description    string             `json:"description"`
	SystemType     string             `json:"system_type"`
	BatteryType    string             `json:"battery_type"`
	Appliances     []sizing.Appliance `json:"appliances"`
	Position       *sizing.Position   `json:"position"`
	Contact        state.Contact      `json:"contact"`
	Address        state.Address      `json:"address"`
	ScheduledStart string             `json:"scheduled_start"`
	ScheduledEnd   string             `json:"scheduled_end"`
}

// NewHandler builds the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Get("/health", handleHealth)

	r.Post("/jobs", handleCreateJob(deps))
	r.Get("/jobs", handleListJobs(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))
	r.Get("/jobs/{id}/predictions", handleListPredictions(deps))
	r.Post("/jobs/{id}/complete", handleCompleteJob(deps))
	r.Post("/jobs/{id}/recheck", handleRecheckJob(deps))

	r.Post("/weather/update-all", handleUpdateAll(deps))
	r.Post("/sizing/calculate", handleCalculateSizing(deps))

	r.Post("/technicians", handleUpsertTechnician(deps))
	r.Get("/technicians", handleListTechnicians(deps))

	r.Post("/catalog", handleSetCatalogEntry(deps))
	r.Get("/catalog", handleListCatalog(deps))

	if deps.WS != nil {
		r.Handle("/ws", deps.WS)
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCreateJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req JobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Description == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "description is required")
			return
		}
		if req.SystemType == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "system_type is required")
			return
		}

		st := state.JobState{
			JobID:          uuid.NewString(),
			UserID:         req.UserID,
			Description:    req.Description,
			SystemType:     req.SystemType,
			BatteryType:    req.BatteryType,
			Appliances:     req.Appliances,
			Position:       req.Position,
			Contact:        req.Contact,
			Address:        req.Address,
			ScheduledStart: req.ScheduledStart,
			ScheduledEnd:   req.ScheduledEnd,
		}

		// The pipeline runs in the background; clients follow progress over
		// the websocket or by polling the job record.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			deps.Runner.Submit(ctx, st)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"id":     st.JobID,
			"status": state.StatusPending,
		})
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := []string{state.StatusPending, state.StatusInProgress, state.StatusCompleted}
		if q := r.URL.Query().Get("status"); q != "" {
			statuses = strings.Split(q, ",")
		}

		jobs, err := deps.Store.ListJobsByStatus(statuses...)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}

		out := make([]jobResponse, len(jobs))
		for i, j := range jobs {
			out[i] = toJobResponse(j)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toJobResponse(job))
	}
}

func handleListPredictions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetJob(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		predictions, err := deps.Store.ListPredictions(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list predictions: %v", err)
			return
		}
		if predictions == nil {
			predictions = []storage.Prediction{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(predictions)
	}
}

func handleCompleteJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Feedback string `json:"feedback"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}

		st, err := deps.Runner.Complete(r.Context(), chi.URLParam(r, "id"), req.Feedback)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to complete job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":     st.JobID,
			"status": st.Status,
		})
	}
}

func handleRecheckJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Runner.Recheck(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to recheck job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     st.JobID,
			"events": st.Events,
		})
	}
}

func handleUpdateAll(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Sweeper.RunOnce(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "sweep failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"jobs_rechecked": n})
	}
}

func handleCalculateSizing(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			SystemType  string             `json:"system_type"`
			BatteryType string             `json:"battery_type"`
			Appliances  []sizing.Appliance `json:"appliances"`
			Position    sizing.Position    `json:"position"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Sizer.Calculate(r.Context(), req.SystemType, req.Appliances, req.Position, req.BatteryType)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "sizing failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleUpsertTechnician(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			ID        string  `json:"id"`
			FirstName string  `json:"first_name"`
			LastName  string  `json:"last_name"`
			Email     string  `json:"email"`
			Phone     string  `json:"phone"`
			Skills    string  `json:"skills"`
			Lat       float64 `json:"lat"`
			Lon       float64 `json:"lon"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.FirstName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "first_name is required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		if err := deps.Store.UpsertTechnician(storage.Technician{
			ID: req.ID, FirstName: req.FirstName, LastName: req.LastName,
			Email: req.Email, Phone: req.Phone, Skills: req.Skills,
			Lat: req.Lat, Lon: req.Lon,
		}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save technician: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": req.ID})
	}
}

func handleListTechnicians(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		technicians, err := deps.Store.ListTechnicians()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list technicians: %v", err)
			return
		}
		if technicians == nil {
			technicians = []storage.Technician{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(technicians)
	}
}

func handleSetCatalogEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Name   string  `json:"name"`
			PowerW float64 `json:"power_w"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Catalog.Set(req.Name, req.PowerW); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "saved"})
	}
}

func handleListCatalog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ratings, err := deps.Catalog.Ratings()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list catalog: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ratings)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
