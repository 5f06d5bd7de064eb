package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/compute-queue/internal/interfaces"
	"github.com/mtr002/compute-queue/internal/jobs"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/websocket"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxBodyBytes     = 1 << 16
)

// JobCache holds snapshots of finished jobs
type JobCache interface {
	Get(ctx context.Context, id string) (*interfaces.Job, bool, error)
	Set(ctx context.Context, job *interfaces.Job) error
}

// Deps are the collaborators behind the HTTP routes. Cache and Health are optional.
type Deps struct {
	Manager *jobs.Manager
	Cache   JobCache
	Hub     *websocket.Hub
	Health  *HealthChecker
	// PublishToken guards /ws/publish; empty leaves it open
	PublishToken string
}

// ComputeRequest is the body of POST /api/jobs. Both operands must be present
// and within the range of exactly representable integers.
type ComputeRequest struct {
	NumberA *float64 `json:"numberA" validate:"required,gte=-9007199254740991,lte=9007199254740991"`
	NumberB *float64 `json:"numberB" validate:"required,gte=-9007199254740991,lte=9007199254740991"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func AddRoutes(mux *http.ServeMux, deps Deps) {
	health := deps.Health
	if health == nil {
		health = NewHealthChecker("api-service")
	}

	mux.HandleFunc("POST /api/jobs", correlationMiddleware(handleCreateJob(deps)))
	mux.HandleFunc("GET /api/jobs", correlationMiddleware(handleListJobs(deps)))
	mux.HandleFunc("GET /api/jobs/{id}", correlationMiddleware(handleGetJob(deps)))
	if deps.Hub != nil {
		mux.Handle("/ws", websocket.Handler(deps.Hub))
		mux.Handle("/ws/publish", websocket.PublishHandler(deps.Hub, deps.PublishToken))
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /health/ready", health.HandleReadiness)
	mux.HandleFunc("GET /health/live", health.HandleLiveness)
}

type ctxKey struct{}

func correlationMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), ctxKey{}, correlationID)
		r = r.WithContext(ctx)

		log := logger.WithCorrelationID(correlationID)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Received request")

		next(w, r)
	}
}

func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

func handleCreateJob(deps Deps) http.HandlerFunc {
	type createResponse struct {
		ID string `json:"id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithCorrelationID(getCorrelationID(r.Context()))

		var req ComputeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			log.Warn().Err(err).Msg("Invalid JSON request")
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			log.Warn().Err(err).Msg("Request failed validation")
			writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}

		job, err := deps.Manager.SubmitJob(r.Context(), *req.NumberA, *req.NumberB)
		if err != nil {
			log.Error().Err(err).Msg("Failed to submit job")
			writeError(w, http.StatusInternalServerError, "failed to submit job")
			return
		}

		log.Info().Str("job_id", job.ID).Msg("Job accepted")
		writeSuccess(w, http.StatusCreated, createResponse{ID: job.ID})
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be within ±9007199254740991", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		log := logger.WithCorrelationID(getCorrelationID(r.Context()))

		if deps.Cache != nil {
			cached, ok, err := deps.Cache.Get(r.Context(), id)
			if err != nil {
				log.Warn().Err(err).Str("job_id", id).Msg("Cache lookup failed")
			} else if ok {
				writeSuccess(w, http.StatusOK, cached)
				return
			}
		}

		job, err := deps.Manager.GetJob(r.Context(), id)
		if errors.Is(err, interfaces.ErrJobNotFound) {
			log.Warn().Str("job_id", id).Msg("Job not found")
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("job_id", id).Msg("Failed to load job")
			writeError(w, http.StatusInternalServerError, "failed to load job")
			return
		}

		if deps.Cache != nil {
			if err := deps.Cache.Set(r.Context(), job); err != nil {
				log.Warn().Err(err).Str("job_id", id).Msg("Failed to cache job")
			}
		}
		writeSuccess(w, http.StatusOK, job)
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	type listResponse struct {
		Jobs  []*interfaces.Job `json:"jobs"`
		Count int               `json:"count"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithCorrelationID(getCorrelationID(r.Context()))

		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxListLimit)
		}

		list, err := deps.Manager.ListJobs(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list jobs")
			writeError(w, http.StatusInternalServerError, "failed to retrieve jobs")
			return
		}
		if list == nil {
			list = []*interfaces.Job{}
		}
		writeSuccess(w, http.StatusOK, listResponse{Jobs: list, Count: len(list)})
	}
}
