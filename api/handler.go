// Package api provides the HTTP API of the deployment engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/dogmatiq/mergedeploy/internal/mlog"
	"github.com/dogmatiq/mergedeploy/lock"
	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/dogmatiq/mergedeploy/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// DefaultLimit is the number of records returned by list endpoints when
	// no limit is given.
	DefaultLimit = 50

	// MaxLimit is the largest limit accepted by list endpoints.
	MaxLimit = 1000

	// maxInputSize is the largest deployment input accepted.
	maxInputSize = 4 << 20
)

// Backend is the engine that the API exposes.
type Backend interface {
	// Groups returns the configured groups. The first is used when a request
	// does not specify a group.
	Groups() []string

	// Stages returns the names of the stages of each group, in promotion
	// order, ending with the final stage.
	Stages() []string

	// SubmitRequest runs a deployment until it reaches a terminal status.
	SubmitRequest(ctx context.Context, req pipeline.Request) (persistence.Deployment, error)

	// Evict removes a deployment's ticket from its group's lock.
	Evict(ctx context.Context, id, group string) error

	// Repository returns the repository that the API reads from.
	Repository() *persistence.Repository
}

// Handler provides the HTTP handlers of the API.
type Handler struct {
	// Backend is the engine that the API exposes.
	Backend Backend

	// Gatherer is the source of the metrics served at /metrics. If it is nil,
	// prometheus.DefaultGatherer is used.
	Gatherer prometheus.Gatherer

	// Logger is the target for log messages. If it is nil, no logging is
	// performed.
	Logger *zap.Logger
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer(), promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/", h.handleGroups)

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.handleSubmit)
			r.With(noCache).Get("/", h.handleListDeployments)
			r.Get("/{id}", h.handleGetDeployment)
		})

		r.Route("/manifests", func(r chi.Router) {
			r.With(noCache).Get("/", h.handleListManifests)
			r.Get("/{id}", h.handleGetManifest)
		})

		r.With(noCache).Get("/stages", h.handleListStages)
		r.Delete("/locks/{group}/{id}", h.handleEvict)
	})

	return r
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleGroups(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, GroupsResponse{
		Groups: h.Backend.Groups(),
	})
}

// handleSubmit runs a deployment of the request body.
//
// The deployment is detached from the request's context, so it runs to
// completion even if the client disconnects.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	input, err := io.ReadAll(io.LimitReader(r.Body, maxInputSize+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	if len(input) > maxInputSize {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body is too large")
		return
	}

	if !json.Valid(input) {
		h.writeError(w, http.StatusBadRequest, "request body must be a JSON document")
		return
	}

	group, ok := h.group(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	req := pipeline.Request{
		ID:    q.Get("id"),
		Group: group,
		Input: input,
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx := context.WithoutCancel(r.Context())

	if async, _ := strconv.ParseBool(q.Get("async")); async {
		go func() {
			if _, err := h.Backend.SubmitRequest(ctx, req); err != nil {
				h.logger().Warn(
					"asynchronous deployment failed",
					append(mlog.Deployment(req.ID, req.Group), zap.Error(err))...,
				)
			}
		}()

		h.writeJSON(w, http.StatusAccepted, SubmitResponse{
			ID:    req.ID,
			Group: req.Group,
		})
		return
	}

	d, err := h.Backend.SubmitRequest(ctx, req)
	if err != nil {
		var dup *pipeline.DuplicateExecutionError
		if errors.As(err, &dup) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}

		// A deployment that was marked as FAILED is a successful request, the
		// failure is described by the deployment itself.
		if !d.Status.IsTerminal() {
			h.logger().Error(
				"unable to run deployment",
				append(mlog.Deployment(req.ID, req.Group), zap.Error(err))...,
			)
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	h.writeJSON(w, http.StatusOK, deploymentToResponse(d))
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	group, ok := h.group(w, r)
	if !ok {
		return
	}

	deployments, err := h.Backend.Repository().ListDeployments(r.Context(), group, limit)
	if err != nil {
		h.internalError(w, err)
		return
	}

	resp := make([]DeploymentResponse, 0, len(deployments))
	for _, d := range deployments {
		resp = append(resp, deploymentToResponse(d))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, ok, err := h.Backend.Repository().GetDeployment(r.Context(), id)
	if err != nil {
		h.internalError(w, err)
		return
	}

	if !ok {
		h.writeError(w, http.StatusNotFound, "deployment not found")
		return
	}

	h.writeJSON(w, http.StatusOK, deploymentToResponse(d))
}

func (h *Handler) handleListManifests(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	group, ok := h.group(w, r)
	if !ok {
		return
	}

	manifests, err := h.Backend.Repository().ListManifests(r.Context(), group, limit)
	if err != nil {
		h.internalError(w, err)
		return
	}

	resp := make([]ManifestResponse, 0, len(manifests))
	for _, m := range manifests {
		resp = append(resp, manifestToResponse(m))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, ok, err := h.Backend.Repository().GetManifest(r.Context(), id)
	if err != nil {
		h.internalError(w, err)
		return
	}

	if !ok {
		h.writeError(w, http.StatusNotFound, "manifest not found")
		return
	}

	h.writeJSON(w, http.StatusOK, manifestToResponse(m))
}

// handleListStages lists the group's stage pointers in promotion order.
// Stages that have never been promoted to are omitted.
func (h *Handler) handleListStages(w http.ResponseWriter, r *http.Request) {
	group, ok := h.group(w, r)
	if !ok {
		return
	}

	repo := h.Backend.Repository()

	resp := []StageResponse{}

	for _, name := range h.Backend.Stages() {
		s, ok, err := repo.GetStagePointer(r.Context(), group, name)
		if err != nil {
			h.internalError(w, err)
			return
		}

		if ok {
			resp = append(resp, StageResponse{
				Name:       s.Name,
				ManifestID: s.ManifestID,
				Updated:    s.Updated,
			})
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEvict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	group := chi.URLParam(r, "group")

	err := h.Backend.Evict(r.Context(), id, group)
	if errors.Is(err, lock.ErrNotEnqueued) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if err != nil {
		h.internalError(w, err)
		return
	}

	h.logger().Info(
		"evicted deployment from lock",
		mlog.Deployment(id, group)...,
	)

	w.WriteHeader(http.StatusNoContent)
}

// group returns the group named in the request's query string, or the first
// configured group. It writes an error response and returns false if the
// group is not configured.
func (h *Handler) group(w http.ResponseWriter, r *http.Request) (string, bool) {
	groups := h.Backend.Groups()
	if len(groups) == 0 {
		groups = []string{persistence.DefaultGroup}
	}

	g := r.URL.Query().Get("group")
	if g == "" {
		return groups[0], true
	}

	if !slices.Contains(groups, g) {
		h.writeError(w, http.StatusBadRequest, "unknown group: "+g)
		return "", false
	}

	return g, true
}

// limit parses the limit from the request's query string. It writes an error
// response and returns false if it is invalid.
func (h *Handler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return DefaultLimit, true
	}

	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > MaxLimit {
		h.writeError(
			w,
			http.StatusBadRequest,
			"limit must be an integer between 1 and "+strconv.Itoa(MaxLimit),
		)
		return 0, false
	}

	return n, true
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.logger().Error("unable to handle API request", zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger().Error("failed to encode JSON", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
	})
}

func (h *Handler) gatherer() prometheus.Gatherer {
	if h.Gatherer != nil {
		return h.Gatherer
	}

	return prometheus.DefaultGatherer
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}

	return zap.NewNop()
}
