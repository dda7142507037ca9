// Package api provides HTTP handlers for the GeoCell dashboard server.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/geocell/server/internal/chart"
	"github.com/geocell/server/internal/metrics"
	"github.com/geocell/server/internal/selection"
	"github.com/geocell/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger, cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/d/"+cfg.Registry.DefaultDatasetID()+"/", http.StatusFound)
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Get("/", pageHandler(cfg.Registry))
		r.Get("/plots/{plot}.png", plotHandler)

		r.Route("/api", func(r chi.Router) {
			r.Get("/summary", summaryHandler)

			r.Get("/tables/spatial", spatialTableHandler)
			r.Get("/tables/percentages", percentagesTableHandler)
			r.Get("/tables/embedding", embeddingTableHandler)
			r.Get("/tables/melted", meltedTableHandler)

			r.Get("/charts", chartListHandler)
			r.Get("/charts/{name}", chartHandler)

			r.Post("/selection", createSelectionHandler)
			r.Get("/selection/{id}", getSelectionHandler)
			r.Put("/selection/{id}", updateSelectionHandler)
			r.Get("/selection/{id}/views/{view}", selectionViewHandler)
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the dashboard service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.DashboardService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.DashboardService); ok {
		return svc
	}
	return nil
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

func summaryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, getDatasetService(r).Summary())
}

func spatialTableHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, getDatasetService(r).Snapshot().Spatial.Rows)
}

func percentagesTableHandler(w http.ResponseWriter, r *http.Request) {
	shares, err := getDatasetService(r).Percentages(r.URL.Query().Get("sort"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, shares)
}

func embeddingTableHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := getDatasetService(r).Embedding()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rows)
}

func meltedTableHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := getDatasetService(r).Melted(q.Get("projection"), q.Get("clustering"), q.Get("cluster"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rows)
}

func chartListHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"charts": chart.Names})
}

func chartHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	spec, err := svc.Chart(chi.URLParam(r, "name"), tablesURL(svc.DatasetID()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, spec)
}

func plotHandler(w http.ResponseWriter, r *http.Request) {
	data, err := getDatasetService(r).Plot(chi.URLParam(r, "plot"), selectionFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}

func createSelectionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	patch, err := decodeSelection(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state, err := svc.CreateSession(patch)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/d/"+svc.DatasetID()+"/api/selection/"+state.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(state)
}

func getSelectionHandler(w http.ResponseWriter, r *http.Request) {
	state, err := getDatasetService(r).Session(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, state)
}

func updateSelectionHandler(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeSelection(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	state, err := getDatasetService(r).UpdateSession(chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, state)
}

func selectionViewHandler(w http.ResponseWriter, r *http.Request) {
	data, err := getDatasetService(r).SessionView(chi.URLParam(r, "id"), chi.URLParam(r, "view"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func tablesURL(datasetID string) string {
	return "/d/" + datasetID + "/api/tables"
}

func selectionFromQuery(r *http.Request) selection.Selection {
	q := r.URL.Query()
	return selection.Selection{
		Projection: strings.TrimSpace(q.Get("projection")),
		Clustering: strings.TrimSpace(q.Get("clustering")),
		Cluster:    strings.TrimSpace(q.Get("cluster")),
		Phenotype:  strings.TrimSpace(q.Get("phenotype")),
	}
}

// decodeSelection reads an optional JSON selection patch from the body.
func decodeSelection(r *http.Request) (selection.Selection, error) {
	var patch selection.Selection
	if r.Body == nil {
		return patch, nil
	}
	err := json.NewDecoder(r.Body).Decode(&patch)
	if err != nil && !errors.Is(err, io.EOF) {
		return patch, err
	}
	return patch, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalid *selection.InvalidError
		bad     *service.BadRequestError
	)
	switch {
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &invalid), errors.As(err, &bad):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
