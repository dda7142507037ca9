// Package service provides the per-dataset business logic of the dashboard.
package service

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/geocell/server/internal/cache"
	"github.com/geocell/server/internal/chart"
	"github.com/geocell/server/internal/dataset"
	"github.com/geocell/server/internal/metrics"
	"github.com/geocell/server/internal/render"
	"github.com/geocell/server/internal/selection"
	"github.com/geocell/server/internal/table"
)

// ErrNotFound is returned for unknown charts, plots, views and sessions.
var ErrNotFound = errors.New("not found")

// BadRequestError reports an invalid query parameter.
type BadRequestError struct {
	Param string
	Value string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Param, e.Value)
}

// Plot names.
const (
	PlotSpatial        = "spatial"
	PlotEmbedding      = "embedding"
	PlotClusterSpatial = "cluster-spatial"
)

// DashboardConfig contains dashboard service configuration.
type DashboardConfig struct {
	DatasetID   string
	Title       string
	Handle      *dataset.Handle
	Cache       *cache.Manager
	Renderer    *render.Renderer
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	MaxSessions int
	// MaxResults bounds the view results shared by every session.
	MaxResults  int

	// MaxPlotPoints caps the marks drawn per PNG plot; 0 or a negative value
	// (config.NoPointCap) draws every point.
	MaxPlotPoints int
}

// DashboardService serves the tables, charts, plots and selection sessions of
// one dataset.
type DashboardService struct {
	datasetID   string
	title       string
	handle      *dataset.Handle
	cache       *cache.Manager
	renderer    *render.Renderer
	metrics     *metrics.Metrics
	logger      *zap.Logger
	maxSessions int
	maxResults  int
	maxPoints   int

	snap     *dataset.Snapshot
	results  *selection.Results
	sessions *selection.Sessions
}

// NewDashboardService creates a dashboard service. Call Load before serving.
func NewDashboardService(cfg DashboardConfig) *DashboardService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 1024
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 48
	}

	return &DashboardService{
		datasetID:   datasetID,
		title:       cfg.Title,
		handle:      cfg.Handle,
		cache:       cfg.Cache,
		renderer:    cfg.Renderer,
		metrics:     cfg.Metrics,
		logger:      logger.With(zap.String("dataset", datasetID)),
		maxSessions: maxSessions,
		maxResults:  maxResults,
		maxPoints:   cfg.MaxPlotPoints,
	}
}

// Load acquires and reshapes the dataset. It must succeed before any other
// method is called; failure is fatal for the dataset.
func (s *DashboardService) Load() error {
	start := time.Now()
	source := s.handle.Source().Describe()
	s.logger.Info("Loading dataset", zap.String("source", source))

	snap, err := s.handle.Get()
	if s.metrics != nil {
		s.metrics.ObserveLoad(s.datasetID, source, time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("dataset %s: %w", s.datasetID, err)
	}

	results, err := selection.NewResults(s.maxResults)
	if err != nil {
		return err
	}
	sessions, err := selection.NewSessions(s.maxSessions, func() *selection.Hub {
		h := selection.NewHub(&snap.Categories, results)
		for _, v := range selection.StandardViews(snap) {
			h.Subscribe(v)
		}
		return h
	})
	if err != nil {
		return err
	}

	s.snap = snap
	s.results = results
	s.sessions = sessions
	if s.metrics != nil {
		s.metrics.Observations.WithLabelValues(s.datasetID).Set(float64(snap.Observations))
	}
	s.logger.Info("Dataset ready",
		zap.Int("observations", snap.Observations),
		zap.Int("melted_rows", len(snap.Melted.Rows)),
		zap.Strings("methods", snap.Categories.Methods),
		zap.Int("phenotypes", len(snap.Categories.Phenotypes)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// DatasetID returns the dataset ID.
func (s *DashboardService) DatasetID() string { return s.datasetID }

// Title returns the display title, falling back to the dataset ID.
func (s *DashboardService) Title() string {
	if s.title != "" {
		return s.title
	}
	return s.datasetID
}

// Snapshot returns the loaded snapshot.
func (s *DashboardService) Snapshot() *dataset.Snapshot { return s.snap }

// Summary describes the loaded dataset.
type Summary struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Source          string               `json:"source"`
	Observations    int                  `json:"observations"`
	MeltedRows      int                  `json:"melted_rows"`
	Categories      dataset.Categories   `json:"categories"`
	SpatialBounds   dataset.Bounds       `json:"spatial_bounds"`
	EmbeddingBounds dataset.Bounds       `json:"embedding_bounds"`
	Default         selection.Selection  `json:"default_selection"`
	PhenotypeColors []render.LegendEntry `json:"phenotype_colors"`
	ClusterColors   []render.LegendEntry `json:"cluster_colors"`
	Charts          []string             `json:"charts"`
	LoadedAt        time.Time            `json:"loaded_at"`
}

// Summary returns the dataset summary.
func (s *DashboardService) Summary() *Summary {
	c := s.snap.Categories
	return &Summary{
		ID:              s.datasetID,
		Title:           s.Title(),
		Source:          s.handle.Source().Describe(),
		Observations:    s.snap.Observations,
		MeltedRows:      len(s.snap.Melted.Rows),
		Categories:      c,
		SpatialBounds:   s.snap.SpatialBounds,
		EmbeddingBounds: s.snap.EmbeddingBounds,
		Default:         selection.Default(&c),
		PhenotypeColors: s.renderer.Legend(c.Phenotypes),
		ClusterColors:   s.renderer.Legend(c.Clusters),
		Charts:          chart.Names,
		LoadedAt:        s.snap.BuiltAt,
	}
}

// Percentages returns the phenotype shares ordered by sortBy: "alpha" (the
// default, matching the bar chart) or "desc".
func (s *DashboardService) Percentages(sortBy string) ([]table.PhenotypeShare, error) {
	switch sortBy {
	case "", "alpha":
		return table.SortByCategories(s.snap.Percentages, s.snap.Categories.Phenotypes), nil
	case "desc":
		return table.SortByPercentage(s.snap.Percentages), nil
	default:
		return nil, &BadRequestError{Param: "sort", Value: sortBy}
	}
}

// Melted returns the melted rows for projection and clustering, optionally
// restricted to one cluster. Empty arguments match everything. A cluster must
// be a label of clustering when both are given.
func (s *DashboardService) Melted(projection, clustering, cluster string) ([]table.MeltedRow, error) {
	c := s.snap.Categories
	if projection != "" && !c.HasMethod(projection) {
		return nil, &BadRequestError{Param: "projection", Value: projection}
	}
	if clustering != "" && !c.HasClustering(clustering) {
		return nil, &BadRequestError{Param: "clustering", Value: clustering}
	}
	if cluster != "" {
		known := slices.Contains(c.Clusters, cluster)
		if clustering != "" {
			known = c.HasCluster(clustering, cluster)
		}
		if !known {
			return nil, &BadRequestError{Param: "cluster", Value: cluster}
		}
	}

	rows := s.snap.Melted.Filter(projection, clustering)
	if cluster == "" {
		return rows, nil
	}
	out := make([]table.MeltedRow, 0, len(rows))
	for _, r := range rows {
		if r.Cluster == cluster {
			out = append(out, r)
		}
	}
	return out, nil
}

// Embedding returns the long-form embedding table as flat rows. Datasets
// loaded from pre-exported tables have none.
func (s *DashboardService) Embedding() ([]EmbeddingRecord, error) {
	if s.snap.Long == nil {
		return nil, fmt.Errorf("embedding table for %s: %w", s.datasetID, ErrNotFound)
	}
	names := s.snap.Long.Clusterings
	out := make([]EmbeddingRecord, len(s.snap.Long.Rows))
	for i, r := range s.snap.Long.Rows {
		clusters := make(map[string]string, len(names))
		for j, name := range names {
			clusters[name] = r.Clusters[j]
		}
		out[i] = EmbeddingRecord{
			ObsID:    r.ObsID,
			Dim1:     r.Dim1,
			Dim2:     r.Dim2,
			Method:   r.Method,
			X:        r.X,
			Y:        r.Y,
			Clusters: clusters,
		}
	}
	return out, nil
}

// EmbeddingRecord is one row of the long-form embedding table.
type EmbeddingRecord struct {
	ObsID    string            `json:"id"`
	Dim1     float64           `json:"Dim1"`
	Dim2     float64           `json:"Dim2"`
	Method   string            `json:"type"`
	X        float64           `json:"X_centroid"`
	Y        float64           `json:"Y_centroid"`
	Clusters map[string]string `json:"clusters"`
}

// Chart returns the named Vega-Lite spec with data URLs under dataURL.
func (s *DashboardService) Chart(name, dataURL string) (chart.Spec, error) {
	spec, ok := chart.Build(name, s.snap, chart.DefaultOptions(dataURL))
	if !ok {
		return nil, fmt.Errorf("chart %q: %w", name, ErrNotFound)
	}
	return spec, nil
}

// Plot renders the named PNG plot for sel. Empty selection fields fall back to
// the default selection.
func (s *DashboardService) Plot(name string, sel selection.Selection) ([]byte, error) {
	c := &s.snap.Categories
	sel = selection.Merge(selection.Default(c), sel)
	if err := selection.Validate(sel, c); err != nil {
		return nil, err
	}

	var (
		view   selection.View
		labels []string
		bounds dataset.Bounds
		flipY  bool
	)
	switch name {
	case PlotSpatial:
		view, labels, bounds, flipY = &selection.PhenotypeView{Snapshot: s.snap}, c.Phenotypes, s.snap.SpatialBounds, true
	case PlotEmbedding:
		view, labels, bounds = &selection.EmbeddingView{Snapshot: s.snap}, c.Clusters, s.snap.EmbeddingBounds
	case PlotClusterSpatial:
		view, labels, bounds, flipY = &selection.ClusterSpatialView{Snapshot: s.snap}, c.Clusters, s.snap.SpatialBounds, true
	default:
		return nil, fmt.Errorf("plot %q: %w", name, ErrNotFound)
	}

	key := cache.PlotKey(s.datasetID, name, sel.Projection, sel.Clustering, sel.Cluster, sel.Phenotype)
	if data, ok := s.cache.GetPlot(key); ok {
		s.plotCacheResult(true)
		return data, nil
	}
	s.plotCacheResult(false)

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	res := s.results.Compute(view, sel)
	marks := res.Points
	if s.maxPoints > 0 && len(marks) > s.maxPoints {
		marks = deterministicSample(marks, s.maxPoints, 0)
	}
	points := make([]render.Point, len(marks))
	for i, p := range marks {
		cat, ok := index[p.Label]
		if !ok {
			cat = -1
		}
		points[i] = render.Point{X: p.X, Y: p.Y, Category: cat, Highlighted: p.Highlighted && ok}
	}

	data, err := s.renderer.Scatter(points, render.Bounds(bounds), flipY)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	if err := s.cache.SetPlot(key, data); err != nil {
		s.logger.Warn("Failed to cache plot", zap.String("plot", name), zap.Error(err))
	}
	return data, nil
}

func (s *DashboardService) plotCacheResult(hit bool) {
	if s.metrics != nil {
		s.metrics.PlotCacheResult(hit)
	}
}

// NewSession starts a selection session at the default selection.
func (s *DashboardService) NewSession() (string, selection.Selection) {
	id, hub := s.sessions.Create()
	sel, _ := hub.Selection()
	s.observeSessions()
	return id, sel
}

// CreateSession starts a session with patch applied to the default
// selection. A rejected patch creates no session.
func (s *DashboardService) CreateSession(patch selection.Selection) (*SessionState, error) {
	c := &s.snap.Categories
	if err := selection.Validate(selection.Merge(selection.Default(c), patch), c); err != nil {
		s.countSelection("rejected")
		return nil, err
	}
	id, _ := s.NewSession()
	return s.UpdateSession(id, patch)
}

// SessionCount returns the number of live sessions.
func (s *DashboardService) SessionCount() int {
	return s.sessions.Len()
}

func (s *DashboardService) observeSessions() {
	if s.metrics != nil {
		s.metrics.Sessions.WithLabelValues(s.datasetID).Set(float64(s.sessions.Len()))
	}
}

// SessionState is the current selection of a session.
type SessionState struct {
	ID        string              `json:"id"`
	Selection selection.Selection `json:"selection"`
	Version   uint64              `json:"version"`
	Views     []string            `json:"views"`
}

// Session returns the state of session id.
func (s *DashboardService) Session(id string) (*SessionState, error) {
	hub, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	sel, version := hub.Selection()
	return &SessionState{ID: id, Selection: sel, Version: version, Views: hub.Views()}, nil
}

// UpdateSession applies patch to session id and recomputes its views.
func (s *DashboardService) UpdateSession(id string, patch selection.Selection) (*SessionState, error) {
	hub, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if _, err := hub.Update(patch); err != nil {
		s.countSelection("rejected")
		return nil, err
	}
	s.countSelection("accepted")
	return s.Session(id)
}

func (s *DashboardService) countSelection(result string) {
	if s.metrics != nil {
		s.metrics.SelectionsTotal.WithLabelValues(s.datasetID, result).Inc()
	}
}

// SessionView returns the JSON encoding of a session's view. Encodings are
// shared between sessions holding the same selection.
func (s *DashboardService) SessionView(id, view string) ([]byte, error) {
	hub, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	res, ok := hub.Result(view)
	if !ok {
		return nil, fmt.Errorf("view %q: %w", view, ErrNotFound)
	}

	sel := res.Selection
	key := cache.ViewKey(s.datasetID, view, sel.Projection, sel.Clustering, sel.Cluster, sel.Phenotype)
	if data, ok := s.cache.GetView(key); ok {
		return data, nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode view %s: %w", view, err)
	}
	s.cache.SetView(key, data)
	return data, nil
}
