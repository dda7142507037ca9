// Package config handles configuration loading for the GeoCell dashboard server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/geocell/server/internal/logging"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       logging.Config  `yaml:"log"`
	Data      DataConfig      `yaml:"data"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	Selection SelectionConfig `yaml:"selection"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port                   int      `yaml:"port"`
	CORSOrigins            []string `yaml:"cors_origins"`
	Title                  string   `yaml:"title"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
}

// Source kinds.
const (
	SourceZarr    = "zarr"
	SourceParquet = "parquet"
)

// ColumnsConfig names the observation fields the dashboard reads.
type ColumnsConfig struct {
	X           string   `yaml:"x"`
	Y           string   `yaml:"y"`
	Phenotype   string   `yaml:"phenotype"`
	Clusterings []string `yaml:"clusterings"`
}

// EmbeddingConfig maps an obsm key to the method tag shown in the dashboard.
type EmbeddingConfig struct {
	Key    string `yaml:"key"`
	Method string `yaml:"method"`
}

// DatasetConfig describes one dataset.
type DatasetConfig struct {
	Title           string            `yaml:"title"`
	// Source is "zarr" or "parquet"; inferred from the paths when empty.
	Source          string            `yaml:"source"`
	ZarrPath        string            `yaml:"zarr_path"`
	SpatialParquet  string            `yaml:"spatial_parquet"`
	CombinedParquet string            `yaml:"combined_parquet"`
	Columns         ColumnsConfig     `yaml:"columns"`
	Embeddings      []EmbeddingConfig `yaml:"embeddings"`
	DegenerateRange string            `yaml:"degenerate_range"`
}

// DataConfig contains data source settings.
type DataConfig struct {
	// Datasets maps dataset IDs to their configuration.
	Datasets       map[string]DatasetConfig
	// DefaultDataset is the first dataset in file order.
	DefaultDataset string

	order []string
}

// DatasetIDs returns dataset IDs in file order.
func (d DataConfig) DatasetIDs() []string {
	return append([]string(nil), d.order...)
}

var datasetKeys = map[string]bool{
	"title": true, "source": true, "zarr_path": true, "spatial_parquet": true,
	"combined_parquet": true, "columns": true, "embeddings": true, "degenerate_range": true,
}

// UnmarshalYAML accepts either a single flat dataset, loaded as "default", or
// a mapping of dataset IDs to datasets.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected a mapping, got %v", node.Tag)
	}

	d.Datasets = make(map[string]DatasetConfig)
	d.order = nil

	legacy := false
	for i := 0; i < len(node.Content); i += 2 {
		if datasetKeys[node.Content[i].Value] {
			legacy = true
			break
		}
	}

	if legacy {
		var ds DatasetConfig
		if err := node.Decode(&ds); err != nil {
			return err
		}
		d.add("default", ds)
		return nil
	}

	for i := 0; i < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var ds DatasetConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", id, err)
		}
		if _, dup := d.Datasets[id]; dup {
			return fmt.Errorf("data: duplicate dataset %q", id)
		}
		d.add(id, ds)
	}
	return nil
}

func (d *DataConfig) add(id string, ds DatasetConfig) {
	if d.Datasets == nil {
		d.Datasets = make(map[string]DatasetConfig)
	}
	d.Datasets[id] = ds
	d.order = append(d.order, id)
	if d.DefaultDataset == "" {
		d.DefaultDataset = id
	}
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	PlotSizeMB     int `yaml:"plot_size_mb"`
	PlotTTLMinutes int `yaml:"plot_ttl_minutes"`
	ViewEntries    int `yaml:"view_entries"`
}

// RenderConfig contains PNG plot settings.
type RenderConfig struct {
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	PointRadius float64 `yaml:"point_radius"`
	Palette     string  `yaml:"palette"`
	Opacity     float64 `yaml:"opacity"`

	// MaxPoints caps the marks per PNG plot; cells are sampled by id.
	// NoPointCap (-1) draws every point. 0 takes the default.
	MaxPoints int `yaml:"max_points"`
}

// SelectionConfig contains interactive session settings.
type SelectionConfig struct {
	MaxSessions int `yaml:"max_sessions"`

	// ResultEntries bounds the view results shared by all sessions of a dataset.
	ResultEntries int `yaml:"result_entries"`
}

// NoPointCap disables plot sampling when set as render.max_points.
const NoPointCap = -1

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default config if file doesn't exist
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultDatasetConfig returns the reference dataset layout: an AnnData store
// with X_centroid/Y_centroid/phenotype, leiden and kmeans clusterings, and
// embeddings under "umap" and "X_tsne".
func DefaultDatasetConfig() DatasetConfig {
	return DatasetConfig{
		Title:    "GeoCell",
		Source:   SourceZarr,
		ZarrPath: "./data/data_final.zarr",
		Columns: ColumnsConfig{
			X:           "X_centroid",
			Y:           "Y_centroid",
			Phenotype:   "phenotype",
			Clusterings: []string{"leiden", "kmeans"},
		},
		Embeddings: []EmbeddingConfig{
			{Key: "umap", Method: "UMAP"},
			{Key: "X_tsne", Method: "TSNE"},
		},
		DegenerateRange: "zero",
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:                   8080,
			CORSOrigins:            []string{"http://localhost:3000", "http://localhost:5173"},
			Title:                  "GeoCell",
			ShutdownTimeoutSeconds: 10,
		},
		Log: logging.DefaultConfig(),
		Cache: CacheConfig{
			PlotSizeMB:     64,
			PlotTTLMinutes: 10,
			ViewEntries:    256,
		},
		Render: RenderConfig{
			Width:       800,
			Height:      500,
			PointRadius: 3,
			Palette:     "tableau10",
			Opacity:     0.7,
			MaxPoints:   200000,
		},
		Selection: SelectionConfig{
			MaxSessions:   1024,
			ResultEntries: 48,
		},
	}
	cfg.Data.add("default", DefaultDatasetConfig())
	return cfg
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = defaults.Server.ShutdownTimeoutSeconds
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = defaults.Log.Encoding
	}

	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	for id, ds := range cfg.Data.Datasets {
		cfg.Data.Datasets[id] = applyDatasetDefaults(ds)
	}

	if cfg.Cache.PlotSizeMB == 0 {
		cfg.Cache.PlotSizeMB = defaults.Cache.PlotSizeMB
	}
	if cfg.Cache.PlotTTLMinutes == 0 {
		cfg.Cache.PlotTTLMinutes = defaults.Cache.PlotTTLMinutes
	}
	if cfg.Cache.ViewEntries == 0 {
		cfg.Cache.ViewEntries = defaults.Cache.ViewEntries
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.PointRadius == 0 {
		cfg.Render.PointRadius = defaults.Render.PointRadius
	}
	if cfg.Render.Palette == "" {
		cfg.Render.Palette = defaults.Render.Palette
	}
	if cfg.Render.Opacity == 0 {
		cfg.Render.Opacity = defaults.Render.Opacity
	}
	if cfg.Render.MaxPoints == 0 {
		cfg.Render.MaxPoints = defaults.Render.MaxPoints
	}
	if cfg.Selection.MaxSessions == 0 {
		cfg.Selection.MaxSessions = defaults.Selection.MaxSessions
	}
	if cfg.Selection.ResultEntries == 0 {
		cfg.Selection.ResultEntries = defaults.Selection.ResultEntries
	}
}

func applyDatasetDefaults(ds DatasetConfig) DatasetConfig {
	defaults := DefaultDatasetConfig()

	if ds.Source == "" {
		if ds.ZarrPath == "" && (ds.SpatialParquet != "" || ds.CombinedParquet != "") {
			ds.Source = SourceParquet
		} else {
			ds.Source = SourceZarr
		}
	}
	if ds.Columns.X == "" {
		ds.Columns.X = defaults.Columns.X
	}
	if ds.Columns.Y == "" {
		ds.Columns.Y = defaults.Columns.Y
	}
	if ds.Columns.Phenotype == "" {
		ds.Columns.Phenotype = defaults.Columns.Phenotype
	}
	if len(ds.Columns.Clusterings) == 0 {
		ds.Columns.Clusterings = defaults.Columns.Clusterings
	}
	if len(ds.Embeddings) == 0 {
		ds.Embeddings = defaults.Embeddings
	}
	if ds.DegenerateRange == "" {
		ds.DegenerateRange = defaults.DegenerateRange
	}
	return ds
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	for _, id := range c.Data.DatasetIDs() {
		ds := c.Data.Datasets[id]
		switch ds.Source {
		case SourceZarr:
			if ds.ZarrPath == "" {
				return fmt.Errorf("data.%s: zarr source needs zarr_path", id)
			}
		case SourceParquet:
			if ds.SpatialParquet == "" || ds.CombinedParquet == "" {
				return fmt.Errorf("data.%s: parquet source needs spatial_parquet and combined_parquet", id)
			}
		default:
			return fmt.Errorf("data.%s: unknown source %q", id, ds.Source)
		}
		switch ds.DegenerateRange {
		case "zero", "fail":
		default:
			return fmt.Errorf("data.%s: degenerate_range must be zero or fail, got %q", id, ds.DegenerateRange)
		}
		for i, e := range ds.Embeddings {
			if e.Key == "" || e.Method == "" {
				return fmt.Errorf("data.%s: embeddings[%d] needs key and method", id, i)
			}
		}
	}
	if c.Render.Opacity < 0 || c.Render.Opacity > 1 {
		return fmt.Errorf("render.opacity must be within [0,1], got %g", c.Render.Opacity)
	}
	if c.Render.MaxPoints < NoPointCap {
		return fmt.Errorf("render.max_points must be positive or %d, got %d", NoPointCap, c.Render.MaxPoints)
	}
	if c.Selection.ResultEntries < 0 {
		return fmt.Errorf("selection.result_entries must not be negative, got %d", c.Selection.ResultEntries)
	}
	return nil
}
