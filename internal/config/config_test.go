package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_LegacyFormat(t *testing.T) {
	content := `
server:
  port: 9000
data:
  zarr_path: "/data/legacy/data_final.zarr"
  degenerate_range: fail
cache:
  plot_size_mb: 256
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset 'default', got %q", cfg.Data.DefaultDataset)
	}
	ds, ok := cfg.Data.Datasets["default"]
	if !ok {
		t.Fatal("expected 'default' dataset")
	}
	if ds.ZarrPath != "/data/legacy/data_final.zarr" {
		t.Errorf("unexpected zarr_path: %s", ds.ZarrPath)
	}
	if ds.Source != SourceZarr {
		t.Errorf("expected inferred zarr source, got %q", ds.Source)
	}
	if ds.DegenerateRange != "fail" {
		t.Errorf("unexpected degenerate_range: %s", ds.DegenerateRange)
	}
	if cfg.Cache.PlotSizeMB != 256 {
		t.Errorf("expected plot cache 256, got %d", cfg.Cache.PlotSizeMB)
	}
}

func TestLoad_MultiDatasetFormat(t *testing.T) {
	content := `
server:
  port: 8080
data:
  melanoma:
    title: "Melanoma"
    zarr_path: "/data/melanoma.zarr"
    embeddings:
      - key: X_umap
        method: UMAP
  tonsil:
    spatial_parquet: "/data/tonsil/cell_spatial_distribution.parquet"
    combined_parquet: "/data/tonsil/umap_tsne_combined_data.parquet"
    columns:
      phenotype: cell_type
`
	cfg := loadFromString(t, content)

	if len(cfg.Data.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(cfg.Data.Datasets))
	}

	// First dataset in YAML order should be default
	if cfg.Data.DefaultDataset != "melanoma" {
		t.Errorf("expected default dataset 'melanoma', got %q", cfg.Data.DefaultDataset)
	}

	melanoma := cfg.Data.Datasets["melanoma"]
	if len(melanoma.Embeddings) != 1 || melanoma.Embeddings[0].Key != "X_umap" {
		t.Errorf("unexpected melanoma embeddings: %+v", melanoma.Embeddings)
	}
	if len(melanoma.Columns.Clusterings) != 2 {
		t.Errorf("expected default clusterings, got %v", melanoma.Columns.Clusterings)
	}

	tonsil := cfg.Data.Datasets["tonsil"]
	if tonsil.Source != SourceParquet {
		t.Errorf("expected inferred parquet source, got %q", tonsil.Source)
	}
	if tonsil.Columns.Phenotype != "cell_type" || tonsil.Columns.X != "X_centroid" {
		t.Errorf("unexpected tonsil columns: %+v", tonsil.Columns)
	}

	// Check order preserved
	ids := cfg.Data.DatasetIDs()
	if len(ids) != 2 || ids[0] != "melanoma" || ids[1] != "tonsil" {
		t.Errorf("unexpected dataset order: %v", ids)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
data:
  test:
    zarr_path: "/test/data.zarr"
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.PlotSizeMB != 64 {
		t.Errorf("expected default cache size 64, got %d", cfg.Cache.PlotSizeMB)
	}
	if cfg.Render.Width != 800 || cfg.Render.Palette != "tableau10" {
		t.Errorf("unexpected render defaults: %+v", cfg.Render)
	}
	if cfg.Render.MaxPoints != 200000 {
		t.Errorf("expected default max_points 200000, got %d", cfg.Render.MaxPoints)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Log.Level)
	}
	if cfg.Data.Datasets["test"].DegenerateRange != "zero" {
		t.Errorf("expected default degenerate_range zero")
	}
}

func TestLoad_MaxPointsSentinel(t *testing.T) {
	cfg := loadFromString(t, `
render:
  max_points: -1
`)
	if cfg.Render.MaxPoints != NoPointCap {
		t.Errorf("expected max_points %d to survive defaults, got %d", NoPointCap, cfg.Render.MaxPoints)
	}
	if cfg.Selection.ResultEntries != 48 {
		t.Errorf("expected default result_entries 48, got %d", cfg.Selection.ResultEntries)
	}
}

func TestLoad_NoDataSection(t *testing.T) {
	content := `
server:
  port: 8080
`
	cfg := loadFromString(t, content)

	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset, got %q", cfg.Data.DefaultDataset)
	}
	if len(cfg.Data.Datasets) != 1 {
		t.Errorf("expected 1 default dataset, got %d", len(cfg.Data.Datasets))
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"parquet without combined": `
data:
  x:
    source: parquet
    spatial_parquet: a.parquet
`,
		"bad policy": `
data:
  x:
    zarr_path: a.zarr
    degenerate_range: clamp
`,
		"unknown source": `
data:
  x:
    source: h5ad
`,
		"bad opacity": `
render:
  opacity: 2
`,
		"negative max points": `
render:
  max_points: -2
`,
		"negative result entries": `
selection:
  result_entries: -5
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatalf("failed to write temp config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
