package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/geocell/server/internal/config"
	"github.com/geocell/server/internal/data/parquet"
	"github.com/geocell/server/internal/dataset"
	"github.com/geocell/server/internal/service"
)

// Export file names, matching what parquet-sourced datasets are usually
// configured with.
const (
	spatialFile  = "cell_spatial_distribution.parquet"
	combinedFile = "umap_tsne_combined_data.parquet"
)

func runExport(ctx context.Context, configPath, datasetID, outDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if datasetID == "" {
		datasetID = cfg.Data.DefaultDataset
	}
	ds, ok := cfg.Data.Datasets[datasetID]
	if !ok {
		return fmt.Errorf("unknown dataset %q (configured: %v)", datasetID, cfg.Data.DatasetIDs())
	}
	if ds.Source != config.SourceZarr {
		return fmt.Errorf("dataset %q is already %s-sourced; export needs a zarr source", datasetID, ds.Source)
	}

	opts, err := service.OptionsFor(ds)
	if err != nil {
		return fmt.Errorf("dataset %q: %w", datasetID, err)
	}
	src := &dataset.ZarrSource{Path: ds.ZarrPath, Options: opts}
	snap, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("dataset %q: %w", datasetID, err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	spatialPath := filepath.Join(outDir, spatialFile)
	if err := parquet.WriteSpatial(spatialPath, snap.Spatial, opts.Columns); err != nil {
		return err
	}
	combinedPath := filepath.Join(outDir, combinedFile)
	if err := parquet.WriteCombined(combinedPath, snap.Melted, opts.Columns); err != nil {
		return err
	}

	fmt.Printf("Exported %d cells (%d combined rows) from %s\n", snap.Observations, len(snap.Melted.Rows), ds.ZarrPath)
	fmt.Printf("  %s\n  %s\n", spatialPath, combinedPath)
	return nil
}
