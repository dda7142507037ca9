// Package main is the entry point for the GeoCell dashboard server.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "geocell",
		Short: "GeoCell - single-cell spatial dashboard server",
		Long: `GeoCell loads single-cell spatial datasets (AnnData Zarr stores or pre-exported
Parquet tables) and serves an interactive dashboard of cell positions, phenotype
proportions and UMAP/t-SNE embeddings with linked cluster selection.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/server.yaml", "Path to configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("GeoCell v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Load the configured datasets and serve the dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})

	var datasetID, outDir string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the spatial and combined Parquet tables of a Zarr dataset",
		Long: `Export reads a Zarr-backed dataset, derives its tables exactly as the server
does, and writes cell_spatial_distribution.parquet and umap_tsne_combined_data.parquet
to the output directory. A parquet-sourced dataset config can then point at them.

Example:
  geocell export --config server.yaml --dataset melanoma --out ./exports/melanoma`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), configPath, datasetID, outDir)
		},
	}
	exportCmd.Flags().StringVarP(&datasetID, "dataset", "d", "", "Dataset ID (default: the first configured dataset)")
	exportCmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	root.AddCommand(exportCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
