package service

import (
	"fmt"

	"github.com/geocell/server/internal/config"
	"github.com/geocell/server/internal/dataset"
	"github.com/geocell/server/internal/table"
)

// OptionsFor converts a dataset configuration into snapshot options.
func OptionsFor(ds config.DatasetConfig) (dataset.Options, error) {
	policy, err := table.ParseDegeneratePolicy(ds.DegenerateRange)
	if err != nil {
		return dataset.Options{}, err
	}

	opts := dataset.DefaultOptions()
	opts.Policy = policy
	if ds.Columns.X != "" {
		opts.Columns.X = ds.Columns.X
	}
	if ds.Columns.Y != "" {
		opts.Columns.Y = ds.Columns.Y
	}
	if ds.Columns.Phenotype != "" {
		opts.Columns.Phenotype = ds.Columns.Phenotype
	}
	if len(ds.Columns.Clusterings) > 0 {
		opts.Columns.Clusterings = append([]string(nil), ds.Columns.Clusterings...)
	}
	if len(ds.Embeddings) > 0 {
		opts.Embeddings = make([]dataset.Embedding, len(ds.Embeddings))
		for i, e := range ds.Embeddings {
			opts.Embeddings[i] = dataset.Embedding{Key: e.Key, Method: e.Method}
		}
	}
	return opts, nil
}

// SourceFor builds the snapshot source named by a dataset configuration.
func SourceFor(ds config.DatasetConfig) (dataset.Source, error) {
	opts, err := OptionsFor(ds)
	if err != nil {
		return nil, err
	}

	switch ds.Source {
	case config.SourceZarr, "":
		return &dataset.ZarrSource{Path: ds.ZarrPath, Options: opts}, nil
	case config.SourceParquet:
		return &dataset.ParquetSource{
			SpatialPath:  ds.SpatialParquet,
			CombinedPath: ds.CombinedParquet,
			Options:      opts,
		}, nil
	default:
		return nil, fmt.Errorf("unknown source %q", ds.Source)
	}
}
