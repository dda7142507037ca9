package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/geocell/server/internal/data/parquet"
	"github.com/geocell/server/internal/data/zarr"
	"github.com/geocell/server/internal/table"
)

// AcquisitionError reports that the dataset could not be read at all.
type AcquisitionError struct {
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire dataset from %s: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Source produces a snapshot.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
	// Describe names the source for logs and errors.
	Describe() string
}

// ZarrSource reads an AnnData store in Zarr v3 layout.
type ZarrSource struct {
	Path    string
	Options Options
}

// Describe implements Source.
func (s *ZarrSource) Describe() string { return "zarr:" + s.Path }

// Load implements Source.
func (s *ZarrSource) Load(ctx context.Context) (*Snapshot, error) {
	ds, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	return Build(ds, s.Options)
}

// Read loads the raw observation table without deriving anything from it.
func (s *ZarrSource) Read(ctx context.Context) (*table.Dataset, error) {
	r, err := zarr.NewReader(s.Path)
	if err != nil {
		return nil, &AcquisitionError{Source: s.Describe(), Err: err}
	}
	defer r.Close()

	index, err := r.ObsIndex()
	if err != nil {
		return nil, s.wrap(r, err, "_index", "obs")
	}

	cols := s.Options.Columns
	ds := &table.Dataset{
		Index:       index,
		Numeric:     make(map[string][]float64),
		Categorical: make(map[string][]string),
		Embeddings:  make(map[string][][2]float64),
	}

	for _, name := range []string{cols.X, cols.Y} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ds.Numeric[name], err = r.ObsNumeric(name); err != nil {
			return nil, s.wrap(r, err, name, "obs")
		}
	}
	for _, name := range append([]string{cols.Phenotype}, cols.Clusterings...) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ds.Categorical[name], err = r.ObsCategorical(name); err != nil {
			return nil, s.wrap(r, err, name, "obs")
		}
	}
	for _, e := range s.Options.Embeddings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ds.Embeddings[e.Key], err = r.Obsm(e.Key); err != nil {
			return nil, s.wrap(r, err, e.Key, "obsm")
		}
	}
	return ds, nil
}

func (s *ZarrSource) wrap(r *zarr.Reader, err error, column, group string) error {
	if !errors.Is(err, zarr.ErrNotFound) {
		return &AcquisitionError{Source: s.Describe(), Err: err}
	}
	missing := &table.MissingColumnError{Column: column, Group: group}
	if group == "obs" {
		missing.Available, _ = r.ObsColumns()
	}
	return missing
}

// ParquetSource reads the two pre-exported tables.
type ParquetSource struct {
	SpatialPath  string
	CombinedPath string
	Options      Options
}

// Describe implements Source.
func (s *ParquetSource) Describe() string {
	return fmt.Sprintf("parquet:%s,%s", s.SpatialPath, s.CombinedPath)
}

// Load implements Source.
func (s *ParquetSource) Load(ctx context.Context) (*Snapshot, error) {
	spatial, err := parquet.ReadSpatial(ctx, s.SpatialPath, s.Options.Columns)
	if err != nil {
		return nil, s.wrap(err)
	}
	melted, err := parquet.ReadCombined(ctx, s.CombinedPath, s.Options.Columns)
	if err != nil {
		return nil, s.wrap(err)
	}
	return FromTables(spatial, melted, s.Options)
}

func (s *ParquetSource) wrap(err error) error {
	var missing *table.MissingColumnError
	if errors.As(err, &missing) {
		return err
	}
	return &AcquisitionError{Source: s.Describe(), Err: err}
}

// Handle loads its source on first use and returns the same snapshot, or the
// same error, on every later call.
type Handle struct {
	source Source
	get    func() (*Snapshot, error)
}

// NewHandle wraps src. Nothing is read until Get is called.
func NewHandle(src Source) *Handle {
	return &Handle{
		source: src,
		get: sync.OnceValues(func() (*Snapshot, error) {
			return src.Load(context.Background())
		}),
	}
}

// Get returns the snapshot, loading it on the first call.
func (h *Handle) Get() (*Snapshot, error) {
	return h.get()
}

// Source returns the wrapped source.
func (h *Handle) Source() Source {
	return h.source
}
