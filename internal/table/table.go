// Package table holds the flat tables behind the dashboard charts and the
// projection and reshaping steps that derive them from a loaded dataset.
//
// Every function here returns new values; inputs are never modified, so the
// results can be shared read-only for the lifetime of the process.
package table

import "fmt"

// Default column names used by the AnnData exports this dashboard was built for.
const (
	ColumnX         = "X_centroid"
	ColumnY         = "Y_centroid"
	ColumnPhenotype = "phenotype"
	ColumnLeiden    = "leiden"
	ColumnKMeans    = "kmeans"
)

// Embedding method tags.
const (
	MethodUMAP = "UMAP"
	MethodTSNE = "TSNE"
)

// Dataset is an observation-indexed source table with companion embedding
// matrices, as read from an AnnData store.
type Dataset struct {
	Index       []string
	Numeric     map[string][]float64
	Categorical map[string][]string
	Embeddings  map[string][][2]float64
}

// Len returns the number of observations.
func (d *Dataset) Len() int {
	return len(d.Index)
}

// Columns names the source fields used by the projections.
type Columns struct {
	X           string
	Y           string
	Phenotype   string
	Clusterings []string
}

// DefaultColumns returns the column names of the reference dataset.
func DefaultColumns() Columns {
	return Columns{
		X:           ColumnX,
		Y:           ColumnY,
		Phenotype:   ColumnPhenotype,
		Clusterings: []string{ColumnLeiden, ColumnKMeans},
	}
}

// SpatialRow is one cell of the spatial chart.
type SpatialRow struct {
	ObsID     string  `json:"id"`
	X         float64 `json:"X_centroid"`
	Y         float64 `json:"Y_centroid"`
	Phenotype string  `json:"phenotype"`
}

// SpatialTable is {observation id, X, Y, phenotype}.
type SpatialTable struct {
	Rows []SpatialRow
}

// Phenotypes returns the phenotype column.
func (t *SpatialTable) Phenotypes() []string {
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Phenotype
	}
	return out
}

// EmbeddingRow is one observation projected into one embedding.
type EmbeddingRow struct {
	ObsID    string
	Dim1     float64
	Dim2     float64
	Method   string
	X        float64
	Y        float64
	// Clusters holds one label per clustering column, aligned with the
	// owning table's Clusterings.
	Clusters []string
}

// EmbeddingTable holds the rows of a single embedding method.
type EmbeddingTable struct {
	Method      string
	Clusterings []string
	Rows        []EmbeddingRow
}

// ProjectSpatial selects the spatial chart columns from ds.
func ProjectSpatial(ds *Dataset, cols Columns) (*SpatialTable, error) {
	xs, err := numericColumn(ds, cols.X)
	if err != nil {
		return nil, err
	}
	ys, err := numericColumn(ds, cols.Y)
	if err != nil {
		return nil, err
	}
	phenotypes, err := categoricalColumn(ds, cols.Phenotype)
	if err != nil {
		return nil, err
	}

	rows := make([]SpatialRow, ds.Len())
	for i := range rows {
		rows[i] = SpatialRow{
			ObsID:     ds.Index[i],
			X:         xs[i],
			Y:         ys[i],
			Phenotype: phenotypes[i],
		}
	}
	return &SpatialTable{Rows: rows}, nil
}

// ProjectEmbedding builds the table for the embedding stored under key,
// tagging every row with method. Coordinates are copied unscaled.
func ProjectEmbedding(ds *Dataset, cols Columns, key, method string) (*EmbeddingTable, error) {
	coords, ok := ds.Embeddings[key]
	if !ok {
		return nil, &MissingColumnError{Column: key, Group: "obsm"}
	}
	if len(coords) != ds.Len() {
		return nil, fmt.Errorf("embedding %q has %d rows, expected %d", key, len(coords), ds.Len())
	}
	xs, err := numericColumn(ds, cols.X)
	if err != nil {
		return nil, err
	}
	ys, err := numericColumn(ds, cols.Y)
	if err != nil {
		return nil, err
	}
	labels := make([][]string, len(cols.Clusterings))
	for j, name := range cols.Clusterings {
		labels[j], err = categoricalColumn(ds, name)
		if err != nil {
			return nil, err
		}
	}

	rows := make([]EmbeddingRow, ds.Len())
	for i := range rows {
		clusters := make([]string, len(labels))
		for j := range labels {
			clusters[j] = labels[j][i]
		}
		rows[i] = EmbeddingRow{
			ObsID:    ds.Index[i],
			Dim1:     coords[i][0],
			Dim2:     coords[i][1],
			Method:   method,
			X:        xs[i],
			Y:        ys[i],
			Clusters: clusters,
		}
	}

	return &EmbeddingTable{
		Method:      method,
		Clusterings: append([]string(nil), cols.Clusterings...),
		Rows:        rows,
	}, nil
}

func numericColumn(ds *Dataset, name string) ([]float64, error) {
	values, ok := ds.Numeric[name]
	if !ok {
		return nil, &MissingColumnError{Column: name, Group: "obs"}
	}
	if len(values) != ds.Len() {
		return nil, fmt.Errorf("column %q has %d rows, expected %d", name, len(values), ds.Len())
	}
	return values, nil
}

func categoricalColumn(ds *Dataset, name string) ([]string, error) {
	values, ok := ds.Categorical[name]
	if !ok {
		return nil, &MissingColumnError{Column: name, Group: "obs"}
	}
	if len(values) != ds.Len() {
		return nil, fmt.Errorf("column %q has %d rows, expected %d", name, len(values), ds.Len())
	}
	return values, nil
}
