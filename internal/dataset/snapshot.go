// Package dataset builds the immutable snapshot of derived tables the
// dashboard serves, from an AnnData store or from pre-exported Parquet files.
package dataset

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/geocell/server/internal/table"
)

// Embedding maps an obsm key to the method tag its rows carry.
type Embedding struct {
	Key    string
	Method string
}

// DefaultEmbeddings returns the UMAP and t-SNE keys of the reference dataset.
func DefaultEmbeddings() []Embedding {
	return []Embedding{
		{Key: "umap", Method: table.MethodUMAP},
		{Key: "X_tsne", Method: table.MethodTSNE},
	}
}

// Options controls how a snapshot is derived.
type Options struct {
	Columns    table.Columns
	Embeddings []Embedding
	Policy     table.DegeneratePolicy
}

// DefaultOptions returns the options matching the reference dataset.
func DefaultOptions() Options {
	return Options{
		Columns:    table.DefaultColumns(),
		Embeddings: DefaultEmbeddings(),
		Policy:     table.DegenerateZero,
	}
}

// Bounds is the extent of a set of points.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

// Categories are the value sets the selection controls offer. They are fixed
// when the snapshot is built. Missing labels are not offered.
type Categories struct {
	Phenotypes     []string            `json:"phenotypes"`
	Methods        []string            `json:"methods"`
	Clusterings    []string            `json:"clusterings"`
	// Clusters lists the labels of every clustering method combined.
	Clusters       []string            `json:"clusters"`
	// ClustersByType lists the labels per clustering method.
	ClustersByType map[string][]string `json:"clusters_by_type"`
}

// HasPhenotype reports whether p is a known phenotype.
func (c *Categories) HasPhenotype(p string) bool { return slices.Contains(c.Phenotypes, p) }

// HasMethod reports whether m is a known embedding method tag.
func (c *Categories) HasMethod(m string) bool { return slices.Contains(c.Methods, m) }

// HasClustering reports whether name is a known clustering method.
func (c *Categories) HasClustering(name string) bool { return slices.Contains(c.Clusterings, name) }

// HasCluster reports whether label occurs under the clustering method.
func (c *Categories) HasCluster(clustering, label string) bool {
	return slices.Contains(c.ClustersByType[clustering], label)
}

// Snapshot holds every derived table. It is never modified after Build
// returns and can be shared by any number of readers.
type Snapshot struct {
	Spatial     *table.SpatialTable
	Percentages []table.PhenotypeShare
	// Embeddings holds the normalized per-method tables. Nil when the snapshot
	// was built from pre-exported tables.
	Embeddings  []*table.EmbeddingTable
	// Long is nil when the snapshot was built from pre-exported tables.
	Long        *table.LongTable
	Melted      *table.MeltedTable

	Categories      Categories
	SpatialBounds   Bounds
	EmbeddingBounds Bounds
	Observations    int
	BuiltAt         time.Time
}

// Build projects ds into the spatial and embedding tables, normalizes each
// embedding on its own, stacks and melts them, and aggregates phenotypes.
func Build(ds *table.Dataset, opts Options) (*Snapshot, error) {
	spatial, err := table.ProjectSpatial(ds, opts.Columns)
	if err != nil {
		return nil, err
	}

	normalized := make([]*table.EmbeddingTable, 0, len(opts.Embeddings))
	for _, e := range opts.Embeddings {
		raw, err := table.ProjectEmbedding(ds, opts.Columns, e.Key, e.Method)
		if err != nil {
			return nil, err
		}
		n, err := table.Normalize(raw, opts.Policy)
		if err != nil {
			return nil, fmt.Errorf("normalize %s: %w", e.Key, err)
		}
		normalized = append(normalized, n)
	}

	long, err := table.Concat(normalized...)
	if err != nil {
		return nil, err
	}
	melted := table.Melt(long)

	snap := assemble(spatial, melted, opts)
	snap.Embeddings = normalized
	snap.Long = long
	snap.Observations = ds.Len()
	return snap, nil
}

// FromTables builds a snapshot from an already projected spatial table and an
// already melted cluster table.
func FromTables(spatial *table.SpatialTable, melted *table.MeltedTable, opts Options) (*Snapshot, error) {
	for _, r := range melted.Rows {
		if !slices.Contains(opts.Columns.Clusterings, r.ClusterType) {
			return nil, &table.SchemaMismatchError{
				Want:   append([]string(nil), opts.Columns.Clusterings...),
				Got:    []string{r.ClusterType},
				Method: r.Method,
			}
		}
	}

	snap := assemble(spatial, melted, opts)
	snap.Observations = len(spatial.Rows)
	return snap, nil
}

func assemble(spatial *table.SpatialTable, melted *table.MeltedTable, opts Options) *Snapshot {
	snap := &Snapshot{
		Spatial:     spatial,
		Percentages: table.Percentages(spatial.Phenotypes()),
		Melted:      melted,
		BuiltAt:     time.Now(),
	}

	snap.Categories = Categories{
		Phenotypes:     labels(spatial.Phenotypes()),
		Clusterings:    append([]string(nil), opts.Columns.Clusterings...),
		ClustersByType: make(map[string][]string, len(opts.Columns.Clusterings)),
	}

	methods := make([]string, 0, len(opts.Embeddings))
	for _, e := range opts.Embeddings {
		methods = append(methods, e.Method)
	}
	byType := make(map[string][]string)
	all := make([]string, 0, len(melted.Rows))
	for _, r := range melted.Rows {
		if !slices.Contains(methods, r.Method) {
			methods = append(methods, r.Method)
		}
		byType[r.ClusterType] = append(byType[r.ClusterType], r.Cluster)
		all = append(all, r.Cluster)
	}
	snap.Categories.Methods = methods
	for _, name := range opts.Columns.Clusterings {
		snap.Categories.ClustersByType[name] = labels(byType[name])
	}
	snap.Categories.Clusters = labels(all)

	xs := make([]float64, len(spatial.Rows))
	ys := make([]float64, len(spatial.Rows))
	for i, r := range spatial.Rows {
		xs[i], ys[i] = r.X, r.Y
	}
	snap.SpatialBounds = bounds(xs, ys)

	d1 := make([]float64, len(melted.Rows))
	d2 := make([]float64, len(melted.Rows))
	for i, r := range melted.Rows {
		d1[i], d2[i] = r.Dim1, r.Dim2
	}
	snap.EmbeddingBounds = bounds(d1, d2)

	return snap
}

// labels returns the sorted distinct non-empty values.
func labels(values []string) []string {
	out := table.Categories(values)
	if len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	return out
}

func bounds(xs, ys []float64) Bounds {
	b := Bounds{MinX: math.Inf(1), MaxX: math.Inf(-1), MinY: math.Inf(1), MaxY: math.Inf(-1)}
	for i := range xs {
		if !math.IsNaN(xs[i]) {
			b.MinX = math.Min(b.MinX, xs[i])
			b.MaxX = math.Max(b.MaxX, xs[i])
		}
		if !math.IsNaN(ys[i]) {
			b.MinY = math.Min(b.MinY, ys[i])
			b.MaxY = math.Max(b.MaxY, ys[i])
		}
	}
	if math.IsInf(b.MinX, 1) {
		b.MinX, b.MaxX = 0, 0
	}
	if math.IsInf(b.MinY, 1) {
		b.MinY, b.MaxY = 0, 0
	}
	return b
}

