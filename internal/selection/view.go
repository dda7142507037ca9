package selection

import "github.com/geocell/server/internal/dataset"

// View names.
const (
	ViewEmbedding      = "embedding"
	ViewClusterSpatial = "cluster-spatial"
	ViewPhenotype      = "phenotype"
)

// Point is one mark of a scatter view.
type Point struct {
	ID          string  `json:"id,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Label       string  `json:"label"`
	Highlighted bool    `json:"highlighted"`
}

// Result is a view recomputed for one selection.
type Result struct {
	View        string    `json:"view"`
	Selection   Selection `json:"selection"`
	Points      []Point   `json:"points"`
	Highlighted int       `json:"highlighted"`
}

// View derives its points from the current selection.
type View interface {
	Name() string
	Compute(sel Selection) *Result
}

// EmbeddingView shows the melted rows of the selected projection and
// clustering method in embedding space, highlighting the selected cluster.
type EmbeddingView struct {
	Snapshot *dataset.Snapshot
}

// Name implements View.
func (v *EmbeddingView) Name() string { return ViewEmbedding }

// Compute implements View.
func (v *EmbeddingView) Compute(sel Selection) *Result {
	rows := v.Snapshot.Melted.Filter(sel.Projection, sel.Clustering)
	res := &Result{View: v.Name(), Selection: sel, Points: make([]Point, len(rows))}
	for i, r := range rows {
		p := Point{ID: r.ObsID, X: r.Dim1, Y: r.Dim2, Label: r.Cluster}
		p.Highlighted = sel.Cluster == "" || r.Cluster == sel.Cluster
		if p.Highlighted {
			res.Highlighted++
		}
		res.Points[i] = p
	}
	return res
}

// ClusterSpatialView shows the same rows as EmbeddingView at their tissue
// coordinates.
type ClusterSpatialView struct {
	Snapshot *dataset.Snapshot
}

// Name implements View.
func (v *ClusterSpatialView) Name() string { return ViewClusterSpatial }

// Compute implements View.
func (v *ClusterSpatialView) Compute(sel Selection) *Result {
	rows := v.Snapshot.Melted.Filter(sel.Projection, sel.Clustering)
	res := &Result{View: v.Name(), Selection: sel, Points: make([]Point, len(rows))}
	for i, r := range rows {
		p := Point{ID: r.ObsID, X: r.X, Y: r.Y, Label: r.Cluster}
		p.Highlighted = sel.Cluster == "" || r.Cluster == sel.Cluster
		if p.Highlighted {
			res.Highlighted++
		}
		res.Points[i] = p
	}
	return res
}

// PhenotypeView shows every cell at its tissue coordinates, highlighting the
// selected phenotype.
type PhenotypeView struct {
	Snapshot *dataset.Snapshot
}

// Name implements View.
func (v *PhenotypeView) Name() string { return ViewPhenotype }

// Compute implements View.
func (v *PhenotypeView) Compute(sel Selection) *Result {
	rows := v.Snapshot.Spatial.Rows
	res := &Result{View: v.Name(), Selection: sel, Points: make([]Point, len(rows))}
	for i, r := range rows {
		p := Point{ID: r.ObsID, X: r.X, Y: r.Y, Label: r.Phenotype}
		p.Highlighted = sel.Phenotype == "" || r.Phenotype == sel.Phenotype
		if p.Highlighted {
			res.Highlighted++
		}
		res.Points[i] = p
	}
	return res
}

// StandardViews returns the three dashboard views in page order.
func StandardViews(snap *dataset.Snapshot) []View {
	return []View{
		&PhenotypeView{Snapshot: snap},
		&EmbeddingView{Snapshot: snap},
		&ClusterSpatialView{Snapshot: snap},
	}
}
