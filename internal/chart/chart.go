// Package chart builds the Vega-Lite specifications of the dashboard charts.
//
// Specs reference their data by URL so the page fetches each table once from
// the table endpoints. Selection controls are Vega-Lite point selections bound
// to radio inputs; the same semantics are served by the selection package for
// clients that do not run Vega.
package chart

import (
	"strings"

	"github.com/geocell/server/internal/dataset"
	"github.com/geocell/server/internal/table"
)

// SchemaURL is the Vega-Lite version the specs target.
const SchemaURL = "https://vega.github.io/schema/vega-lite/v5.json"

// Chart names.
const (
	NameSpatial        = "spatial"
	NamePercentages    = "percentages"
	NameEmbedding      = "embedding"
	NameClusterSpatial = "cluster-spatial"
	NameClusters       = "clusters"
)

// Names lists the charts in page order.
var Names = []string{NameSpatial, NamePercentages, NameClusters}

// Spec is a Vega-Lite specification.
type Spec map[string]any

// Options controls sizes and the data location.
type Options struct {
	// DataURL is the prefix of the table endpoints, e.g. "/d/demo/api/tables".
	DataURL     string
	Width       int
	Height      int
	SmallWidth  int
	SmallHeight int
	PointSize   float64
	Opacity     float64
	// Unselected is the color of marks outside the current highlight.
	Unselected  string
}

// DefaultOptions returns the sizes used by the reference dashboard.
func DefaultOptions(dataURL string) Options {
	return Options{
		DataURL:     dataURL,
		Width:       800,
		Height:      500,
		SmallWidth:  500,
		SmallHeight: 300,
		PointSize:   30,
		Opacity:     0.7,
		Unselected:  "lightgray",
	}
}

// Build returns the named chart.
func Build(name string, snap *dataset.Snapshot, opts Options) (Spec, bool) {
	switch name {
	case NameSpatial:
		return Spatial(snap, opts), true
	case NamePercentages:
		return Percentages(snap, opts), true
	case NameEmbedding:
		return Embedding(snap, opts), true
	case NameClusterSpatial:
		return ClusterSpatial(snap, opts), true
	case NameClusters:
		return Clusters(snap, opts), true
	default:
		return nil, false
	}
}

// Spatial is the cell scatter colored by phenotype with a phenotype radio
// control. The Y axis is flipped so the image matches tissue orientation.
func Spatial(snap *dataset.Snapshot, opts Options) Spec {
	b := snap.SpatialBounds
	param := radioParam("phenotype_select", table.ColumnPhenotype, "Select Phenotype: ", snap.Categories.Phenotypes)

	return Spec{
		"$schema": SchemaURL,
		"title":   "Cell Spatial Distribution by Phenotype",
		"width":   opts.Width,
		"height":  opts.Height,
		"data":    dataRef(opts, "spatial"),
		"mark":    circle(opts),
		"params":  []any{param},
		"encoding": Spec{
			"x": Spec{"field": table.ColumnX, "type": "quantitative"},
			"y": Spec{
				"field": table.ColumnY,
				"type":  "quantitative",
				"scale": Spec{"domain": []float64{b.MaxY, b.MinY}},
			},
			"color":   highlight("phenotype_select", table.ColumnPhenotype, opts),
			"tooltip": tooltip(table.ColumnX, table.ColumnY, table.ColumnPhenotype),
		},
	}
}

// Percentages is the bar chart of phenotype shares in alphabetical order.
func Percentages(snap *dataset.Snapshot, opts Options) Spec {
	return Spec{
		"$schema": SchemaURL,
		"title":   "Percentage of Cells by Phenotype",
		"width":   opts.Width,
		"data":    dataRef(opts, "percentages"),
		"mark":    "bar",
		"encoding": Spec{
			"x": Spec{
				"field": table.ColumnPhenotype,
				"type":  "nominal",
				"sort":  snap.Categories.Phenotypes,
			},
			"y": Spec{
				"field": "Percentage",
				"type":  "quantitative",
				"title": "Percentage (%)",
			},
			"color": Spec{"field": table.ColumnPhenotype, "type": "nominal"},
			"tooltip": []any{
				Spec{"field": table.ColumnPhenotype, "type": "nominal"},
				Spec{"field": "Percentage", "type": "quantitative"},
			},
		},
	}
}

// Embedding is the melted embedding scatter filtered to one projection and one
// clustering method, highlighting the selected cluster.
func Embedding(snap *dataset.Snapshot, opts Options) Spec {
	spec := embeddingLayer(snap, opts)
	spec["$schema"] = SchemaURL
	spec["params"] = append(clusterParams(snap), Spec{
		"name":   "zoom",
		"select": "interval",
		"bind":   "scales",
	})
	return spec
}

// ClusterSpatial is the tissue scatter of the same filtered rows as Embedding.
func ClusterSpatial(snap *dataset.Snapshot, opts Options) Spec {
	spec := clusterSpatialLayer(snap, opts)
	spec["$schema"] = SchemaURL
	spec["params"] = clusterParams(snap)
	return spec
}

// Clusters places Embedding and ClusterSpatial side by side sharing one set of
// controls.
func Clusters(snap *dataset.Snapshot, opts Options) Spec {
	left := embeddingLayer(snap, opts)
	left["name"] = "embedding_view"
	left["params"] = []any{Spec{"name": "zoom", "select": "interval", "bind": "scales"}}

	right := clusterSpatialLayer(snap, opts)
	right["name"] = "cluster_spatial_view"

	params := clusterParams(snap)
	for _, p := range params {
		p.(Spec)["views"] = []string{"embedding_view", "cluster_spatial_view"}
	}

	return Spec{
		"$schema": SchemaURL,
		"params":  params,
		"hconcat": []any{left, right},
	}
}

func embeddingLayer(snap *dataset.Snapshot, opts Options) Spec {
	return Spec{
		"title":     "Visualization with Clusters",
		"width":     opts.SmallWidth,
		"height":    opts.SmallHeight,
		"data":      dataRef(opts, "melted"),
		"mark":      circle(opts),
		"transform": []any{clusterFilter()},
		"encoding": Spec{
			"x":       Spec{"field": "Dim1", "type": "quantitative", "title": "Dimension 1"},
			"y":       Spec{"field": "Dim2", "type": "quantitative", "title": "Dimension 2"},
			"color":   highlight("cluster_select", "cluster", opts),
			"tooltip": tooltip("Dim1", "Dim2", "cluster"),
		},
	}
}

func clusterSpatialLayer(snap *dataset.Snapshot, opts Options) Spec {
	b := snap.SpatialBounds
	return Spec{
		"title":     "Cell Spatial Distribution by Cluster",
		"width":     opts.SmallWidth,
		"height":    opts.SmallHeight,
		"data":      dataRef(opts, "melted"),
		"mark":      circle(opts),
		"transform": []any{clusterFilter()},
		"encoding": Spec{
			"x": Spec{"field": table.ColumnX, "type": "quantitative"},
			"y": Spec{
				"field": table.ColumnY,
				"type":  "quantitative",
				"scale": Spec{"domain": []float64{b.MaxY, b.MinY}},
			},
			"color":   highlight("cluster_select", "cluster", opts),
			"tooltip": tooltip(table.ColumnX, table.ColumnY, "cluster"),
		},
	}
}

func clusterParams(snap *dataset.Snapshot) []any {
	c := snap.Categories

	labels := make([]string, len(c.Clusterings))
	for i, name := range c.Clusterings {
		labels[i] = displayName(name)
	}
	projection := Spec{
		"name":   "Projection",
		"select": Spec{"type": "point", "fields": []string{"type"}},
		"bind":   Spec{"input": "radio", "options": c.Methods, "name": "Projection: "},
	}
	if len(c.Methods) > 0 {
		projection["value"] = []any{Spec{"type": c.Methods[0]}}
	}
	clustering := Spec{
		"name":   "Clustering",
		"select": Spec{"type": "point", "fields": []string{"cluster_type"}},
		"bind":   Spec{"input": "radio", "options": c.Clusterings, "labels": labels, "name": "Clustering: "},
	}
	if len(c.Clusterings) > 0 {
		clustering["value"] = []any{Spec{"cluster_type": c.Clusterings[0]}}
	}

	return []any{
		projection,
		clustering,
		radioParam("cluster_select", "cluster", "Select cluster: ", c.Clusters),
	}
}

func clusterFilter() Spec {
	return Spec{"filter": Spec{"and": []any{
		Spec{"param": "Projection"},
		Spec{"param": "Clustering"},
	}}}
}

// radioParam is a point selection on field bound to a radio input whose first
// option clears it.
func radioParam(name, field, label string, options []string) Spec {
	opts := make([]any, 0, len(options)+1)
	labels := make([]string, 0, len(options)+1)
	opts = append(opts, nil)
	labels = append(labels, "All")
	for _, o := range options {
		opts = append(opts, o)
		labels = append(labels, o+" ")
	}
	return Spec{
		"name":   name,
		"select": Spec{"type": "point", "fields": []string{field}},
		"bind":   Spec{"input": "radio", "options": opts, "labels": labels, "name": label},
	}
}

func highlight(param, field string, opts Options) Spec {
	return Spec{
		"condition": Spec{"param": param, "field": field, "type": "nominal"},
		"value":     opts.Unselected,
	}
}

func circle(opts Options) Spec {
	return Spec{"type": "circle", "size": opts.PointSize, "opacity": opts.Opacity}
}

func tooltip(fields ...string) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = Spec{"field": f}
	}
	return out
}

func dataRef(opts Options, tableName string) Spec {
	return Spec{"url": strings.TrimRight(opts.DataURL, "/") + "/" + tableName}
}

var displayNames = map[string]string{
	table.ColumnLeiden: "Leiden",
	table.ColumnKMeans: "KMeans",
}

func displayName(clustering string) string {
	if n, ok := displayNames[clustering]; ok {
		return n
	}
	return clustering
}
