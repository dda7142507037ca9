// Package selection holds the dashboard's interactive state: the chosen
// projection, clustering method, cluster and phenotype, and the views that
// are recomputed whenever that choice changes.
package selection

import (
	"fmt"
	"slices"

	"github.com/geocell/server/internal/dataset"
)

// Selection is the state of the four dashboard controls. An empty Cluster or
// Phenotype means "All".
type Selection struct {
	Projection string `json:"projection"`
	Clustering string `json:"clustering"`
	Cluster    string `json:"cluster"`
	Phenotype  string `json:"phenotype"`
}

// Default returns the initial selection: the first embedding method, the first
// clustering method, and everything highlighted.
func Default(c *dataset.Categories) Selection {
	var sel Selection
	if len(c.Methods) > 0 {
		sel.Projection = c.Methods[0]
	}
	if len(c.Clusterings) > 0 {
		sel.Clustering = c.Clusterings[0]
	}
	return sel
}

// InvalidError reports a selection value outside the dataset's category sets.
type InvalidError struct {
	Field string
	Value string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// Validate checks every field of sel against c. Cluster labels are checked
// against all clustering methods combined, matching the single cluster control.
func Validate(sel Selection, c *dataset.Categories) error {
	if !c.HasMethod(sel.Projection) {
		return &InvalidError{Field: "projection", Value: sel.Projection}
	}
	if !c.HasClustering(sel.Clustering) {
		return &InvalidError{Field: "clustering", Value: sel.Clustering}
	}
	if sel.Cluster != "" && !slices.Contains(c.Clusters, sel.Cluster) {
		return &InvalidError{Field: "cluster", Value: sel.Cluster}
	}
	if sel.Phenotype != "" && !c.HasPhenotype(sel.Phenotype) {
		return &InvalidError{Field: "phenotype", Value: sel.Phenotype}
	}
	return nil
}

// Merge returns sel with every non-empty field of patch applied. Cluster and
// Phenotype can be reset to "All" with the literal value "All".
func Merge(sel Selection, patch Selection) Selection {
	if patch.Projection != "" {
		sel.Projection = patch.Projection
	}
	if patch.Clustering != "" {
		sel.Clustering = patch.Clustering
	}
	switch patch.Cluster {
	case "":
	case All:
		sel.Cluster = ""
	default:
		sel.Cluster = patch.Cluster
	}
	switch patch.Phenotype {
	case "":
	case All:
		sel.Phenotype = ""
	default:
		sel.Phenotype = patch.Phenotype
	}
	return sel
}

// All is the control label that clears a cluster or phenotype highlight.
const All = "All"
