package table

import "slices"

// LongTable stacks the rows of several embedding tables, one block per method.
type LongTable struct {
	Clusterings []string
	Rows        []EmbeddingRow
}

// MeltedRow is one (observation, embedding method, clustering method) triple.
type MeltedRow struct {
	ObsID       string  `json:"-"`
	Dim1        float64 `json:"Dim1"`
	Dim2        float64 `json:"Dim2"`
	Method      string  `json:"type"`
	X           float64 `json:"X_centroid"`
	Y           float64 `json:"Y_centroid"`
	ClusterType string  `json:"cluster_type"`
	Cluster     string  `json:"cluster"`
}

// MeltedTable is the long table with its clustering columns unpivoted into
// cluster_type / cluster.
type MeltedTable struct {
	Rows []MeltedRow
}

// Concat stacks tables in argument order. All tables must carry the same
// clustering columns in the same order.
func Concat(tables ...*EmbeddingTable) (*LongTable, error) {
	if len(tables) == 0 {
		return &LongTable{}, nil
	}

	want := tables[0].Clusterings
	total := 0
	for _, t := range tables {
		if !slices.Equal(t.Clusterings, want) {
			return nil, &SchemaMismatchError{
				Want:   append([]string(nil), want...),
				Got:    append([]string(nil), t.Clusterings...),
				Method: t.Method,
			}
		}
		total += len(t.Rows)
	}

	rows := make([]EmbeddingRow, 0, total)
	for _, t := range tables {
		for _, r := range t.Rows {
			r.Clusters = append([]string(nil), r.Clusters...)
			rows = append(rows, r)
		}
	}
	return &LongTable{
		Clusterings: append([]string(nil), want...),
		Rows:        rows,
	}, nil
}

// Melt emits, for each long row and each clustering column in order, one row
// carrying that column's name and label.
func Melt(t *LongTable) *MeltedTable {
	rows := make([]MeltedRow, 0, len(t.Rows)*len(t.Clusterings))
	for _, r := range t.Rows {
		for j, name := range t.Clusterings {
			label := ""
			if j < len(r.Clusters) {
				label = r.Clusters[j]
			}
			rows = append(rows, MeltedRow{
				ObsID:       r.ObsID,
				Dim1:        r.Dim1,
				Dim2:        r.Dim2,
				Method:      r.Method,
				X:           r.X,
				Y:           r.Y,
				ClusterType: name,
				Cluster:     label,
			})
		}
	}
	return &MeltedTable{Rows: rows}
}

// Filter returns the rows matching method and clusterType. Empty arguments
// match everything.
func (t *MeltedTable) Filter(method, clusterType string) []MeltedRow {
	out := make([]MeltedRow, 0, len(t.Rows)/4)
	for _, r := range t.Rows {
		if method != "" && r.Method != method {
			continue
		}
		if clusterType != "" && r.ClusterType != clusterType {
			continue
		}
		out = append(out, r)
	}
	return out
}
