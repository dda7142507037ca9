package table

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"pgregory.net/rapid"
)

func testDataset() *Dataset {
	return &Dataset{
		Index: []string{"c1", "c2", "c3"},
		Numeric: map[string][]float64{
			ColumnX: {10, 20, 30},
			ColumnY: {1, 2, 3},
		},
		Categorical: map[string][]string{
			ColumnPhenotype: {"T-cell", "B-cell", "T-cell"},
			ColumnLeiden:    {"0", "1", "1"},
			ColumnKMeans:    {"2", "2", "0"},
		},
		Embeddings: map[string][][2]float64{
			"umap":   {{0, 4}, {5, 2}, {10, 0}},
			"X_tsne": {{-30, 1}, {0, 1.5}, {30, 2}},
		},
	}
}

func TestProjectSpatial(t *testing.T) {
	st, err := ProjectSpatial(testDataset(), DefaultColumns())
	require.NoError(t, err)
	require.Len(t, st.Rows, 3)
	assert.Equal(t, SpatialRow{ObsID: "c2", X: 20, Y: 2, Phenotype: "B-cell"}, st.Rows[1])
	assert.Equal(t, []string{"T-cell", "B-cell", "T-cell"}, st.Phenotypes())
}

func TestProjectMissingColumn(t *testing.T) {
	ds := testDataset()

	_, err := ProjectEmbedding(ds, DefaultColumns(), "X_pca", MethodUMAP)
	var missing *MissingColumnError
	require.True(t, errors.As(err, &missing), "got %v", err)
	assert.Equal(t, "X_pca", missing.Column)
	assert.Equal(t, "obsm", missing.Group)

	delete(ds.Categorical, ColumnPhenotype)
	_, err = ProjectSpatial(ds, DefaultColumns())
	require.True(t, errors.As(err, &missing), "got %v", err)
	assert.Equal(t, ColumnPhenotype, missing.Column)
}

func TestProjectEmbedding(t *testing.T) {
	et, err := ProjectEmbedding(testDataset(), DefaultColumns(), "umap", MethodUMAP)
	require.NoError(t, err)
	assert.Equal(t, MethodUMAP, et.Method)
	assert.Equal(t, []string{ColumnLeiden, ColumnKMeans}, et.Clusterings)
	assert.Equal(t, EmbeddingRow{
		ObsID: "c3", Dim1: 10, Dim2: 0, Method: MethodUMAP, X: 30, Y: 3,
		Clusters: []string{"1", "0"},
	}, et.Rows[2])
}

func TestMinMaxExample(t *testing.T) {
	got, err := MinMax("Dim1", []float64{0, 5, 10}, DegenerateZero)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.0, 0.5, 1.0}, got)
}

func TestMinMaxDegenerate(t *testing.T) {
	got, err := MinMax("Dim1", []float64{3, 3, 3}, DegenerateZero)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, got)

	_, err = MinMax("Dim1", []float64{3, 3}, DegenerateFail)
	var degenerate *DegenerateRangeError
	require.True(t, errors.As(err, &degenerate), "got %v", err)
	assert.Equal(t, "Dim1", degenerate.Column)
	assert.Equal(t, 3.0, degenerate.Value)
}

func TestMinMaxKeepsNaN(t *testing.T) {
	got, err := MinMax("Dim1", []float64{2, math.NaN(), 4}, DegenerateFail)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got[0])
	assert.True(t, math.IsNaN(got[1]))
	assert.Equal(t, 1.0, got[2])
}

func TestMinMaxExtremeRange(t *testing.T) {
	got, err := MinMax("Dim1", []float64{-1.5e308, 0, 1.5e308}, DegenerateFail)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, got)

	got, err = MinMax("Dim1", []float64{math.MaxFloat64, -math.MaxFloat64}, DegenerateFail)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, got)
}

func TestMinMaxRejectsInf(t *testing.T) {
	for _, inf := range []float64{math.Inf(1), math.Inf(-1)} {
		_, err := MinMax("Dim2", []float64{0, 5, inf}, DegenerateZero)
		var nonFinite *NonFiniteError
		require.True(t, errors.As(err, &nonFinite), "got %v", err)
		assert.Equal(t, "Dim2", nonFinite.Column)
		assert.Equal(t, 2, nonFinite.Index)
		assert.Equal(t, inf, nonFinite.Value)
	}
}

func TestMinMaxFullRangeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfNDistinct(
			rapid.Float64Range(-math.MaxFloat64, math.MaxFloat64), 2, 50, rapid.ID[float64],
		).Draw(t, "values")

		got, err := MinMax("Dim1", values, DegenerateFail)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got[floats.MinIdx(values)] != 0 || got[floats.MaxIdx(values)] != 1 {
			t.Fatalf("extremes map to %v and %v", got[floats.MinIdx(values)], got[floats.MaxIdx(values)])
		}
		for i, v := range got {
			if math.IsNaN(v) || v < 0 || v > 1 {
				t.Fatalf("value %d = %v outside [0,1]", i, v)
			}
		}
	})
}

func TestMinMaxProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfNDistinct(rapid.Float64Range(-1e6, 1e6), 2, 200, rapid.ID[float64]).Draw(t, "values")

		got, err := MinMax("Dim1", values, DegenerateFail)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lo, hi := floats.MinIdx(values), floats.MaxIdx(values)
		if got[lo] != 0 {
			t.Fatalf("min maps to %v, want 0", got[lo])
		}
		if got[hi] != 1 {
			t.Fatalf("max maps to %v, want 1", got[hi])
		}
		for i, v := range got {
			if v < 0 || v > 1 {
				t.Fatalf("value %d = %v outside [0,1]", i, v)
			}
		}
	})
}

func TestNormalizeIsPerMethod(t *testing.T) {
	ds := testDataset()
	umap, err := ProjectEmbedding(ds, DefaultColumns(), "umap", MethodUMAP)
	require.NoError(t, err)
	tsne, err := ProjectEmbedding(ds, DefaultColumns(), "X_tsne", MethodTSNE)
	require.NoError(t, err)

	nu, err := Normalize(umap, DegenerateFail)
	require.NoError(t, err)
	nt, err := Normalize(tsne, DegenerateFail)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0.5, 1}, []float64{nu.Rows[0].Dim1, nu.Rows[1].Dim1, nu.Rows[2].Dim1})
	assert.Equal(t, []float64{1, 0.5, 0}, []float64{nu.Rows[0].Dim2, nu.Rows[1].Dim2, nu.Rows[2].Dim2})
	assert.Equal(t, []float64{0, 0.5, 1}, []float64{nt.Rows[0].Dim1, nt.Rows[1].Dim1, nt.Rows[2].Dim1})
	assert.Equal(t, []float64{0, 0.5, 1}, []float64{nt.Rows[0].Dim2, nt.Rows[1].Dim2, nt.Rows[2].Dim2})

	// Inputs stay untouched.
	assert.Equal(t, 10.0, umap.Rows[2].Dim1)
	assert.Equal(t, 30.0, tsne.Rows[2].Dim1)
}

func TestConcatSchemaMismatch(t *testing.T) {
	a := &EmbeddingTable{Method: MethodUMAP, Clusterings: []string{ColumnLeiden, ColumnKMeans}}
	b := &EmbeddingTable{Method: MethodTSNE, Clusterings: []string{ColumnLeiden}}

	_, err := Concat(a, b)
	var mismatch *SchemaMismatchError
	require.True(t, errors.As(err, &mismatch), "got %v", err)
	assert.Equal(t, MethodTSNE, mismatch.Method)
}

func TestMeltPairsLabelsPerObservation(t *testing.T) {
	long := &LongTable{
		Clusterings: []string{ColumnLeiden, ColumnKMeans},
		Rows: []EmbeddingRow{
			{ObsID: "obs1", Method: MethodUMAP, Clusters: []string{"A", "B"}},
			{ObsID: "obs2", Method: MethodUMAP, Clusters: []string{"A", "B"}},
		},
	}

	melted := Melt(long)
	require.Len(t, melted.Rows, 4)

	type triple struct{ obs, method, cluster string }
	got := make([]triple, len(melted.Rows))
	for i, r := range melted.Rows {
		got[i] = triple{r.ObsID, r.ClusterType, r.Cluster}
	}
	assert.Equal(t, []triple{
		{"obs1", ColumnLeiden, "A"},
		{"obs1", ColumnKMeans, "B"},
		{"obs2", ColumnLeiden, "A"},
		{"obs2", ColumnKMeans, "B"},
	}, got)
}

func embeddingTableGen(method string, clusterings []string) *rapid.Generator[*EmbeddingTable] {
	return rapid.Custom(func(t *rapid.T) *EmbeddingTable {
		n := rapid.IntRange(1, 50).Draw(t, method+"_n")
		rows := make([]EmbeddingRow, n)
		for i := range rows {
			clusters := make([]string, len(clusterings))
			for j := range clusters {
				clusters[j] = rapid.SampledFrom([]string{"0", "1", "2", "3"}).Draw(t, "label")
			}
			rows[i] = EmbeddingRow{
				ObsID:    rapid.StringMatching(`c[0-9]{1,4}`).Draw(t, "id"),
				Dim1:     rapid.Float64Range(0, 1).Draw(t, "dim1"),
				Dim2:     rapid.Float64Range(0, 1).Draw(t, "dim2"),
				Method:   method,
				X:        rapid.Float64Range(0, 5000).Draw(t, "x"),
				Y:        rapid.Float64Range(0, 5000).Draw(t, "y"),
				Clusters: clusters,
			}
		}
		return &EmbeddingTable{Method: method, Clusterings: clusterings, Rows: rows}
	})
}

func TestConcatPreservesOrder(t *testing.T) {
	clusterings := []string{ColumnLeiden, ColumnKMeans}
	rapid.Check(t, func(t *rapid.T) {
		a := embeddingTableGen(MethodUMAP, clusterings).Draw(t, "umap")
		b := embeddingTableGen(MethodTSNE, clusterings).Draw(t, "tsne")

		long, err := Concat(a, b)
		if err != nil {
			t.Fatalf("concat: %v", err)
		}
		if len(long.Rows) != len(a.Rows)+len(b.Rows) {
			t.Fatalf("got %d rows, want %d", len(long.Rows), len(a.Rows)+len(b.Rows))
		}
		for i, r := range a.Rows {
			if long.Rows[i].ObsID != r.ObsID || long.Rows[i].Dim1 != r.Dim1 || long.Rows[i].Method != MethodUMAP {
				t.Fatalf("row %d differs from first input", i)
			}
		}
		for i, r := range b.Rows {
			if long.Rows[len(a.Rows)+i].ObsID != r.ObsID || long.Rows[len(a.Rows)+i].Method != MethodTSNE {
				t.Fatalf("row %d differs from second input", i)
			}
		}
	})
}

func TestMeltDoublesRows(t *testing.T) {
	clusterings := []string{ColumnLeiden, ColumnKMeans}
	rapid.Check(t, func(t *rapid.T) {
		a := embeddingTableGen(MethodUMAP, clusterings).Draw(t, "umap")
		b := embeddingTableGen(MethodTSNE, clusterings).Draw(t, "tsne")
		long, err := Concat(a, b)
		if err != nil {
			t.Fatalf("concat: %v", err)
		}

		melted := Melt(long)
		if len(melted.Rows) != 2*len(long.Rows) {
			t.Fatalf("got %d melted rows, want %d", len(melted.Rows), 2*len(long.Rows))
		}
		for i, r := range long.Rows {
			for j, name := range clusterings {
				m := melted.Rows[2*i+j]
				if m.ClusterType != name || m.Cluster != r.Clusters[j] || m.Dim1 != r.Dim1 || m.Method != r.Method {
					t.Fatalf("melted row %d does not carry long row %d/%s", 2*i+j, i, name)
				}
			}
		}
	})
}

func TestMeltedFilter(t *testing.T) {
	long, err := Concat(
		&EmbeddingTable{Method: MethodUMAP, Clusterings: []string{ColumnLeiden, ColumnKMeans},
			Rows: []EmbeddingRow{{ObsID: "a", Method: MethodUMAP, Clusters: []string{"0", "1"}}}},
		&EmbeddingTable{Method: MethodTSNE, Clusterings: []string{ColumnLeiden, ColumnKMeans},
			Rows: []EmbeddingRow{{ObsID: "a", Method: MethodTSNE, Clusters: []string{"0", "1"}}}},
	)
	require.NoError(t, err)
	melted := Melt(long)

	rows := melted.Filter(MethodTSNE, ColumnKMeans)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0].Cluster)
	assert.Len(t, melted.Filter("", ""), 4)
}

func TestPercentagesExample(t *testing.T) {
	got := Percentages([]string{"T-cell", "T-cell", "B-cell", "B-cell"})
	require.Len(t, got, 2)
	assert.Equal(t, PhenotypeShare{Phenotype: "T-cell", Count: 2, Percentage: 50}, got[0])
	assert.Equal(t, PhenotypeShare{Phenotype: "B-cell", Count: 2, Percentage: 50}, got[1])
}

func TestPercentagesSumTo100(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.SampledFrom([]string{"T-cell", "B-cell", "Tumor", "Macrophage", "Other"}), 1, 500).Draw(t, "phenotypes")
		shares := Percentages(values)
		sum := 0.0
		for _, s := range shares {
			sum += s.Percentage
		}
		if math.Abs(sum-100) > 1e-6 {
			t.Fatalf("percentages sum to %v", sum)
		}
	})
}

func TestPercentageSorting(t *testing.T) {
	shares := Percentages([]string{"B", "A", "A", "C", "C", "C"})

	desc := SortByPercentage(shares)
	assert.Equal(t, []string{"C", "A", "B"}, names(desc))

	ordered := SortByCategories(shares, []string{"A", "B"})
	assert.Equal(t, []string{"A", "B", "C"}, names(ordered))

	// Original order untouched.
	assert.Equal(t, []string{"B", "A", "C"}, names(shares))
}

func TestCategories(t *testing.T) {
	assert.Equal(t, []string{"0", "1", "10", "2"}, Categories([]string{"2", "10", "1", "0", "1"}))
}

func names(shares []PhenotypeShare) []string {
	out := make([]string, len(shares))
	for i, s := range shares {
		out[i] = s.Phenotype
	}
	return out
}
