package service

import (
	"bytes"
	"errors"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocell/server/internal/cache"
	"github.com/geocell/server/internal/config"
	"github.com/geocell/server/internal/data/zarr/zarrtest"
	"github.com/geocell/server/internal/dataset"
	"github.com/geocell/server/internal/metrics"
	"github.com/geocell/server/internal/render"
	"github.com/geocell/server/internal/selection"
	"github.com/geocell/server/internal/table"
)

func writeSample(t *testing.T) string {
	t.Helper()
	return zarrtest.WriteAnnData(t, filepath.Join(t.TempDir(), "data.zarr"), zarrtest.AnnData{
		Index: []string{"c0", "c1", "c2", "c3", "c4"},
		Numeric: map[string][]float64{
			table.ColumnX: {0, 10, 20, 30, 40},
			table.ColumnY: {5, 15, 25, 35, 45},
		},
		Categorical: map[string][]string{
			table.ColumnPhenotype: {"T", "B", "T", "Tumor", "T"},
			table.ColumnLeiden:    {"0", "1", "0", "1", "2"},
			table.ColumnKMeans:    {"a", "a", "b", "b", "a"},
		},
		Obsm: map[string][][]float64{
			"umap":   {{-1, 100}, {0, 200}, {1, 300}, {3, 500}, {2, 400}},
			"X_tsne": {{10, 1}, {20, 2}, {30, 3}, {40, 4}, {50, 5}},
		},
		ChunkSize:   2,
		Compression: zarrtest.Zstd,
	})
}

func newTestService(t *testing.T, m *metrics.Metrics) *DashboardService {
	t.Helper()

	ds := config.DefaultDatasetConfig()
	ds.ZarrPath = writeSample(t)
	src, err := SourceFor(ds)
	require.NoError(t, err)

	cacheMgr, err := cache.NewManager(cache.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { cacheMgr.Close() })

	cfg := render.DefaultConfig()
	cfg.Width, cfg.Height = 120, 80
	renderer, err := render.NewRenderer(cfg)
	require.NoError(t, err)

	svc := NewDashboardService(DashboardConfig{
		DatasetID: "demo",
		Title:     "Demo",
		Handle:    dataset.NewHandle(src),
		Cache:     cacheMgr,
		Renderer:  renderer,
		Metrics:   m,
	})
	require.NoError(t, svc.Load())
	return svc
}

func TestLoadAndSummary(t *testing.T) {
	m := metrics.New()
	svc := newTestService(t, m)

	sum := svc.Summary()
	assert.Equal(t, "demo", sum.ID)
	assert.Equal(t, "Demo", sum.Title)
	assert.Equal(t, 5, sum.Observations)
	assert.Equal(t, 2*2*5, sum.MeltedRows)
	assert.Equal(t, []string{"B", "T", "Tumor"}, sum.Categories.Phenotypes)
	assert.Equal(t, selection.Selection{Projection: table.MethodUMAP, Clustering: table.ColumnLeiden}, sum.Default)
	require.Len(t, sum.PhenotypeColors, 3)
	assert.Equal(t, "B", sum.PhenotypeColors[0].Label)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.Observations.WithLabelValues("demo")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DatasetLoad))
}

func TestLoadFailure(t *testing.T) {
	ds := config.DefaultDatasetConfig()
	ds.ZarrPath = filepath.Join(t.TempDir(), "missing.zarr")
	src, err := SourceFor(ds)
	require.NoError(t, err)

	svc := NewDashboardService(DashboardConfig{DatasetID: "broken", Handle: dataset.NewHandle(src)})
	err = svc.Load()
	require.Error(t, err)
	var acq *dataset.AcquisitionError
	assert.True(t, errors.As(err, &acq))
}

func TestPercentages(t *testing.T) {
	svc := newTestService(t, nil)

	alpha, err := svc.Percentages("")
	require.NoError(t, err)
	require.Len(t, alpha, 3)
	assert.Equal(t, "B", alpha[0].Phenotype)

	desc, err := svc.Percentages("desc")
	require.NoError(t, err)
	assert.Equal(t, "T", desc[0].Phenotype)
	assert.InDelta(t, 60.0, desc[0].Percentage, 1e-9)

	_, err = svc.Percentages("random")
	var bad *BadRequestError
	assert.True(t, errors.As(err, &bad))
}

func TestMelted(t *testing.T) {
	svc := newTestService(t, nil)

	all, err := svc.Melted("", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 20)

	rows, err := svc.Melted(table.MethodTSNE, table.ColumnKMeans, "a")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, table.MethodTSNE, r.Method)
		assert.Equal(t, table.ColumnKMeans, r.ClusterType)
		assert.Equal(t, "a", r.Cluster)
	}

	_, err = svc.Melted("PCA", "", "")
	var bad *BadRequestError
	require.True(t, errors.As(err, &bad))
	assert.Equal(t, "projection", bad.Param)
}

func TestMeltedClusterBelongsToClustering(t *testing.T) {
	svc := newTestService(t, nil)

	// "2" is a leiden label only.
	rows, err := svc.Melted(table.MethodUMAP, table.ColumnLeiden, "2")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = svc.Melted("", "", "2")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	for _, tc := range []struct{ clustering, cluster string }{
		{table.ColumnKMeans, "2"},
		{table.ColumnLeiden, "a"},
		{"", "z"},
	} {
		_, err := svc.Melted("", tc.clustering, tc.cluster)
		var bad *BadRequestError
		require.True(t, errors.As(err, &bad), "%+v: got %v", tc, err)
		assert.Equal(t, "cluster", bad.Param)
		assert.Equal(t, tc.cluster, bad.Value)
	}
}

func TestEmbedding(t *testing.T) {
	svc := newTestService(t, nil)

	rows, err := svc.Embedding()
	require.NoError(t, err)
	require.Len(t, rows, 10)
	assert.Equal(t, "c0", rows[0].ObsID)
	assert.Equal(t, "0", rows[0].Clusters[table.ColumnLeiden])
	assert.Equal(t, table.MethodTSNE, rows[5].Method)
}

func TestChart(t *testing.T) {
	svc := newTestService(t, nil)

	spec, err := svc.Chart("spatial", "/d/demo/api/tables")
	require.NoError(t, err)
	assert.Contains(t, spec, "$schema")

	_, err = svc.Chart("heatmap", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlot(t *testing.T) {
	m := metrics.New()
	svc := newTestService(t, m)

	for _, name := range []string{PlotSpatial, PlotEmbedding, PlotClusterSpatial} {
		t.Run(name, func(t *testing.T) {
			data, err := svc.Plot(name, selection.Selection{Phenotype: "T", Cluster: "1"})
			require.NoError(t, err)
			img, err := png.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, 120, img.Bounds().Dx())
		})
	}

	first, err := svc.Plot(PlotSpatial, selection.Selection{})
	require.NoError(t, err)
	second, err := svc.Plot(PlotSpatial, selection.Selection{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlotCache.WithLabelValues("hit")))

	_, err = svc.Plot(PlotSpatial, selection.Selection{Phenotype: "Neuron"})
	var invalid *selection.InvalidError
	assert.True(t, errors.As(err, &invalid))

	_, err = svc.Plot("violin", selection.Selection{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessions(t *testing.T) {
	m := metrics.New()
	svc := newTestService(t, m)

	id, sel := svc.NewSession()
	assert.Equal(t, table.MethodUMAP, sel.Projection)

	state, err := svc.UpdateSession(id, selection.Selection{Projection: table.MethodTSNE, Cluster: "2"})
	require.NoError(t, err)
	assert.Equal(t, table.MethodTSNE, state.Selection.Projection)
	assert.Equal(t, "2", state.Selection.Cluster)
	assert.Equal(t, uint64(1), state.Version)

	data, err := svc.SessionView(id, selection.ViewEmbedding)
	require.NoError(t, err)
	var res selection.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, selection.ViewEmbedding, res.View)
	assert.Equal(t, 1, res.Highlighted)

	_, err = svc.UpdateSession(id, selection.Selection{Phenotype: "Neuron"})
	var invalid *selection.InvalidError
	require.True(t, errors.As(err, &invalid))
	state, err = svc.Session(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.Version, "rejected selection must not change the session")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SelectionsTotal.WithLabelValues("demo", "rejected")))

	_, err = svc.Session("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.SessionView(id, "heatmap")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSession(t *testing.T) {
	m := metrics.New()
	svc := newTestService(t, m)

	_, err := svc.CreateSession(selection.Selection{Phenotype: "Neuron"})
	var invalid *selection.InvalidError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Equal(t, 0, svc.SessionCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SelectionsTotal.WithLabelValues("demo", "rejected")))

	state, err := svc.CreateSession(selection.Selection{Phenotype: "Tumor"})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.SessionCount())
	assert.Equal(t, "Tumor", state.Selection.Phenotype)
	assert.Equal(t, uint64(1), state.Version)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("demo")))
}

func TestSessionsShareViewResults(t *testing.T) {
	svc := newTestService(t, nil)

	sel := selection.Selection{Projection: table.MethodTSNE, Cluster: "2"}
	first, err := svc.CreateSession(sel)
	require.NoError(t, err)
	second, err := svc.CreateSession(sel)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := svc.CreateSession(sel)
		require.NoError(t, err)
	}

	// Default and patched selection, three views each.
	assert.Equal(t, 6, svc.results.Len())

	hub1, _ := svc.sessions.Get(first.ID)
	hub2, _ := svc.sessions.Get(second.ID)
	r1, ok := hub1.Result(selection.ViewEmbedding)
	require.True(t, ok)
	r2, ok := hub2.Result(selection.ViewEmbedding)
	require.True(t, ok)
	assert.Same(t, r1, r2)

	// Plots read the same cache.
	_, err = svc.Plot(PlotEmbedding, sel)
	require.NoError(t, err)
	assert.Equal(t, 6, svc.results.Len())
}

func TestPlotWithoutPointCap(t *testing.T) {
	svc := newTestService(t, nil)
	svc.maxPoints = config.NoPointCap

	data, err := svc.Plot(PlotSpatial, selection.Selection{})
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
}

func TestSourceFor(t *testing.T) {
	ds := config.DefaultDatasetConfig()
	ds.Source = config.SourceParquet
	ds.SpatialParquet = "s.parquet"
	ds.CombinedParquet = "c.parquet"
	ds.Columns.Phenotype = "cell_type"
	ds.DegenerateRange = "fail"

	src, err := SourceFor(ds)
	require.NoError(t, err)
	pq, ok := src.(*dataset.ParquetSource)
	require.True(t, ok)
	assert.Equal(t, "cell_type", pq.Options.Columns.Phenotype)
	assert.Equal(t, table.DegenerateFail, pq.Options.Policy)

	ds.DegenerateRange = "clamp"
	_, err = SourceFor(ds)
	assert.Error(t, err)
}
