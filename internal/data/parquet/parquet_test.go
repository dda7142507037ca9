package parquet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocell/server/internal/table"
)

func TestSpatialFileRoundTrip(t *testing.T) {
	cols := table.DefaultColumns()
	path := filepath.Join(t.TempDir(), "cell_spatial_distribution.parquet")
	in := &table.SpatialTable{Rows: []table.SpatialRow{
		{ObsID: "c1", X: 1.5, Y: 2.5, Phenotype: "T cell"},
		{ObsID: "c2", X: 3, Y: 4, Phenotype: "Tumor"},
	}}

	require.NoError(t, WriteSpatial(path, in, cols))

	out, err := ReadSpatial(context.Background(), path, cols)
	require.NoError(t, err)
	assert.Equal(t, in.Rows, out.Rows)
}

func TestCombinedFileRoundTrip(t *testing.T) {
	cols := table.DefaultColumns()
	path := filepath.Join(t.TempDir(), "umap_tsne_combined_data.parquet")
	in := &table.MeltedTable{Rows: []table.MeltedRow{
		{ObsID: "c1", Dim1: 0, Dim2: 1, Method: "UMAP", X: 10, Y: 20, ClusterType: "leiden", Cluster: "3"},
		{ObsID: "c1", Dim1: 0, Dim2: 1, Method: "UMAP", X: 10, Y: 20, ClusterType: "kmeans", Cluster: "1"},
	}}

	require.NoError(t, WriteCombined(path, in, cols))

	out, err := ReadCombined(context.Background(), path, cols)
	require.NoError(t, err)
	assert.Equal(t, in.Rows, out.Rows)
}

func TestFilesWithoutIDAgreeOnCellIDs(t *testing.T) {
	cols := table.DefaultColumns()
	dir := t.TempDir()

	spatialPath := filepath.Join(dir, "spatial.parquet")
	spatialSchema := arrow.NewSchema([]arrow.Field{
		{Name: cols.X, Type: arrow.PrimitiveTypes.Float64},
		{Name: cols.Y, Type: arrow.PrimitiveTypes.Float64},
		{Name: cols.Phenotype, Type: arrow.BinaryTypes.String},
	}, nil)
	require.NoError(t, writeRecord(spatialPath, spatialSchema, func(b *array.RecordBuilder) {
		b.Field(0).(*array.Float64Builder).AppendValues([]float64{1.5, 3, 7}, nil)
		b.Field(1).(*array.Float64Builder).AppendValues([]float64{2.5, 4, 0.25}, nil)
		b.Field(2).(*array.StringBuilder).AppendValues([]string{"T", "B", "Tumor"}, nil)
	}))

	// Melted rows are ordered by method and clustering, not by cell.
	combinedPath := filepath.Join(dir, "combined.parquet")
	combinedSchema := arrow.NewSchema([]arrow.Field{
		{Name: ColumnDim1, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColumnDim2, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColumnType, Type: arrow.BinaryTypes.String},
		{Name: cols.X, Type: arrow.PrimitiveTypes.Float64},
		{Name: cols.Y, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColumnClusterType, Type: arrow.BinaryTypes.String},
		{Name: ColumnCluster, Type: arrow.BinaryTypes.String},
	}, nil)
	require.NoError(t, writeRecord(combinedPath, combinedSchema, func(b *array.RecordBuilder) {
		b.Field(0).(*array.Float64Builder).AppendValues([]float64{0, 1, 0.5}, nil)
		b.Field(1).(*array.Float64Builder).AppendValues([]float64{0, 1, 0.5}, nil)
		b.Field(2).(*array.StringBuilder).AppendValues([]string{"UMAP", "UMAP", "TSNE"}, nil)
		b.Field(3).(*array.Float64Builder).AppendValues([]float64{7, 1.5, 3}, nil)
		b.Field(4).(*array.Float64Builder).AppendValues([]float64{0.25, 2.5, 4}, nil)
		b.Field(5).(*array.StringBuilder).AppendValues([]string{"leiden", "leiden", "kmeans"}, nil)
		b.Field(6).(*array.StringBuilder).AppendValues([]string{"0", "1", "a"}, nil)
	}))

	spatial, err := ReadSpatial(context.Background(), spatialPath, cols)
	require.NoError(t, err)
	melted, err := ReadCombined(context.Background(), combinedPath, cols)
	require.NoError(t, err)

	assert.Equal(t, []string{"1.5_2.5", "3_4", "7_0.25"}, []string{
		spatial.Rows[0].ObsID, spatial.Rows[1].ObsID, spatial.Rows[2].ObsID,
	})
	assert.Equal(t, spatial.Rows[2].ObsID, melted.Rows[0].ObsID)
	assert.Equal(t, spatial.Rows[0].ObsID, melted.Rows[1].ObsID)
	assert.Equal(t, spatial.Rows[1].ObsID, melted.Rows[2].ObsID)
}

func TestReadSpatialMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spatial.parquet")
	require.NoError(t, WriteSpatial(path, &table.SpatialTable{}, table.DefaultColumns()))

	cols := table.DefaultColumns()
	cols.Phenotype = "cell_type"
	_, err := ReadSpatial(context.Background(), path, cols)

	var missing *table.MissingColumnError
	require.True(t, errors.As(err, &missing), "expected MissingColumnError, got %v", err)
	assert.Equal(t, "cell_type", missing.Column)
}

func TestReadMissingFile(t *testing.T) {
	_, err := ReadSpatial(context.Background(), filepath.Join(t.TempDir(), "nope.parquet"), table.DefaultColumns())
	assert.Error(t, err)
}

func TestStringValuesDictionary(t *testing.T) {
	pool := memory.NewGoAllocator()

	db := array.NewStringBuilder(pool)
	defer db.Release()
	db.AppendValues([]string{"B cell", "T cell"}, nil)
	dict := db.NewStringArray()
	defer dict.Release()

	ib := array.NewInt8Builder(pool)
	defer ib.Release()
	ib.AppendValues([]int8{1, 0, 1, 0}, []bool{true, true, true, false})
	indices := ib.NewInt8Array()
	defer indices.Release()

	typ := &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int8, ValueType: arrow.BinaryTypes.String}
	arr := array.NewDictionaryArray(typ, indices, dict)
	defer arr.Release()

	got, err := stringValues(arr)
	require.NoError(t, err)
	assert.Equal(t, []string{"T cell", "B cell", "T cell", ""}, got)
}

func TestStringValuesRejectsFloats(t *testing.T) {
	fb := array.NewFloat64Builder(memory.NewGoAllocator())
	defer fb.Release()
	fb.Append(1)
	arr := fb.NewFloat64Array()
	defer arr.Release()

	_, err := stringValues(arr)
	assert.Error(t, err)
}
