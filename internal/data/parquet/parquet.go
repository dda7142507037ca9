// Package parquet reads and writes the two pre-exported dashboard tables:
// the spatial distribution table and the melted UMAP/t-SNE combined table.
package parquet

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/geocell/server/internal/table"
)

// Column names of the combined table.
const (
	ColumnDim1        = "Dim1"
	ColumnDim2        = "Dim2"
	ColumnType        = "type"
	ColumnClusterType = "cluster_type"
	ColumnCluster     = "cluster"
)

// idColumns are the names pandas gives a reset or preserved index, in lookup order.
var idColumns = []string{"CellID", "index", "__index_level_0__"}

// ReadSpatial reads the spatial distribution table at path. Files without an
// id column get ids derived from each cell's coordinates, so that the spatial
// and combined files of one dataset agree on them.
func ReadSpatial(ctx context.Context, path string, cols table.Columns) (*table.SpatialTable, error) {
	tbl, err := readTable(ctx, path)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()

	xs, err := floatColumn(tbl, path, cols.X)
	if err != nil {
		return nil, err
	}
	ys, err := floatColumn(tbl, path, cols.Y)
	if err != nil {
		return nil, err
	}
	phenotypes, err := stringColumn(tbl, path, cols.Phenotype)
	if err != nil {
		return nil, err
	}
	ids, err := idColumn(tbl, path, xs, ys)
	if err != nil {
		return nil, err
	}

	rows := make([]table.SpatialRow, tbl.NumRows())
	for i := range rows {
		rows[i] = table.SpatialRow{
			ObsID:     ids[i],
			X:         xs[i],
			Y:         ys[i],
			Phenotype: phenotypes[i],
		}
	}
	return &table.SpatialTable{Rows: rows}, nil
}

// ReadCombined reads the melted UMAP/t-SNE table at path. Ids are derived the
// same way as in ReadSpatial.
func ReadCombined(ctx context.Context, path string, cols table.Columns) (*table.MeltedTable, error) {
	tbl, err := readTable(ctx, path)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()

	floats := make(map[string][]float64)
	for _, name := range []string{ColumnDim1, ColumnDim2, cols.X, cols.Y} {
		if floats[name], err = floatColumn(tbl, path, name); err != nil {
			return nil, err
		}
	}
	strs := make(map[string][]string)
	for _, name := range []string{ColumnType, ColumnClusterType, ColumnCluster} {
		if strs[name], err = stringColumn(tbl, path, name); err != nil {
			return nil, err
		}
	}
	ids, err := idColumn(tbl, path, floats[cols.X], floats[cols.Y])
	if err != nil {
		return nil, err
	}

	rows := make([]table.MeltedRow, tbl.NumRows())
	for i := range rows {
		rows[i] = table.MeltedRow{
			ObsID:       ids[i],
			Dim1:        floats[ColumnDim1][i],
			Dim2:        floats[ColumnDim2][i],
			Method:      strs[ColumnType][i],
			X:           floats[cols.X][i],
			Y:           floats[cols.Y][i],
			ClusterType: strs[ColumnClusterType][i],
			Cluster:     strs[ColumnCluster][i],
		}
	}
	return &table.MeltedTable{Rows: rows}, nil
}

// WriteSpatial writes t to path as a snappy-compressed Parquet file.
func WriteSpatial(path string, t *table.SpatialTable, cols table.Columns) error {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: idColumns[0], Type: arrow.BinaryTypes.String},
		{Name: cols.X, Type: arrow.PrimitiveTypes.Float64},
		{Name: cols.Y, Type: arrow.PrimitiveTypes.Float64},
		{Name: cols.Phenotype, Type: arrow.BinaryTypes.String},
	}, nil)

	return writeRecord(path, schema, func(b *array.RecordBuilder) {
		for _, r := range t.Rows {
			b.Field(0).(*array.StringBuilder).Append(r.ObsID)
			b.Field(1).(*array.Float64Builder).Append(r.X)
			b.Field(2).(*array.Float64Builder).Append(r.Y)
			b.Field(3).(*array.StringBuilder).Append(r.Phenotype)
		}
	})
}

// WriteCombined writes the melted table to path.
func WriteCombined(path string, t *table.MeltedTable, cols table.Columns) error {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: idColumns[0], Type: arrow.BinaryTypes.String},
		{Name: ColumnDim1, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColumnDim2, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColumnType, Type: arrow.BinaryTypes.String},
		{Name: cols.X, Type: arrow.PrimitiveTypes.Float64},
		{Name: cols.Y, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColumnClusterType, Type: arrow.BinaryTypes.String},
		{Name: ColumnCluster, Type: arrow.BinaryTypes.String},
	}, nil)

	return writeRecord(path, schema, func(b *array.RecordBuilder) {
		for _, r := range t.Rows {
			b.Field(0).(*array.StringBuilder).Append(r.ObsID)
			b.Field(1).(*array.Float64Builder).Append(r.Dim1)
			b.Field(2).(*array.Float64Builder).Append(r.Dim2)
			b.Field(3).(*array.StringBuilder).Append(r.Method)
			b.Field(4).(*array.Float64Builder).Append(r.X)
			b.Field(5).(*array.Float64Builder).Append(r.Y)
			b.Field(6).(*array.StringBuilder).Append(r.ClusterType)
			b.Field(7).(*array.StringBuilder).Append(r.Cluster)
		}
	})
}

func readTable(ctx context.Context, path string) (arrow.Table, error) {
	fr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file %s: %w", path, err)
	}
	defer fr.Close()

	pool := memory.NewGoAllocator()
	arrowReader, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{}, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow reader for %s: %w", path, err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return tbl, nil
}

func writeRecord(path string, schema *arrow.Schema, fill func(b *array.RecordBuilder)) error {
	pool := memory.NewGoAllocator()
	b := array.NewRecordBuilder(pool, schema)
	defer b.Release()

	fill(b)
	rec := b.NewRecord()
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(pool))

	var buf bytes.Buffer
	fw, err := pqarrow.NewFileWriter(schema, &buf, props, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to finalize Parquet file: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func chunks(tbl arrow.Table, path, name string) ([]arrow.Array, error) {
	indices := tbl.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, &table.MissingColumnError{Column: name, Group: path}
	}
	return tbl.Column(indices[0]).Data().Chunks(), nil
}

func floatColumn(tbl arrow.Table, path, name string) ([]float64, error) {
	parts, err := chunks(tbl, path, name)
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, tbl.NumRows())
	for _, arr := range parts {
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				out = append(out, math.NaN())
				continue
			}
			switch a := arr.(type) {
			case *array.Float64:
				out = append(out, a.Value(i))
			case *array.Float32:
				out = append(out, float64(a.Value(i)))
			case *array.Int64:
				out = append(out, float64(a.Value(i)))
			case *array.Int32:
				out = append(out, float64(a.Value(i)))
			default:
				return nil, fmt.Errorf("column %q in %s has type %s, expected numeric", name, path, arr.DataType())
			}
		}
	}
	return out, nil
}

func stringColumn(tbl arrow.Table, path, name string) ([]string, error) {
	parts, err := chunks(tbl, path, name)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, tbl.NumRows())
	for _, arr := range parts {
		values, err := stringValues(arr)
		if err != nil {
			return nil, fmt.Errorf("column %q in %s: %w", name, path, err)
		}
		out = append(out, values...)
	}
	return out, nil
}

func stringValues(arr arrow.Array) ([]string, error) {
	out := make([]string, arr.Len())
	switch a := arr.(type) {
	case *array.String:
		for i := range out {
			if !a.IsNull(i) {
				out[i] = a.Value(i)
			}
		}
	case *array.LargeString:
		for i := range out {
			if !a.IsNull(i) {
				out[i] = a.Value(i)
			}
		}
	case *array.Dictionary:
		dict, err := stringValues(a.Dictionary())
		if err != nil {
			return nil, err
		}
		for i := range out {
			if !a.IsNull(i) {
				out[i] = dict[a.GetValueIndex(i)]
			}
		}
	case *array.Int64:
		for i := range out {
			if !a.IsNull(i) {
				out[i] = strconv.FormatInt(a.Value(i), 10)
			}
		}
	case *array.Int32:
		for i := range out {
			if !a.IsNull(i) {
				out[i] = strconv.FormatInt(int64(a.Value(i)), 10)
			}
		}
	default:
		return nil, fmt.Errorf("type %s is not a string or categorical column", arr.DataType())
	}
	return out, nil
}

// idColumn returns the first id column present, or else an id built from the
// spatial coordinates. Cells sharing a position share a coordinate id.
func idColumn(tbl arrow.Table, path string, xs, ys []float64) ([]string, error) {
	for _, name := range idColumns {
		if len(tbl.Schema().FieldIndices(name)) > 0 {
			return stringColumn(tbl, path, name)
		}
	}
	out := make([]string, tbl.NumRows())
	for i := range out {
		out[i] = coordinateID(xs[i], ys[i])
	}
	return out, nil
}

// coordinateID is the id given to a cell read from a file without an id column.
func coordinateID(x, y float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64) + "_" + strconv.FormatFloat(y, 'g', -1, 64)
}
