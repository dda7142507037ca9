// Package zarrtest writes small Zarr v3 AnnData stores for tests.
package zarrtest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the bytes-to-bytes codec applied to written chunks.
type Compression string

const (
	None Compression = ""
	Zstd Compression = "zstd"
	Gzip Compression = "gzip"
)

// AnnData is the subset of an AnnData object the dashboard reads.
type AnnData struct {
	Index       []string
	Numeric     map[string][]float64
	Categorical map[string][]string
	Obsm        map[string][][]float64
	// ChunkSize is the row chunk length; 0 means one chunk per array.
	ChunkSize   int
	Compression Compression
}

// WriteAnnData writes ad as an AnnData Zarr v3 store under dir and returns dir.
func WriteAnnData(tb testing.TB, dir string, ad AnnData) string {
	tb.Helper()

	n := len(ad.Index)
	chunk := ad.ChunkSize
	if chunk <= 0 {
		chunk = max(n, 1)
	}

	WriteGroup(tb, dir, "", map[string]interface{}{
		"encoding-type":    "anndata",
		"encoding-version": "0.1.0",
	})

	columns := make([]string, 0, len(ad.Numeric)+len(ad.Categorical))
	for name := range ad.Numeric {
		columns = append(columns, name)
	}
	for name := range ad.Categorical {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	WriteGroup(tb, dir, "obs", map[string]interface{}{
		"encoding-type":    "dataframe",
		"encoding-version": "0.2.0",
		"_index":           "_index",
		"column-order":     columns,
	})
	WriteStrings(tb, dir, "obs/_index", ad.Index, chunk, ad.Compression)

	for name, values := range ad.Numeric {
		WriteFloat64(tb, dir, "obs/"+name, []int{len(values)}, []int{chunk}, values, ad.Compression)
	}
	for name, values := range ad.Categorical {
		WriteCategorical(tb, dir, "obs/"+name, values, chunk, ad.Compression)
	}

	WriteGroup(tb, dir, "obsm", map[string]interface{}{
		"encoding-type":    "dict",
		"encoding-version": "0.1.0",
	})
	for key, rows := range ad.Obsm {
		width := 0
		if len(rows) > 0 {
			width = len(rows[0])
		}
		flat := make([]float64, 0, len(rows)*width)
		for _, r := range rows {
			flat = append(flat, r...)
		}
		WriteFloat64(tb, dir, "obsm/"+key, []int{len(rows), width}, []int{chunk, width}, flat, ad.Compression)
	}
	return dir
}

// WriteCategorical writes values with the AnnData categorical encoding. The
// empty string is stored as the missing code -1.
func WriteCategorical(tb testing.TB, dir, node string, values []string, chunk int, comp Compression) {
	tb.Helper()

	seen := make(map[string]int)
	categories := make([]string, 0)
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = 0
			categories = append(categories, v)
		}
	}
	sort.Strings(categories)
	for i, c := range categories {
		seen[c] = i
	}

	codes := make([]float64, len(values))
	for i, v := range values {
		if v == "" {
			codes[i] = -1
			continue
		}
		codes[i] = float64(seen[v])
	}

	WriteGroup(tb, dir, node, map[string]interface{}{
		"encoding-type":    "categorical",
		"encoding-version": "0.2.0",
		"ordered":          false,
	})
	WriteStrings(tb, dir, node+"/categories", categories, max(len(categories), 1), comp)
	writeArray(tb, dir, node+"/codes", "int8", []int{len(codes)}, []int{chunk}, -1, comp, func(idx []int) []byte {
		return encodeChunk(codes, []int{len(codes)}, []int{chunk}, idx, 1, -1, func(b []byte, v float64) {
			b[0] = byte(int8(v))
		})
	})
}

// WriteGroup writes a group zarr.json with the given attributes.
func WriteGroup(tb testing.TB, dir, node string, attrs map[string]interface{}) {
	tb.Helper()
	writeJSON(tb, filepath.Join(dir, filepath.FromSlash(node), "zarr.json"), map[string]interface{}{
		"zarr_format": 3,
		"node_type":   "group",
		"attributes":  attrs,
	})
}

// WriteFloat64 writes a float64 array of the given shape in row-major order.
func WriteFloat64(tb testing.TB, dir, node string, shape, chunkShape []int, values []float64, comp Compression) {
	tb.Helper()
	writeArray(tb, dir, node, "float64", shape, chunkShape, 0.0, comp, func(idx []int) []byte {
		return encodeChunk(values, shape, chunkShape, idx, 8, 0, func(b []byte, v float64) {
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		})
	})
}

// WriteStrings writes a 1-D vlen-utf8 string array.
func WriteStrings(tb testing.TB, dir, node string, values []string, chunk int, comp Compression) {
	tb.Helper()
	writeArray(tb, dir, node, "string", []int{len(values)}, []int{chunk}, "", comp, func(idx []int) []byte {
		start := idx[0] * chunk
		var buf bytes.Buffer
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(chunk))
		buf.Write(n[:])
		for i := start; i < start+chunk; i++ {
			s := ""
			if i < len(values) {
				s = values[i]
			}
			binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
			buf.Write(n[:])
			buf.WriteString(s)
		}
		return buf.Bytes()
	})
}

func writeArray(tb testing.TB, dir, node, dataType string, shape, chunkShape []int, fill interface{}, comp Compression, chunk func(idx []int) []byte) {
	tb.Helper()

	codecs := []map[string]interface{}{}
	if dataType == "string" {
		codecs = append(codecs, map[string]interface{}{"name": "vlen-utf8", "configuration": map[string]interface{}{}})
	} else {
		codecs = append(codecs, map[string]interface{}{"name": "bytes", "configuration": map[string]interface{}{"endian": "little"}})
	}
	switch comp {
	case Zstd:
		codecs = append(codecs, map[string]interface{}{"name": "zstd", "configuration": map[string]interface{}{"level": 0, "checksum": false}})
	case Gzip:
		codecs = append(codecs, map[string]interface{}{"name": "gzip", "configuration": map[string]interface{}{"level": 5}})
	}

	nodeDir := filepath.Join(dir, filepath.FromSlash(node))
	writeJSON(tb, filepath.Join(nodeDir, "zarr.json"), map[string]interface{}{
		"zarr_format": 3,
		"node_type":   "array",
		"shape":       shape,
		"data_type":   dataType,
		"chunk_grid": map[string]interface{}{
			"name":          "regular",
			"configuration": map[string]interface{}{"chunk_shape": chunkShape},
		},
		"chunk_key_encoding": map[string]interface{}{
			"name":          "default",
			"configuration": map[string]interface{}{"separator": "/"},
		},
		"fill_value": fill,
		"codecs":     codecs,
		"attributes": map[string]interface{}{},
	})

	grid := make([]int, len(shape))
	for i := range shape {
		grid[i] = (shape[i] + chunkShape[i] - 1) / chunkShape[i]
	}
	forEachIndex(grid, func(idx []int) {
		data := compress(tb, chunk(idx), comp)
		parts := []string{nodeDir, "c"}
		for _, i := range idx {
			parts = append(parts, strconv.Itoa(i))
		}
		p := filepath.Join(parts...)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			tb.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			tb.Fatalf("write chunk %s: %v", p, err)
		}
	})
}

// encodeChunk serializes the chunk at idx padded to the full chunk shape.
func encodeChunk(values []float64, shape, chunkShape, idx []int, size int, fill float64, put func([]byte, float64)) []byte {
	rows, cols := shape[0], 1
	chunkRows, chunkCols := chunkShape[0], 1
	if len(shape) == 2 {
		cols, chunkCols = shape[1], chunkShape[1]
	}
	colChunk := 0
	if len(idx) == 2 {
		colChunk = idx[1]
	}

	out := make([]byte, chunkRows*chunkCols*size)
	for i := 0; i < chunkRows; i++ {
		for j := 0; j < chunkCols; j++ {
			r, c := idx[0]*chunkRows+i, colChunk*chunkCols+j
			v := fill
			if r < rows && c < cols {
				v = values[r*cols+c]
			}
			put(out[(i*chunkCols+j)*size:], v)
		}
	}
	return out
}

func forEachIndex(grid []int, fn func([]int)) {
	for _, g := range grid {
		if g == 0 {
			return
		}
	}
	idx := make([]int, len(grid))
	for {
		fn(append([]int(nil), idx...))
		k := len(grid) - 1
		for k >= 0 {
			idx[k]++
			if idx[k] < grid[k] {
				break
			}
			idx[k] = 0
			k--
		}
		if k < 0 {
			return
		}
	}
}

func compress(tb testing.TB, data []byte, comp Compression) []byte {
	tb.Helper()
	switch comp {
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			tb.Fatalf("zstd writer: %v", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil)
	case Gzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			tb.Fatalf("gzip write: %v", err)
		}
		if err := zw.Close(); err != nil {
			tb.Fatalf("gzip close: %v", err)
		}
		return buf.Bytes()
	default:
		return data
	}
}

func writeJSON(tb testing.TB, p string, v interface{}) {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		tb.Fatalf("marshal %s: %v", p, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		tb.Fatalf("write %s: %v", p, err)
	}
}
