// Package zarr provides a reader for Zarr v3 stores.
package zarr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrNotFound is returned when a group or array does not exist in the store.
var ErrNotFound = errors.New("zarr node not found")

// Reader provides read access to the arrays and groups of a Zarr v3 store.
type Reader struct {
	basePath string
	mu       sync.RWMutex
	decoder  *zstd.Decoder

	// Parsed zarr.json per node path
	arrays map[string]*ArrayMeta
}

// GroupMeta represents Zarr v3 group metadata (zarr.json).
type GroupMeta struct {
	ZarrFormat int                    `json:"zarr_format"`
	NodeType   string                 `json:"node_type"`
	Attributes map[string]interface{} `json:"attributes"`
}

// Codec is one entry of an array's codec pipeline.
type Codec struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration"`
}

// ArrayMeta represents Zarr v3 array metadata (zarr.json).
type ArrayMeta struct {
	Shape     []int  `json:"shape"`
	DataType  string `json:"data_type"`
	ChunkGrid struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	FillValue  interface{}            `json:"fill_value"`
	Codecs     []Codec                `json:"codecs"`
	Attributes map[string]interface{} `json:"attributes"`
	ZarrFormat int                    `json:"zarr_format"`
	NodeType   string                 `json:"node_type"`
}

// NewReader opens the store rooted at basePath. The root must be a Zarr v3 group.
func NewReader(basePath string) (*Reader, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	r := &Reader{
		basePath: basePath,
		decoder:  decoder,
		arrays:   make(map[string]*ArrayMeta),
	}

	root, err := r.Group("")
	if err != nil {
		decoder.Close()
		return nil, fmt.Errorf("failed to open store %s: %w", basePath, err)
	}
	if root.ZarrFormat != 3 {
		decoder.Close()
		return nil, fmt.Errorf("unsupported zarr_format %d (expected 3)", root.ZarrFormat)
	}

	return r, nil
}

// Path returns the store root.
func (r *Reader) Path() string {
	return r.basePath
}

// Close releases resources.
func (r *Reader) Close() {
	if r.decoder != nil {
		r.decoder.Close()
	}
}

func (r *Reader) nodeFile(node string) string {
	return filepath.Join(r.basePath, filepath.FromSlash(node), "zarr.json")
}

// NodeType returns "group" or "array" for an existing node.
func (r *Reader) NodeType(node string) (string, error) {
	data, err := os.ReadFile(r.nodeFile(node))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", node, ErrNotFound)
		}
		return "", err
	}
	var head struct {
		NodeType string `json:"node_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("failed to parse %s/zarr.json: %w", node, err)
	}
	return head.NodeType, nil
}

// Group loads the metadata of the group at node ("" is the root).
func (r *Reader) Group(node string) (*GroupMeta, error) {
	data, err := os.ReadFile(r.nodeFile(node))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("group %q: %w", node, ErrNotFound)
		}
		return nil, err
	}

	var meta GroupMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s/zarr.json: %w", node, err)
	}
	if meta.NodeType != "group" {
		return nil, fmt.Errorf("node %q is a %s, not a group", node, meta.NodeType)
	}
	return &meta, nil
}

// Array loads (and caches) the metadata of the array at node.
func (r *Reader) Array(node string) (*ArrayMeta, error) {
	r.mu.RLock()
	meta, ok := r.arrays[node]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}

	data, err := os.ReadFile(r.nodeFile(node))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("array %q: %w", node, ErrNotFound)
		}
		return nil, err
	}

	meta = &ArrayMeta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s/zarr.json: %w", node, err)
	}
	if meta.NodeType != "array" {
		return nil, fmt.Errorf("node %q is a %s, not an array", node, meta.NodeType)
	}
	if len(meta.Shape) != len(meta.ChunkGrid.Configuration.ChunkShape) {
		return nil, fmt.Errorf("invalid zarr metadata for %q: shape dims (%d) != chunk dims (%d)",
			node, len(meta.Shape), len(meta.ChunkGrid.Configuration.ChunkShape))
	}

	r.mu.Lock()
	r.arrays[node] = meta
	r.mu.Unlock()
	return meta, nil
}

// ReadFloat64 reads a 1-D or 2-D numeric array in row-major order.
func (r *Reader) ReadFloat64(node string) ([]float64, []int, error) {
	meta, err := r.Array(node)
	if err != nil {
		return nil, nil, err
	}
	size, err := dtypeSize(meta.DataType)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", node, err)
	}
	order, err := byteOrder(meta)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", node, err)
	}
	fill, err := numericFill(meta)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", node, err)
	}

	values, err := assemble(meta, func(indices []int) ([]float64, error) {
		raw, err := r.readChunkAt(node, meta, indices)
		if errors.Is(err, os.ErrNotExist) {
			return repeatFill(fill, product(meta.ChunkGrid.Configuration.ChunkShape)), nil
		}
		if err != nil {
			return nil, err
		}
		return decodeNumeric(raw, meta.DataType, size, order)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", node, err)
	}
	return values, append([]int(nil), meta.Shape...), nil
}

// ReadStrings reads a 1-D variable-length UTF-8 string array.
func (r *Reader) ReadStrings(node string) ([]string, error) {
	meta, err := r.Array(node)
	if err != nil {
		return nil, err
	}
	if meta.DataType != "string" {
		return nil, fmt.Errorf("%s: data_type %s is not a string array", node, meta.DataType)
	}
	if len(meta.Shape) != 1 {
		return nil, fmt.Errorf("%s: unexpected string array shape %v", node, meta.Shape)
	}
	fill, _ := meta.FillValue.(string)

	values, err := assemble(meta, func(indices []int) ([]string, error) {
		raw, err := r.readChunkAt(node, meta, indices)
		if errors.Is(err, os.ErrNotExist) {
			return repeatFill(fill, product(meta.ChunkGrid.Configuration.ChunkShape)), nil
		}
		if err != nil {
			return nil, err
		}
		return decodeVLenUTF8(raw)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", node, err)
	}
	return values, nil
}

func (r *Reader) encodeChunkKey(meta *ArrayMeta, chunkIndices []int) string {
	parts := make([]string, len(chunkIndices))
	for i, idx := range chunkIndices {
		parts[i] = strconv.Itoa(idx)
	}

	sep := meta.ChunkKeyEncoding.Configuration.Separator
	if meta.ChunkKeyEncoding.Name == "v2" {
		if sep == "" {
			sep = "."
		}
		if len(parts) == 0 {
			return "0"
		}
		return strings.Join(parts, sep)
	}
	if sep == "" {
		sep = "/"
	}
	return strings.Join(append([]string{"c"}, parts...), sep)
}

// readChunkAt reads and decodes the raw bytes of one chunk. A chunk absent on
// disk is reported as os.ErrNotExist; it represents an all-fill-value chunk.
func (r *Reader) readChunkAt(node string, meta *ArrayMeta, chunkIndices []int) ([]byte, error) {
	key := r.encodeChunkKey(meta, chunkIndices)
	chunkPath := filepath.Join(r.basePath, filepath.FromSlash(node), filepath.FromSlash(key))

	data, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, err
	}
	return r.decodeBytes(meta, data)
}

// decodeBytes undoes the bytes-to-bytes codecs in reverse pipeline order.
func (r *Reader) decodeBytes(meta *ArrayMeta, data []byte) ([]byte, error) {
	for i := len(meta.Codecs) - 1; i >= 0; i-- {
		c := meta.Codecs[i]
		switch c.Name {
		case "bytes", "vlen-utf8":
			// array-to-bytes codec; handled by the element decoder
		case "zstd":
			out, err := r.decoder.DecodeAll(data, nil)
			if err != nil {
				return nil, fmt.Errorf("zstd decompress failed: %w", err)
			}
			data = out
		case "gzip":
			zr, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("gzip decompress failed: %w", err)
			}
			out, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("gzip decompress failed: %w", err)
			}
			data = out
		case "crc32c":
			if len(data) < 4 {
				return nil, fmt.Errorf("crc32c: chunk too short")
			}
			payload, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
			if crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli)) != sum {
				return nil, fmt.Errorf("crc32c: checksum mismatch")
			}
			data = payload
		case "transpose":
			if !identityTranspose(c, len(meta.Shape)) {
				return nil, fmt.Errorf("unsupported transpose order %v", c.Configuration["order"])
			}
		default:
			return nil, fmt.Errorf("unsupported codec %q", c.Name)
		}
	}
	return data, nil
}

func identityTranspose(c Codec, ndim int) bool {
	order, ok := c.Configuration["order"].([]interface{})
	if !ok || len(order) != ndim {
		return false
	}
	for i, v := range order {
		f, ok := v.(float64)
		if !ok || int(f) != i {
			return false
		}
	}
	return true
}

// assemble stitches the chunks of a 1-D or 2-D array into a row-major slice.
// Edge chunks may be stored either padded to the full chunk shape or truncated.
func assemble[T any](meta *ArrayMeta, chunk func(indices []int) ([]T, error)) ([]T, error) {
	var rows, cols, chunkRows, chunkCols int
	switch len(meta.Shape) {
	case 1:
		rows, cols = meta.Shape[0], 1
		chunkRows, chunkCols = meta.ChunkGrid.Configuration.ChunkShape[0], 1
	case 2:
		rows, cols = meta.Shape[0], meta.Shape[1]
		chunkRows, chunkCols = meta.ChunkGrid.Configuration.ChunkShape[0], meta.ChunkGrid.Configuration.ChunkShape[1]
	default:
		return nil, fmt.Errorf("unsupported array rank %d", len(meta.Shape))
	}
	if chunkRows <= 0 || chunkCols <= 0 {
		return nil, fmt.Errorf("invalid chunk shape %v", meta.ChunkGrid.Configuration.ChunkShape)
	}

	out := make([]T, rows*cols)
	for rc := 0; rc < ceilDiv(rows, chunkRows); rc++ {
		rowStart := rc * chunkRows
		rowLen := min(chunkRows, rows-rowStart)

		for cc := 0; cc < ceilDiv(cols, chunkCols); cc++ {
			colStart := cc * chunkCols
			colLen := min(chunkCols, cols-colStart)

			indices := []int{rc}
			if len(meta.Shape) == 2 {
				indices = append(indices, cc)
			}
			values, err := chunk(indices)
			if err != nil {
				return nil, fmt.Errorf("chunk %v: %w", indices, err)
			}

			stride := chunkCols
			if len(values) == rowLen*colLen && len(values) != chunkRows*chunkCols {
				stride = colLen
			}
			if len(values) < (rowLen-1)*stride+colLen {
				return nil, fmt.Errorf("chunk %v too short: got %d elements", indices, len(values))
			}

			for i := 0; i < rowLen; i++ {
				for j := 0; j < colLen; j++ {
					out[(rowStart+i)*cols+colStart+j] = values[i*stride+j]
				}
			}
		}
	}
	return out, nil
}

func dtypeSize(dataType string) (int, error) {
	switch dataType {
	case "bool", "int8", "uint8":
		return 1, nil
	case "int16", "uint16":
		return 2, nil
	case "float32", "int32", "uint32":
		return 4, nil
	case "float64", "int64", "uint64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dataType)
	}
}

func byteOrder(meta *ArrayMeta) (binary.ByteOrder, error) {
	for _, c := range meta.Codecs {
		if c.Name != "bytes" {
			continue
		}
		endian, _ := c.Configuration["endian"].(string)
		switch endian {
		case "", "little":
			return binary.LittleEndian, nil
		case "big":
			return binary.BigEndian, nil
		default:
			return nil, fmt.Errorf("unsupported endian %q", endian)
		}
	}
	return nil, fmt.Errorf("no bytes codec in pipeline")
}

func decodeNumeric(raw []byte, dataType string, size int, order binary.ByteOrder) ([]float64, error) {
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("chunk length %d is not a multiple of %d", len(raw), size)
	}
	n := len(raw) / size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := raw[i*size : (i+1)*size]
		switch dataType {
		case "bool", "uint8":
			out[i] = float64(b[0])
		case "int8":
			out[i] = float64(int8(b[0]))
		case "int16":
			out[i] = float64(int16(order.Uint16(b)))
		case "uint16":
			out[i] = float64(order.Uint16(b))
		case "int32":
			out[i] = float64(int32(order.Uint32(b)))
		case "uint32":
			out[i] = float64(order.Uint32(b))
		case "float32":
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case "int64":
			out[i] = float64(int64(order.Uint64(b)))
		case "uint64":
			out[i] = float64(order.Uint64(b))
		case "float64":
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return out, nil
}

// decodeVLenUTF8 decodes the vlen-utf8 layout: a uint32 item count followed by
// (uint32 length, bytes) per item, all little endian.
func decodeVLenUTF8(raw []byte) ([]string, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("vlen-utf8 chunk too short")
	}
	n := int(binary.LittleEndian.Uint32(raw))
	out := make([]string, 0, n)
	off := 4
	for i := 0; i < n; i++ {
		if off+4 > len(raw) {
			return nil, fmt.Errorf("vlen-utf8 item %d: truncated length", i)
		}
		l := int(binary.LittleEndian.Uint32(raw[off:]))
		off += 4
		if off+l > len(raw) {
			return nil, fmt.Errorf("vlen-utf8 item %d: truncated data", i)
		}
		out = append(out, string(raw[off:off+l]))
		off += l
	}
	return out, nil
}

func numericFill(meta *ArrayMeta) (float64, error) {
	switch t := meta.FillValue.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		switch t {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("unsupported fill_value %v for %s", meta.FillValue, meta.DataType)
}

func repeatFill[T any](fill T, n int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = fill
	}
	return out
}

func product(ints []int) int {
	p := 1
	for _, v := range ints {
		p *= v
	}
	return p
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
