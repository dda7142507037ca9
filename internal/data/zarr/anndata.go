package zarr

import (
	"fmt"
	"math"
	"path"
)

// AnnData element encodings stored in the "encoding-type" attribute.
const (
	EncodingDataframe       = "dataframe"
	EncodingCategorical     = "categorical"
	EncodingStringArray     = "string-array"
	EncodingNullableInteger = "nullable-integer"
	EncodingNullableBoolean = "nullable-boolean"
)

// ObsIndex returns the observation names of the obs dataframe.
func (r *Reader) ObsIndex() ([]string, error) {
	attrs, err := r.dataframeAttrs("obs")
	if err != nil {
		return nil, err
	}
	indexKey, _ := attrs["_index"].(string)
	if indexKey == "" {
		indexKey = "_index"
	}
	return r.ReadStrings(path.Join("obs", indexKey))
}

// ObsColumns returns the obs column names in their stored order.
func (r *Reader) ObsColumns() ([]string, error) {
	attrs, err := r.dataframeAttrs("obs")
	if err != nil {
		return nil, err
	}
	raw, _ := attrs["column-order"].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// ObsNumeric reads a numeric obs column. Nullable integer columns yield NaN
// where the mask is set.
func (r *Reader) ObsNumeric(column string) ([]float64, error) {
	node := path.Join("obs", column)
	kind, err := r.NodeType(node)
	if err != nil {
		return nil, err
	}

	if kind == "array" {
		values, shape, err := r.ReadFloat64(node)
		if err != nil {
			return nil, err
		}
		if len(shape) != 1 {
			return nil, fmt.Errorf("obs column %q has shape %v, expected 1-D", column, shape)
		}
		return values, nil
	}

	g, err := r.Group(node)
	if err != nil {
		return nil, err
	}
	switch enc := encodingType(g.Attributes); enc {
	case EncodingNullableInteger, EncodingNullableBoolean:
		values, _, err := r.ReadFloat64(path.Join(node, "values"))
		if err != nil {
			return nil, err
		}
		mask, _, err := r.ReadFloat64(path.Join(node, "mask"))
		if err != nil {
			return nil, err
		}
		if len(mask) != len(values) {
			return nil, fmt.Errorf("obs column %q: mask length %d != values length %d", column, len(mask), len(values))
		}
		for i, m := range mask {
			if m != 0 {
				values[i] = math.NaN()
			}
		}
		return values, nil
	default:
		return nil, fmt.Errorf("obs column %q has encoding %q, expected numeric", column, enc)
	}
}

// ObsCategorical reads a categorical or string obs column as labels. Missing
// categorical codes (-1) become the empty string. Numeric arrays are formatted
// so integer cluster ids can serve as labels.
func (r *Reader) ObsCategorical(column string) ([]string, error) {
	node := path.Join("obs", column)
	kind, err := r.NodeType(node)
	if err != nil {
		return nil, err
	}

	if kind == "array" {
		meta, err := r.Array(node)
		if err != nil {
			return nil, err
		}
		if meta.DataType == "string" {
			return r.ReadStrings(node)
		}
		values, _, err := r.ReadFloat64(node)
		if err != nil {
			return nil, err
		}
		return formatLabels(values), nil
	}

	g, err := r.Group(node)
	if err != nil {
		return nil, err
	}
	if enc := encodingType(g.Attributes); enc != EncodingCategorical {
		return nil, fmt.Errorf("obs column %q has encoding %q, expected categorical", column, enc)
	}

	categories, err := r.categoryLabels(path.Join(node, "categories"))
	if err != nil {
		return nil, err
	}
	codes, _, err := r.ReadFloat64(path.Join(node, "codes"))
	if err != nil {
		return nil, err
	}

	out := make([]string, len(codes))
	for i, c := range codes {
		code := int(c)
		switch {
		case code < 0:
			out[i] = ""
		case code >= len(categories):
			return nil, fmt.Errorf("obs column %q: code %d out of range (%d categories)", column, code, len(categories))
		default:
			out[i] = categories[code]
		}
	}
	return out, nil
}

// Obsm reads the first two columns of the obsm matrix stored under key.
func (r *Reader) Obsm(key string) ([][2]float64, error) {
	values, shape, err := r.ReadFloat64(path.Join("obsm", key))
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 || shape[1] < 2 {
		return nil, fmt.Errorf("obsm %q has shape %v, expected (n, >=2)", key, shape)
	}

	n, width := shape[0], shape[1]
	out := make([][2]float64, n)
	for i := 0; i < n; i++ {
		out[i] = [2]float64{values[i*width], values[i*width+1]}
	}
	return out, nil
}

func (r *Reader) dataframeAttrs(node string) (map[string]interface{}, error) {
	g, err := r.Group(node)
	if err != nil {
		return nil, err
	}
	if enc := encodingType(g.Attributes); enc != "" && enc != EncodingDataframe {
		return nil, fmt.Errorf("%s has encoding %q, expected %s", node, enc, EncodingDataframe)
	}
	return g.Attributes, nil
}

func (r *Reader) categoryLabels(node string) ([]string, error) {
	meta, err := r.Array(node)
	if err != nil {
		return nil, err
	}
	if meta.DataType == "string" {
		return r.ReadStrings(node)
	}
	values, _, err := r.ReadFloat64(node)
	if err != nil {
		return nil, err
	}
	return formatLabels(values), nil
}

func encodingType(attrs map[string]interface{}) string {
	s, _ := attrs["encoding-type"].(string)
	return s
}

func formatLabels(values []float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		switch {
		case math.IsNaN(v):
			out[i] = ""
		case v == math.Trunc(v):
			out[i] = fmt.Sprintf("%d", int64(v))
		default:
			out[i] = fmt.Sprintf("%g", v)
		}
	}
	return out
}
