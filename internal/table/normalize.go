package table

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DegeneratePolicy decides what MinMax does with a constant column.
type DegeneratePolicy int

const (
	// DegenerateZero maps every value of a constant column to 0.
	DegenerateZero DegeneratePolicy = iota
	// DegenerateFail returns a *DegenerateRangeError.
	DegenerateFail
)

// ParseDegeneratePolicy accepts "zero" (or "") and "fail".
func ParseDegeneratePolicy(s string) (DegeneratePolicy, error) {
	switch s {
	case "", "zero":
		return DegenerateZero, nil
	case "fail":
		return DegenerateFail, nil
	default:
		return 0, fmt.Errorf("unknown degenerate range policy %q (expected zero or fail)", s)
	}
}

// MinMax rescales values into [0,1] using their own observed min and max.
// NaN entries are skipped when computing the range and stay NaN; an infinite
// entry is a *NonFiniteError. The column name is only used for error
// reporting.
func MinMax(column string, values []float64, policy DegeneratePolicy) ([]float64, error) {
	out := make([]float64, len(values))

	finite := make([]float64, 0, len(values))
	for i, v := range values {
		switch {
		case math.IsNaN(v):
		case math.IsInf(v, 0):
			return nil, &NonFiniteError{Column: column, Index: i, Value: v}
		default:
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		copy(out, values)
		return out, nil
	}

	lo, hi := floats.Min(finite), floats.Max(finite)
	span := hi - lo
	if span == 0 {
		if policy == DegenerateFail {
			return nil, &DegenerateRangeError{Column: column, Value: lo}
		}
		for i, v := range values {
			if math.IsNaN(v) {
				out[i] = v
			}
		}
		return out, nil
	}

	// hi-lo overflows for columns spanning most of the float64 range.
	scale := func(v float64) float64 { return (v - lo) / span }
	if math.IsInf(span, 0) {
		half := hi/2 - lo/2
		scale = func(v float64) float64 { return (v/2 - lo/2) / half }
	}
	for i, v := range values {
		switch v {
		case lo:
			out[i] = 0
		case hi:
			out[i] = 1
		default:
			out[i] = scale(v)
		}
	}
	return out, nil
}

// Normalize returns a copy of t with Dim1 and Dim2 each min-max scaled within
// this table only.
func Normalize(t *EmbeddingTable, policy DegeneratePolicy) (*EmbeddingTable, error) {
	dim1 := make([]float64, len(t.Rows))
	dim2 := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		dim1[i] = r.Dim1
		dim2[i] = r.Dim2
	}

	scaled1, err := MinMax(t.Method+".Dim1", dim1, policy)
	if err != nil {
		return nil, err
	}
	scaled2, err := MinMax(t.Method+".Dim2", dim2, policy)
	if err != nil {
		return nil, err
	}

	rows := make([]EmbeddingRow, len(t.Rows))
	for i, r := range t.Rows {
		r.Dim1 = scaled1[i]
		r.Dim2 = scaled2[i]
		r.Clusters = append([]string(nil), r.Clusters...)
		rows[i] = r
	}
	return &EmbeddingTable{
		Method:      t.Method,
		Clusterings: append([]string(nil), t.Clusterings...),
		Rows:        rows,
	}, nil
}
