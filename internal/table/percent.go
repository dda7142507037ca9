package table

import (
	"sort"
)

// PhenotypeShare is one bar of the phenotype percentage chart.
type PhenotypeShare struct {
	Phenotype  string  `json:"phenotype"`
	Count      int     `json:"count"`
	Percentage float64 `json:"Percentage"`
}

// Percentages counts every distinct value and expresses it as a percentage of
// all rows. Rows come back in first-seen order.
func Percentages(values []string) []PhenotypeShare {
	if len(values) == 0 {
		return nil
	}

	counts := make(map[string]int)
	order := make([]string, 0)
	for _, v := range values {
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}

	total := float64(len(values))
	out := make([]PhenotypeShare, len(order))
	for i, v := range order {
		out[i] = PhenotypeShare{
			Phenotype:  v,
			Count:      counts[v],
			Percentage: float64(counts[v]) / total * 100,
		}
	}
	return out
}

// SortByPercentage returns shares ordered by descending percentage, ties by
// phenotype name.
func SortByPercentage(shares []PhenotypeShare) []PhenotypeShare {
	out := append([]PhenotypeShare(nil), shares...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Percentage != out[j].Percentage {
			return out[i].Percentage > out[j].Percentage
		}
		return out[i].Phenotype < out[j].Phenotype
	})
	return out
}

// SortByCategories returns shares in the given category order. Phenotypes not
// listed keep their relative order after the listed ones.
func SortByCategories(shares []PhenotypeShare, order []string) []PhenotypeShare {
	rank := make(map[string]int, len(order))
	for i, c := range order {
		rank[c] = i
	}
	out := append([]PhenotypeShare(nil), shares...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Phenotype]
		rj, jok := rank[out[j].Phenotype]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
	return out
}

// Categories returns the distinct values in sorted order.
func Categories(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
