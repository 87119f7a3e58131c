package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// ReadTSV reads labeled examples from a tab-separated file with rows of the
// form `label<TAB>textA[<TAB>textB]`. Lines with fewer than two fields are
// rejected.
func ReadTSV(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read tsv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read tsv %s: %w", path, err)
	}
	examples := make([]Example, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("read tsv %s: row %d has %d fields, want at least 2", path, i+1, len(row))
		}
		label, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("read tsv %s: row %d label %q: %w", path, i+1, row[0], err)
		}
		ex := Example{Label: label, TextA: row[1]}
		if len(row) > 2 {
			ex.TextB = row[2]
		}
		examples = append(examples, ex)
	}
	return examples, nil
}

// SplitRatio partitions examples into two slices with the first receiving
// ratio of each class, preserving per-class balance. Used to split a training
// file into support and query pools.
func SplitRatio(examples []Example, ratio float64) (first, second []Example, err error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, nil, fmt.Errorf("split ratio must be in (0,1), got %f", ratio)
	}
	counts := make(map[int]int)
	for _, ex := range examples {
		counts[ex.Label]++
	}
	taken := make(map[int]int)
	for _, ex := range examples {
		limit := int(float64(counts[ex.Label]) * ratio)
		if taken[ex.Label] < limit {
			first = append(first, ex)
			taken[ex.Label]++
		} else {
			second = append(second, ex)
		}
	}
	return first, second, nil
}
