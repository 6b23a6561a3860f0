// Package data implements the CSV/TSV MatrixSource and ResultSink
// boundaries a Driver reads from and writes to, grounded on
// internal/artifacts/writer.go's atomic-write-via-temp-file-and-rename
// pattern.
package data

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fednorm/fednorm/internal/errs"
)

// CSVMatrixSource loads a participant's count matrix from a delimited text
// file, rows = genes and columns = samples throughout (spec section 6). Two
// input shapes are supported, selected by Indexed:
//
//   - Indexed: the first row holds sample ids and the first column holds
//     gene ids, embedded in the matrix file itself.
//   - headerless (Indexed == false): every cell is a data value; axis
//     labels, if wanted, come from the separate SampleNamesPath/
//     GeneNamesPath one-name-per-line files.
type CSVMatrixSource struct {
	Path      string
	Separator rune
	Indexed   bool

	SampleNamesPath string
	GeneNamesPath   string
}

// Load implements protocol.InputSource.
func (s CSVMatrixSource) Load() ([][]float64, []string, []string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, nil, nil, errs.InputError(fmt.Errorf("open input file: %w", err))
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows are reported as ShapeError below
	if s.Separator != 0 {
		r.Comma = s.Separator
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, nil, errs.InputError(fmt.Errorf("parse input file: %w", err))
	}
	if len(records) == 0 {
		return nil, nil, nil, errs.InputError(fmt.Errorf("input file has no rows"))
	}

	if s.Indexed {
		return s.loadIndexed(records)
	}
	return s.loadHeaderless(records)
}

func (s CSVMatrixSource) loadIndexed(records [][]string) ([][]float64, []string, []string, error) {
	if len(records) < 2 || len(records[0]) < 2 {
		return nil, nil, nil, errs.InputError(fmt.Errorf("indexed input file has no data rows or columns"))
	}
	sampleNames := records[0][1:]
	geneNames := make([]string, 0, len(records)-1)
	x := make([][]float64, 0, len(records)-1)

	for _, rec := range records[1:] {
		if len(rec) != len(sampleNames)+1 {
			return nil, nil, nil, errs.ShapeError(fmt.Errorf("row %q has %d columns, want %d", rec[0], len(rec)-1, len(sampleNames)))
		}
		geneNames = append(geneNames, rec[0])
		row, err := parseRow(rec[1:], rec[0], sampleNames)
		if err != nil {
			return nil, nil, nil, err
		}
		x = append(x, row)
	}
	return x, sampleNames, geneNames, nil
}

func (s CSVMatrixSource) loadHeaderless(records [][]string) ([][]float64, []string, []string, error) {
	m := len(records[0])
	x := make([][]float64, 0, len(records))
	for i, rec := range records {
		if len(rec) != m {
			return nil, nil, nil, errs.ShapeError(fmt.Errorf("row %d has %d columns, want %d", i, len(rec), m))
		}
		row, err := parseRow(rec, fmt.Sprintf("row %d", i), nil)
		if err != nil {
			return nil, nil, nil, err
		}
		x = append(x, row)
	}

	var sampleNames, geneNames []string
	var err error
	if s.SampleNamesPath != "" {
		if sampleNames, err = readNames(s.SampleNamesPath); err != nil {
			return nil, nil, nil, err
		}
	}
	if s.GeneNamesPath != "" {
		if geneNames, err = readNames(s.GeneNamesPath); err != nil {
			return nil, nil, nil, err
		}
	}
	return x, sampleNames, geneNames, nil
}

func parseRow(cells []string, rowLabel string, colLabels []string) ([]float64, error) {
	row := make([]float64, len(cells))
	for j, cell := range cells {
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			col := fmt.Sprintf("%d", j)
			if j < len(colLabels) {
				col = colLabels[j]
			}
			return nil, errs.InputError(fmt.Errorf("parse value %q at %s col %q: %w", cell, rowLabel, col, err))
		}
		row[j] = v
	}
	return row, nil
}

// readNames reads one label per line from path, skipping blank lines.
func readNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.InputError(fmt.Errorf("open names file %q: %w", path, err))
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errs.InputError(fmt.Errorf("read names file %q: %w", path, err))
	}
	return names, nil
}

// CSVResultSink writes a participant's normalized matrix (and, for
// upper-quartile runs, its norm factors) to delimited text files via a
// temp-file-then-rename so a crash mid-write never leaves a truncated
// result file in place.
type CSVResultSink struct {
	ResultPath      string
	NormFactorsPath string
	Separator       rune
}

// WriteResult implements protocol.ResultSink. The header row and index
// column are only emitted when sampleNames/geneNames were actually
// supplied (spec section 6: "header/index emitted only if label files
// were provided or the matrix was indexed").
func (s CSVResultSink) WriteResult(x [][]float64, sampleNames, geneNames []string) error {
	labeled := len(sampleNames) > 0 || len(geneNames) > 0
	records := make([][]string, 0, len(x)+1)
	if labeled {
		records = append(records, append([]string{""}, sampleNames...))
	}
	for i, row := range x {
		rec := make([]string, 0, len(row)+1)
		if labeled {
			if i < len(geneNames) {
				rec = append(rec, geneNames[i])
			} else {
				rec = append(rec, "")
			}
		}
		for _, v := range row {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		records = append(records, rec)
	}
	return writeCSVAtomic(s.ResultPath, s.Separator, records)
}

// WriteNormFactors implements protocol.ResultSink.
func (s CSVResultSink) WriteNormFactors(normFactors []float64, sampleNames []string) error {
	if s.NormFactorsPath == "" {
		return nil
	}
	header := []string{"sample", "norm_factor"}
	records := [][]string{header}
	for j, v := range normFactors {
		name := fmt.Sprintf("sample_%d", j)
		if j < len(sampleNames) {
			name = sampleNames[j]
		}
		records = append(records, []string{name, strconv.FormatFloat(v, 'g', -1, 64)})
	}
	return writeCSVAtomic(s.NormFactorsPath, s.Separator, records)
}

func writeCSVAtomic(path string, sep rune, records [][]string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	w := csv.NewWriter(f)
	if sep != 0 {
		w.Comma = sep
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush csv writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp to final: %w", err)
	}
	return nil
}
