package files

import (
	"bufio"
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"csv-file-drop/internal/common"
)

// MaxPreviewRows is how many data rows Read returns.
const MaxPreviewRows = 3

const utf8BOM = "\ufeff"

var (
	errBadHeaders = common.WithDetail(common.ErrBadRequest, "Bad param headers")
	errBadSortBy  = common.WithDetail(common.ErrBadRequest, "Bad param sort_by")
)

// missingMarkers are the cell texts treated as missing values.
var missingMarkers = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

func isMissing(s string) bool {
	_, ok := missingMarkers[s]
	return ok
}

// Table is a parsed CSV file: a header and rows of equal width.
type Table struct {
	Columns []string
	Rows    [][]string
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr
}

// ParseTable reads a whole CSV document. Duplicate column names get .1, .2
// suffixes and blank ones become "Unnamed: i". Short rows are padded with
// missing cells; a row wider than the header is rejected.
func ParseTable(r io.Reader) (*Table, error) {
	cr := newReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, common.WithDetail(common.ErrBadRequest, "No columns to parse from file")
	}
	if err != nil {
		return nil, malformed(err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	t := &Table{Columns: uniqueColumns(header)}
	width := len(t.Columns)

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(err)
		}
		if len(rec) > width {
			line, _ := cr.FieldPos(0)
			return nil, common.WithDetail(common.ErrBadRequest,
				fmt.Sprintf("Error tokenizing data. Expected %d fields in line %d, saw %d", width, line, len(rec)))
		}
		for len(rec) < width {
			rec = append(rec, "")
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", common.WithDetail(common.ErrBadRequest, "Malformed CSV"), err)
}

func uniqueColumns(header []string) []string {
	cols := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, name := range header {
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if _, dup := seen[name]; dup {
			base := name
			for {
				seen[base]++
				name = base + "." + strconv.Itoa(seen[base])
				if _, taken := seen[name]; !taken {
					break
				}
			}
		}
		seen[name] = 0
		cols[i] = name
	}
	return cols
}

// ReadHeader splits the first line of r as one CSV record. Nothing past the
// first newline is read, so a quote left open on that line ends with it. An
// empty input or an empty first line yields an empty slice.
func ReadHeader(r io.Reader) ([]string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	line = strings.TrimPrefix(line, utf8BOM)
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return []string{}, nil
	}

	rec, err := newReader(strings.NewReader(line)).Read()
	if errors.Is(err, io.EOF) {
		return []string{}, nil
	}
	if err != nil {
		return nil, malformed(err)
	}
	return rec, nil
}

func (t *Table) index(name string) int {
	return slices.Index(t.Columns, name)
}

// Project keeps only the named columns, in the given order.
func (t *Table) Project(names []string) error {
	idx := make([]int, len(names))
	for i, name := range names {
		if idx[i] = t.index(name); idx[i] < 0 {
			return errBadHeaders
		}
	}

	rows := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		out := make([]string, len(idx))
		for i, j := range idx {
			out[i] = row[j]
		}
		rows[r] = out
	}
	t.Columns = slices.Clone(names)
	t.Rows = rows
	return nil
}

type sortKey struct {
	col     int
	numeric bool
	values  []float64
}

// SortBy orders rows ascending by the named columns, first column first.
// A column whose present cells all parse as numbers compares numerically;
// otherwise it compares as text. Missing cells go last. Equal rows keep
// their order.
func (t *Table) SortBy(names []string) error {
	keys := make([]sortKey, len(names))
	for i, name := range names {
		col := t.index(name)
		if col < 0 {
			return errBadSortBy
		}
		keys[i] = t.keyFor(col)
	}

	order := make([]int, len(t.Rows))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		for _, k := range keys {
			if c := k.compare(t.Rows, a, b); c != 0 {
				return c
			}
		}
		return 0
	})

	rows := make([][]string, len(order))
	for i, j := range order {
		rows[i] = t.Rows[j]
	}
	t.Rows = rows
	return nil
}

func (t *Table) keyFor(col int) sortKey {
	k := sortKey{col: col, numeric: true, values: make([]float64, len(t.Rows))}
	for i, row := range t.Rows {
		cell := row[col]
		if isMissing(cell) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			k.numeric = false
			k.values = nil
			return k
		}
		k.values[i] = v
	}
	return k
}

func (k sortKey) compare(rows [][]string, a, b int) int {
	am, bm := isMissing(rows[a][k.col]), isMissing(rows[b][k.col])
	switch {
	case am && bm:
		return 0
	case am:
		return 1
	case bm:
		return -1
	}
	if k.numeric {
		return cmp.Compare(k.values[a], k.values[b])
	}
	return strings.Compare(rows[a][k.col], rows[b][k.col])
}

// Head drops all but the first n rows.
func (t *Table) Head(n int) {
	if len(t.Rows) > n {
		t.Rows = t.Rows[:n]
	}
}

// Encode writes the header and rows as CSV with \n line endings. Missing
// cells are written empty. Only cells holding a comma, quote or line break
// are quoted, so leading and trailing spaces come back as they were read.
func (t *Table) Encode() (string, error) {
	var b strings.Builder
	writeRecord(&b, t.Columns)
	out := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, cell := range row {
			if isMissing(cell) {
				cell = ""
			}
			out[i] = cell
		}
		writeRecord(&b, out)
	}
	return b.String(), nil
}

func writeRecord(b *strings.Builder, rec []string) {
	// a lone empty field would read back as a blank line
	if len(rec) == 1 && rec[0] == "" {
		b.WriteString("\"\"\n")
		return
	}
	for i, field := range rec {
		if i > 0 {
			b.WriteByte(',')
		}
		if !strings.ContainsAny(field, ",\"\r\n") {
			b.WriteString(field)
			continue
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(field, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}
