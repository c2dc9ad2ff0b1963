package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-catalog-sweep/models"
)

// ErrEmptySubtree is returned when a subtree file yields no usable rows.
// Callers skip such files instead of aborting.
var ErrEmptySubtree = errors.New("parser: subtree has no usable rows")

var requiredColumns = []string{"id", "name", "path"}

// LoadSubtree reads one subtree description file.
func LoadSubtree(path string) (*models.Subtree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open subtree file: %w", err)
	}
	defer f.Close()

	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	st, err := ParseSubtree(f, name, base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", base, err)
	}
	return st, nil
}

// ParseSubtree parses CSV with an id,name,path header. Quoted fields, doubled
// quotes and CRLF line endings are accepted. Rows with an empty id or name are
// dropped.
func ParseSubtree(r io.Reader, name, source string) (*models.Subtree, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", ErrEmptySubtree)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var rows []models.CategoryRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		row := models.CategoryRow{
			ID:   field(record, index["id"]),
			Name: field(record, index["name"]),
			Path: field(record, index["path"]),
		}
		if row.ID == "" || row.Name == "" {
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrEmptySubtree
	}

	root := ResolveRoot(rows)
	return models.NewSubtree(name, source, root.ID, root.Name, rows), nil
}

// ResolveRoot picks the shallowest row, breaking ties by shorter path and
// then file order. rows must be non-empty.
func ResolveRoot(rows []models.CategoryRow) models.CategoryRow {
	best := rows[0]
	bestDepth := best.Depth()
	for _, row := range rows[1:] {
		depth := row.Depth()
		if depth < bestDepth || (depth == bestDepth && len(row.Path) < len(best.Path)) {
			best = row
			bestDepth = depth
		}
	}
	return best
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimPrefix(col, "\ufeff")
		col = strings.ToLower(strings.TrimSpace(col))
		if _, dup := index[col]; !dup {
			index[col] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: header missing %q column", ErrEmptySubtree, col)
		}
	}
	return index, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
