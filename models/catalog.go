// Package models defines data structures for the catalog sweep.
package models

import "strings"

// CategoryRow is one node of a flattened taxonomy export.
type CategoryRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Depth counts the non-empty segments of Path.
func (r CategoryRow) Depth() int {
	depth := 0
	for _, segment := range strings.Split(r.Path, "/") {
		if strings.TrimSpace(segment) != "" {
			depth++
		}
	}
	return depth
}

// Subtree is the set of category rows loaded from one input file.
type Subtree struct {
	Name       string
	SourceFile string
	RootID     string
	RootName   string
	Rows       []CategoryRow

	// parents holds the paths of rows that prefix another row's path.
	parents map[string]struct{}
}

// NewSubtree builds a Subtree and precomputes which rows are parents.
func NewSubtree(name, sourceFile, rootID, rootName string, rows []CategoryRow) *Subtree {
	st := &Subtree{
		Name:       name,
		SourceFile: sourceFile,
		RootID:     rootID,
		RootName:   rootName,
		Rows:       rows,
		parents:    make(map[string]struct{}),
	}
	for _, row := range rows {
		path := row.Path
		for i := 0; i < len(path); i++ {
			if path[i] == '/' && i > 0 {
				st.parents[path[:i]] = struct{}{}
			}
		}
	}
	return st
}

// IsParent reports whether some row's path starts with row.Path + "/".
// Any deeper descendant counts, not only direct children.
func (s *Subtree) IsParent(row CategoryRow) bool {
	if row.Path == "" {
		return false
	}
	_, ok := s.parents[row.Path]
	return ok
}

// Eligible returns the rows to fetch, dropping parents when skipParents is set.
func (s *Subtree) Eligible(skipParents bool) (rows []CategoryRow, skipped int) {
	rows = make([]CategoryRow, 0, len(s.Rows))
	for _, row := range s.Rows {
		if skipParents && s.IsParent(row) {
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped
}
