package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/go-catalog-sweep/models"
	"github.com/aluiziolira/go-catalog-sweep/parser"
)

// MasterFileName is the run-wide output file.
const MasterFileName = "ALL_SUBTREES_PRODUCTS.csv"

// Options configures a WriterSet.
type Options struct {
	// Format is "csv" or "dual"; dual mirrors the master tier to JSONL.
	Format            string
	DedupCategory     bool
	DedupSubtree      bool
	DedupMaster       bool
	DedupeMaxSize     int
	MaxFilenameLength int
}

// tier is one output level. Its seen-set lives exactly as long as one open
// file, which is what makes the dedup scope per category, subtree or run.
type tier struct {
	name   string
	scope  DedupScope
	seen   *SeenSet
	writer OutputWriter
	path   string
	rows   int64
	total  int64
}

func newTier(name string, scope DedupScope, size int) (*tier, error) {
	t := &tier{name: name, scope: scope}
	if scope != ScopeNone {
		seen, err := NewSeenSet(name, size)
		if err != nil {
			return nil, err
		}
		t.seen = seen
	}
	return t, nil
}

func (t *tier) isOpen() bool {
	return t.writer != nil
}

func (t *tier) open(w OutputWriter, path string) {
	t.writer = w
	t.path = path
	t.rows = 0
	if t.seen != nil {
		t.seen.Reset()
	}
}

func (t *tier) write(rows []*models.OutputRow) error {
	if t.writer == nil || len(rows) == 0 {
		return nil
	}
	keep := rows
	if t.seen != nil {
		keep = make([]*models.OutputRow, 0, len(rows))
		for _, row := range rows {
			if t.seen.FirstSeen(row.ItemID) {
				keep = append(keep, row)
			}
		}
	}
	if len(keep) == 0 {
		return nil
	}
	if err := t.writer.Write(keep); err != nil {
		return fmt.Errorf("%s tier %s: %w", t.name, t.path, err)
	}
	t.rows += int64(len(keep))
	t.total += int64(len(keep))
	return nil
}

func (t *tier) close() (int64, error) {
	if t.writer == nil {
		return 0, nil
	}
	w, rows, path := t.writer, t.rows, t.path
	t.writer = nil
	if err := w.Close(); err != nil {
		return rows, fmt.Errorf("close %s tier %s: %w", t.name, path, err)
	}
	if err := w.Validate(); err != nil {
		return rows, fmt.Errorf("validate %s tier %s: %w", t.name, path, err)
	}
	return rows, nil
}

// WriterSet owns the three output tiers of a run: one file per category, one
// aggregate per subtree and one master file.
type WriterSet struct {
	dir  string
	opts Options

	mu       sync.Mutex
	category *tier
	subtree  *tier
	master   *tier
	closed   bool
}

// NewWriterSet creates dir and opens the master tier.
func NewWriterSet(dir string, opts Options) (*WriterSet, error) {
	if opts.DedupeMaxSize <= 0 {
		opts.DedupeMaxSize = 1 << 20
	}
	if opts.Format == "" {
		opts.Format = "csv"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	category, err := newTier("category", scopeIf(opts.DedupCategory, ScopeCategory), opts.DedupeMaxSize)
	if err != nil {
		return nil, err
	}
	subtree, err := newTier("subtree", scopeIf(opts.DedupSubtree, ScopeSubtree), opts.DedupeMaxSize)
	if err != nil {
		return nil, err
	}
	master, err := newTier("master", scopeIf(opts.DedupMaster, ScopeRun), opts.DedupeMaxSize)
	if err != nil {
		return nil, err
	}

	ws := &WriterSet{
		dir:      dir,
		opts:     opts,
		category: category,
		subtree:  subtree,
		master:   master,
	}

	masterPath := filepath.Join(dir, MasterFileName)
	w, err := createWriter(opts.Format, masterPath)
	if err != nil {
		return nil, err
	}
	ws.master.open(w, masterPath)
	return ws, nil
}

func scopeIf(enabled bool, scope DedupScope) DedupScope {
	if enabled {
		return scope
	}
	return ScopeNone
}

func createWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "csv":
		return NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// SubtreeSlug is the filename prefix shared by a subtree's files.
func SubtreeSlug(st *models.Subtree, max int) string {
	return parser.SanitizeName(st.RootName, max) + "_" + parser.SanitizeName(st.RootID, max)
}

// SubtreeFileName is the aggregate file name for st.
func SubtreeFileName(st *models.Subtree, max int) string {
	return SubtreeSlug(st, max) + "__ALL.csv"
}

// CategoryFileName is the per-category file name for row within st.
func CategoryFileName(st *models.Subtree, row models.CategoryRow, max int) string {
	return SubtreeSlug(st, max) + "__" + parser.SanitizeName(row.Name, max) + "_" + parser.SanitizeName(row.ID, max) + ".csv"
}

// OpenSubtree starts the aggregate file for st, closing any previous one.
func (ws *WriterSet) OpenSubtree(st *models.Subtree) (string, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return "", ErrWriterClosed
	}
	if _, err := ws.category.close(); err != nil {
		return "", err
	}
	if _, err := ws.subtree.close(); err != nil {
		return "", err
	}

	path := filepath.Join(ws.dir, SubtreeFileName(st, ws.opts.MaxFilenameLength))
	w, err := NewCSVWriter(path)
	if err != nil {
		return "", err
	}
	ws.subtree.open(w, path)
	return path, nil
}

// OpenCategory starts the file for one category of st.
func (ws *WriterSet) OpenCategory(st *models.Subtree, row models.CategoryRow) (string, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return "", ErrWriterClosed
	}
	if _, err := ws.category.close(); err != nil {
		return "", err
	}

	path := filepath.Join(ws.dir, SubtreeSlug(st, ws.opts.MaxFilenameLength),
		CategoryFileName(st, row, ws.opts.MaxFilenameLength))
	w, err := NewCSVWriter(path)
	if err != nil {
		return "", err
	}
	ws.category.open(w, path)
	return path, nil
}

// Write fans rows out to every open tier. Each tier applies its own dedup.
func (ws *WriterSet) Write(rows []*models.OutputRow) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return ErrWriterClosed
	}
	for _, t := range []*tier{ws.category, ws.subtree, ws.master} {
		if err := t.write(rows); err != nil {
			return err
		}
	}
	return nil
}

// CloseCategory closes the category file and returns the rows it received.
func (ws *WriterSet) CloseCategory() (int64, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.category.close()
}

// CloseSubtree closes the subtree aggregate and returns the rows it received.
func (ws *WriterSet) CloseSubtree() (int64, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, err := ws.category.close(); err != nil {
		return 0, err
	}
	return ws.subtree.close()
}

// Close closes every tier still open, innermost first. Safe to call more
// than once.
func (ws *WriterSet) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return nil
	}
	ws.closed = true

	var errs []error
	for _, t := range []*tier{ws.category, ws.subtree, ws.master} {
		if _, err := t.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		slog.Error("closing writers", slog.Any("error", errors.Join(errs...)))
	}
	return errors.Join(errs...)
}

// Totals returns rows written per tier over the whole run.
func (ws *WriterSet) Totals() models.TierRows {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return models.TierRows{
		Category: ws.category.total,
		Subtree:  ws.subtree.total,
		Master:   ws.master.total,
	}
}

// MasterPath returns the master CSV path.
func (ws *WriterSet) MasterPath() string {
	return filepath.Join(ws.dir, MasterFileName)
}
