// Package runner drives a sweep over every subtree file and category, and
// owns the run's accounting from start to the run log.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-catalog-sweep/config"
	"github.com/aluiziolira/go-catalog-sweep/models"
	"github.com/aluiziolira/go-catalog-sweep/parser"
	"github.com/aluiziolira/go-catalog-sweep/pipeline"
	"github.com/aluiziolira/go-catalog-sweep/scraper"
	"github.com/aluiziolira/go-catalog-sweep/signer"
)

// Cancellation causes. Cancel the context passed to Run with one of these to
// select the exit reason.
var (
	ErrInterrupted = errors.New("runner: interrupt signal received")
	ErrTerminated  = errors.New("runner: termination signal received")
)

// Fetcher drains one category's paginated listing.
type Fetcher interface {
	Pages(ctx context.Context, categoryID string) iter.Seq2[scraper.Page, error]
}

// requestStats is implemented by fetchers that count HTTP attempts.
type requestStats interface {
	TotalRequests() int64
	TotalRetries() int64
}

// Controller runs one sweep. It is single use.
type Controller struct {
	cfg       *config.Config
	fetcher   Fetcher
	metrics   *scraper.Metrics
	preflight func() error

	// swapped in tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	out   io.Writer

	state   *models.RunState
	writers *pipeline.WriterSet
	fetched map[string]struct{}

	finalizeOnce sync.Once
	exitCode     int
	logPath      string
}

// New builds a controller. metrics may be nil.
func New(cfg *config.Config, fetcher Fetcher, metrics *scraper.Metrics) *Controller {
	return &Controller{
		cfg:     cfg,
		fetcher: fetcher,
		metrics: metrics,
		sleep:   scraper.SleepContext,
		now:     time.Now,
		out:     os.Stdout,
		fetched: make(map[string]struct{}),
	}
}

// WithPreflight registers a check run before any input is read. A failing
// check ends the run as fatal.
func (c *Controller) WithPreflight(check func() error) *Controller {
	c.preflight = check
	return c
}

// Run sweeps every subtree file in the input directory and returns the
// process exit code. Whatever stops the sweep (completion, cancellation of
// ctx, an unrecoverable error or a panic) the open writers are closed and the
// run log is written exactly once.
func (c *Controller) Run(ctx context.Context) (code int) {
	c.begin()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("sweep panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			code = c.finalize(models.ExitFatal, fmt.Errorf("panic: %v", r))
		}
	}()

	err := c.sweep(ctx)
	return c.finalize(exitReason(ctx, err), err)
}

// State returns the run record. Only meaningful after Run returns.
func (c *Controller) State() *models.RunState {
	return c.state
}

// LogPath returns the path of the written run log, or "" if none was written.
func (c *Controller) LogPath() string {
	return c.logPath
}

func (c *Controller) begin() {
	c.state = &models.RunState{
		RunID:     uuid.NewString(),
		StartTime: c.now().UTC(),
		Settings:  settingsSnapshot(c.cfg),
		Failures:  []models.FailureRecord{},
	}
}

func exitReason(ctx context.Context, err error) models.ExitReason {
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return models.ExitFatal
	}
	if ctx.Err() != nil {
		if errors.Is(context.Cause(ctx), ErrTerminated) {
			return models.ExitTerminated
		}
		return models.ExitInterrupted
	}
	return models.ExitCompleted
}

func (c *Controller) sweep(ctx context.Context) error {
	if c.preflight != nil {
		if err := c.preflight(); err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
	}

	files, err := listSubtreeFiles(c.cfg.InputDir)
	if err != nil {
		return err
	}
	c.state.SubtreeFiles = len(files)

	writers, err := pipeline.NewWriterSet(c.cfg.OutputDir, pipeline.Options{
		Format:            c.cfg.OutputFormat,
		DedupCategory:     c.cfg.DedupCategory,
		DedupSubtree:      c.cfg.DedupSubtree,
		DedupMaster:       c.cfg.DedupMaster,
		DedupeMaxSize:     c.cfg.DedupeMaxSize,
		MaxFilenameLength: c.cfg.MaxFilenameLength,
	})
	if err != nil {
		return err
	}
	c.writers = writers

	slog.Info("sweep started",
		slog.String("run_id", c.state.RunID),
		slog.String("input_dir", c.cfg.InputDir),
		slog.String("output_dir", c.cfg.OutputDir),
		slog.Int("subtree_files", len(files)),
	)

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.sweepSubtree(ctx, path, i+1, len(files)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) sweepSubtree(ctx context.Context, path string, index, total int) error {
	st, err := parser.LoadSubtree(path)
	if errors.Is(err, parser.ErrEmptySubtree) {
		c.state.SubtreeFilesSkipped++
		slog.Warn("skipping subtree file", slog.String("file", path), slog.Any("error", err))
		return nil
	}
	if err != nil {
		return err
	}

	rows, parents := st.Eligible(c.cfg.SkipParents)
	c.state.CategoryRowsSkippedParent += parents

	aggregate, err := c.writers.OpenSubtree(st)
	if err != nil {
		return err
	}
	slog.Info("subtree loaded",
		slog.String("subtree", st.Name),
		slog.String("progress", fmt.Sprintf("%d/%d", index, total)),
		slog.String("root_id", st.RootID),
		slog.String("root_name", st.RootName),
		slog.Int("rows", len(st.Rows)),
		slog.Int("eligible", len(rows)),
		slog.Int("parents_skipped", parents),
		slog.String("aggregate", aggregate),
	)

	for i, row := range rows {
		if _, seen := c.fetched[row.ID]; seen {
			c.state.CategoryRowsSkippedDuplicate++
			slog.Info("category already fetched this run",
				slog.String("subtree", st.Name),
				slog.String("category_id", row.ID),
			)
			continue
		}
		if err := c.sleep(ctx, c.cfg.CategoryDelay); err != nil {
			return err
		}
		c.fetched[row.ID] = struct{}{}
		if err := c.sweepCategory(ctx, st, row, i+1, len(rows)); err != nil {
			return err
		}
	}

	written, err := c.writers.CloseSubtree()
	if err != nil {
		return err
	}
	slog.Info("subtree complete",
		slog.String("subtree", st.Name),
		slog.Int64("rows", written),
	)
	return nil
}

func (c *Controller) sweepCategory(ctx context.Context, st *models.Subtree, row models.CategoryRow, index, total int) error {
	if _, err := c.writers.OpenCategory(st, row); err != nil {
		return err
	}

	pages := 0
	var fetchErr error
	for page, err := range c.fetcher.Pages(ctx, row.ID) {
		if err != nil {
			fetchErr = err
			break
		}
		pages++
		c.state.PagesFetched++
		c.state.ItemsFetched += int64(len(page.Items))
		c.state.ItemsDropped += int64(page.Dropped)

		out := make([]*models.OutputRow, 0, len(page.Items))
		for _, item := range page.Items {
			out = append(out, models.NewOutputRow(item, row, st))
		}
		if err := c.writers.Write(out); err != nil {
			return err
		}
	}

	written, err := c.writers.CloseCategory()
	if err != nil {
		return err
	}

	if fetchErr != nil {
		// Cancelled mid-fetch: the category never reached an outcome.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(fetchErr, signer.ErrSigning) {
			return fetchErr
		}
		c.recordFailure(st, row, fetchErr)
		return nil
	}

	c.state.CategoryRowsAttempted++
	c.state.CategoryRowsSucceeded++
	c.metrics.IncCategory("succeeded")
	slog.Info("category complete",
		slog.String("subtree", st.Name),
		slog.String("progress", fmt.Sprintf("%d/%d", index, total)),
		slog.String("category_id", row.ID),
		slog.String("category", row.Name),
		slog.Int("pages", pages),
		slog.Int64("rows", written),
	)
	return nil
}

func (c *Controller) recordFailure(st *models.Subtree, row models.CategoryRow, err error) {
	record := models.FailureRecord{
		SubtreeFile:  st.SourceFile,
		SubtreeID:    st.RootID,
		SubtreeName:  st.RootName,
		CategoryID:   row.ID,
		CategoryName: row.Name,
		CategoryPath: row.Path,
		Error:        err.Error(),
		Timestamp:    c.now().UTC(),
	}
	var reqErr *scraper.RequestError
	if errors.As(err, &reqErr) {
		record.Status = reqErr.StatusCode
		record.URL = reqErr.URL
		record.Body = reqErr.Body
	}

	c.state.Failures = append(c.state.Failures, record)
	c.state.CategoryRowsAttempted++
	c.state.CategoryRowsFailed++
	c.metrics.IncCategory("failed")
	slog.Warn("category failed",
		slog.String("subtree", st.Name),
		slog.String("category_id", row.ID),
		slog.String("category", row.Name),
		slog.Int("status", record.Status),
		slog.String("error_type", scraper.ErrorTypeLabel(err)),
		slog.Any("error", err),
	)
}

// finalize closes the writers, stamps the run record and writes the run log.
// Only the first call has any effect; every call returns the same exit code.
func (c *Controller) finalize(reason models.ExitReason, cause error) int {
	c.finalizeOnce.Do(func() {
		// Holds if this body panics; a later call returns it unchanged.
		c.exitCode = models.ExitFatal.ExitCode()

		s := c.state
		if c.writers != nil {
			if err := c.writers.Close(); err != nil {
				slog.Error("closing output files", slog.Any("error", err))
			}
			s.RowsWritten = c.writers.Totals()
		}
		if stats, ok := c.fetcher.(requestStats); ok {
			s.RequestsIssued = stats.TotalRequests()
			s.Retries = stats.TotalRetries()
		}

		end := c.now().UTC()
		elapsed := end.Sub(s.StartTime)
		s.EndTime = end
		s.ElapsedSeconds = elapsed.Seconds()
		s.Elapsed = elapsed.Round(time.Millisecond).String()
		s.ExitReason = reason
		s.ExitCode = reason.ExitCode()
		if reason == models.ExitFatal && cause != nil {
			s.FatalError = cause.Error()
			slog.Error("sweep aborted", slog.Any("error", cause))
		}
		code := s.ExitCode

		path, err := WriteRunLog(c.cfg.OutputDir, s)
		if err != nil {
			slog.Error("writing run log", slog.Any("error", err))
			if code == 0 {
				code = 1
			}
		} else {
			c.logPath = path
		}

		slog.Info("sweep finished",
			slog.String("exit_reason", string(reason)),
			slog.Int("exit_code", code),
			slog.String("run_log", c.logPath),
		)
		printSummary(c.out, s, c.logPath)
		c.exitCode = code
	})
	return c.exitCode
}

// listSubtreeFiles returns the .csv files of dir in directory listing order.
func listSubtreeFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory %q: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

func settingsSnapshot(cfg *config.Config) map[string]any {
	return map[string]any{
		"baseUrl":           cfg.BaseURL,
		"pageSize":          cfg.PageSize,
		"pageDelay":         cfg.PageDelay.String(),
		"categoryDelay":     cfg.CategoryDelay.String(),
		"timeout":           cfg.Timeout.String(),
		"maxAttempts":       cfg.MaxAttempts,
		"retryBackoff":      cfg.RetryBackoff.String(),
		"retryBackoffMax":   cfg.RetryBackoffMax.String(),
		"keyVersion":        cfg.KeyVersion,
		"inputDir":          cfg.InputDir,
		"outputDir":         cfg.OutputDir,
		"outputFormat":      cfg.OutputFormat,
		"skipParents":       cfg.SkipParents,
		"dedupCategory":     cfg.DedupCategory,
		"dedupSubtree":      cfg.DedupSubtree,
		"dedupMaster":       cfg.DedupMaster,
		"dedupeMaxSize":     cfg.DedupeMaxSize,
		"maxFilenameLength": cfg.MaxFilenameLength,
	}
}
